package control

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/1ureka/tftp3303/internal/faultsim"
	"github.com/1ureka/tftp3303/internal/util"
)

var log = util.Component("control")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Injector is the part of *faultsim.Relay the control plane drives.
type Injector interface {
	Arm(f faultsim.Fault) (string, error)
	Disarm()
	Armed() (faultsim.Fault, bool)
	Events() <-chan faultsim.Event
}

// Server accepts one controller at a time and applies its commands to an
// Injector. Fired faults are pushed to the connected controller.
type Server struct {
	pin      string
	relay    Injector
	listener net.Listener

	mu     sync.Mutex
	active *controller
}

// controller is one connected WebSocket. gorilla/websocket allows a single
// concurrent writer, so writes are serialised.
type controller struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (c *controller) send(msg Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteJSON(msg)
}

// NewServer creates a control server with the given PIN for authentication.
func NewServer(pin string, relay Injector) *Server {
	return &Server{pin: pin, relay: relay}
}

// Start begins listening on addr (":0" picks a port) and returns the
// assigned port. The server shuts down when ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) (int, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("failed to start control server: %w", err)
	}
	s.listener = listener
	port := listener.Addr().(*net.TCPAddr).Port

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	go func() {
		_ = http.Serve(listener, mux)
	}()
	go s.pumpEvents(ctx)
	go func() {
		<-ctx.Done()
		s.Close()
	}()

	return port, nil
}

// Close shuts down the listener and disconnects the controller.
func (s *Server) Close() {
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		s.active.conn.Close()
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	pin := r.URL.Query().Get("pin")
	if pin != s.pin {
		http.Error(w, "Invalid PIN", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	// Only one controller at a time.
	c := &controller{conn: conn}
	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "already connected"))
		conn.Close()
		return
	}
	s.active = c
	s.mu.Unlock()

	log.Info("controller connected from %s", r.RemoteAddr)
	defer func() {
		s.mu.Lock()
		s.active = nil
		s.mu.Unlock()
		conn.Close()
		log.Info("controller %s disconnected", r.RemoteAddr)
	}()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if err := c.send(s.handle(msg)); err != nil {
			return
		}
	}
}

// handle applies one command and builds its reply.
func (s *Server) handle(msg Message) Message {
	switch msg.Type {
	case MsgTypeArm:
		if msg.Fault == nil {
			return errorMessage(errors.New("arm without a fault"))
		}
		f, err := msg.Fault.Fault()
		if err != nil {
			return errorMessage(err)
		}
		id, err := s.relay.Arm(f)
		if err != nil {
			return errorMessage(err)
		}
		spec := faultsim.SpecOf(f)
		return Message{Type: MsgTypeArmed, ID: id, Fault: &spec}

	case MsgTypeDisarm:
		s.relay.Disarm()
		return Message{Type: MsgTypeDisarmed}

	case MsgTypeStatus:
		f, ok := s.relay.Armed()
		if !ok {
			return Message{Type: MsgTypeDisarmed}
		}
		spec := faultsim.SpecOf(f)
		return Message{Type: MsgTypeArmed, Fault: &spec}
	}
	return errorMessage(fmt.Errorf("unknown message type %q", msg.Type))
}

func errorMessage(err error) Message {
	return Message{Type: MsgTypeError, Text: err.Error()}
}

// pumpEvents forwards fired faults to the connected controller, if any.
func (s *Server) pumpEvents(ctx context.Context) {
	for {
		select {
		case ev := <-s.relay.Events():
			spec := faultsim.SpecOf(ev.Fault)
			text := ev.Packet
			if ev.Reply != "" {
				text += "; reply: " + ev.Reply
			}
			msg := Message{Type: MsgTypeFired, ID: ev.ID, Fault: &spec, Text: text}

			s.mu.Lock()
			c := s.active
			s.mu.Unlock()
			if c == nil {
				continue
			}
			if err := c.send(msg); err != nil {
				log.Debug("cannot report fired fault %s: %v", ev.ID, err)
			}

		case <-ctx.Done():
			return
		}
	}
}

// GeneratePIN returns a random numeric PIN of the specified length.
func GeneratePIN(length int) string {
	digits := make([]byte, length)
	for i := range digits {
		n, _ := rand.Int(rand.Reader, big.NewInt(10))
		digits[i] = byte('0') + byte(n.Int64())
	}
	return string(digits)
}
