package control

import (
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/1ureka/tftp3303/internal/faultsim"
	"github.com/1ureka/tftp3303/internal/protocol"
	"github.com/1ureka/tftp3303/internal/transport"
)

// Compile-time interface check.
var _ Injector = (*faultsim.Relay)(nil)

// fakeInjector lets tests push fired events without running a transfer.
type fakeInjector struct {
	events chan faultsim.Event
}

func (f *fakeInjector) Arm(faultsim.Fault) (string, error) { return "fake", nil }
func (f *fakeInjector) Disarm()                             {}
func (f *fakeInjector) Armed() (faultsim.Fault, bool)       { return faultsim.Fault{}, false }
func (f *fakeInjector) Events() <-chan faultsim.Event       { return f.events }

func startControl(t *testing.T, inj Injector) (url, pin string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	pin = GeneratePIN(6)
	port, err := NewServer(pin, inj).Start(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return fmt.Sprintf("ws://127.0.0.1:%d/ws?pin=%s", port, pin), pin
}

func newRelay(t *testing.T) *faultsim.Relay {
	t.Helper()
	tr, err := transport.Bind(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return faultsim.NewRelay(tr, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 69})
}

func dial(t *testing.T, url string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, url)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestArmDisarmStatus(t *testing.T) {
	relay := newRelay(t)
	url, _ := startControl(t, relay)
	c := dial(t, url)

	block := 3
	id, err := c.Arm(faultsim.Spec{Mode: "drop", Op: "data", Block: &block})
	if err != nil {
		t.Fatalf("Arm failed: %v", err)
	}
	if id == "" {
		t.Error("Arm returned an empty ID")
	}

	f, ok := relay.Armed()
	want := faultsim.Fault{Mode: faultsim.Drop, Op: protocol.OpData, Block: 3}
	if !ok || f != want {
		t.Fatalf("relay armed %v (%v), want %v", f, ok, want)
	}

	spec, err := c.Status()
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if spec == nil || spec.Mode != "drop" || spec.Op != "data" || spec.Block == nil || *spec.Block != 3 {
		t.Errorf("Status = %+v", spec)
	}

	if err := c.Disarm(); err != nil {
		t.Fatalf("Disarm failed: %v", err)
	}
	if _, ok := relay.Armed(); ok {
		t.Error("fault still armed after Disarm")
	}
	if spec, err := c.Status(); err != nil || spec != nil {
		t.Errorf("Status after Disarm = %+v, %v", spec, err)
	}
}

func TestArmInvalidFault(t *testing.T) {
	relay := newRelay(t)
	url, _ := startControl(t, relay)
	c := dial(t, url)

	testCases := []faultsim.Spec{
		{Mode: "explode"},
		{Mode: "delay"},
		{Mode: "corrupt-mode", Op: "ack"},
		{Mode: "drop", Op: "error"},
	}
	for _, spec := range testCases {
		if _, err := c.Arm(spec); err == nil {
			t.Errorf("Arm(%+v) succeeded", spec)
		}
	}
	if _, ok := relay.Armed(); ok {
		t.Error("an invalid fault was armed")
	}

	// The connection survives rejected commands.
	if _, err := c.Arm(faultsim.Spec{Mode: "duplicate", DelayMS: 10}); err != nil {
		t.Fatalf("Arm after rejections failed: %v", err)
	}
}

func TestArmHelper(t *testing.T) {
	relay := newRelay(t)
	url, _ := startControl(t, relay)

	id, err := Arm(context.Background(), url, faultsim.Spec{Mode: "wrong-tid", Op: "ack"})
	if err != nil {
		t.Fatalf("Arm failed: %v", err)
	}
	if id == "" {
		t.Error("empty fault ID")
	}
	if f, ok := relay.Armed(); !ok || f.Mode != faultsim.WrongEndpoint {
		t.Errorf("relay armed %v (%v)", f, ok)
	}
}

func TestWrongPIN(t *testing.T) {
	url, pin := startControl(t, newRelay(t))
	bad := strings.Replace(url, "pin="+pin, "pin=x"+pin, 1)

	if _, err := Dial(context.Background(), bad); err == nil {
		t.Fatal("Dial with a wrong PIN succeeded")
	}
}

func TestSecondControllerRejected(t *testing.T) {
	url, _ := startControl(t, newRelay(t))
	first := dial(t, url)
	if _, err := first.Status(); err != nil {
		t.Fatalf("Status failed: %v", err)
	}

	second := dial(t, url)
	if _, err := second.Status(); err == nil {
		t.Error("second controller was served")
	}
	if _, err := first.Status(); err != nil {
		t.Errorf("first controller dropped: %v", err)
	}
}

func TestFiredEventsArePushed(t *testing.T) {
	inj := &fakeInjector{events: make(chan faultsim.Event, 1)}
	url, _ := startControl(t, inj)
	c := dial(t, url)
	// A round trip guarantees the server has registered the controller.
	if _, err := c.Status(); err != nil {
		t.Fatalf("Status failed: %v", err)
	}

	inj.events <- faultsim.Event{
		ID:     "abc",
		Fault:  faultsim.Fault{Mode: faultsim.WrongEndpoint, Op: protocol.OpAck, Block: 1},
		Packet: "ACK #1",
		Reply:  "ERROR 5 (unknown transfer ID): unknown transfer ID",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg, err := c.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if msg.ID != "abc" || msg.Fault == nil || msg.Fault.Mode != "wrong-endpoint" {
		t.Errorf("fired message = %+v", msg)
	}
	if !strings.HasPrefix(msg.Text, "ACK #1; reply: ERROR 5") {
		t.Errorf("fired text = %q", msg.Text)
	}
}

func TestNextCancelled(t *testing.T) {
	url, _ := startControl(t, &fakeInjector{events: make(chan faultsim.Event)})
	c := dial(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Next(ctx); err != context.DeadlineExceeded {
		t.Errorf("Next = %v, want deadline exceeded", err)
	}
}

func TestGeneratePIN(t *testing.T) {
	pin := GeneratePIN(6)
	if len(pin) != 6 {
		t.Fatalf("len(pin) = %d", len(pin))
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			t.Fatalf("non-digit in PIN %q", pin)
		}
	}
}
