package control

import (
	"context"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/1ureka/tftp3303/internal/faultsim"
)

// Client is a connected controller.
type Client struct {
	conn *websocket.Conn
}

// Dial connects to a control server. The URL should include the PIN as a
// query parameter, e.g.:
//
//	ws://127.0.0.1:7070/ws?pin=1234
func Dial(ctx context.Context, url string) (*Client, error) {
	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to control server: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close disconnects from the server.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Arm arms spec on the relay and returns its fault ID.
func (c *Client) Arm(spec faultsim.Spec) (string, error) {
	reply, err := c.request(Message{Type: MsgTypeArm, Fault: &spec})
	if err != nil {
		return "", err
	}
	if reply.Type != MsgTypeArmed {
		return "", fmt.Errorf("unexpected reply %q", reply.Type)
	}
	return reply.ID, nil
}

// Disarm clears whatever fault is armed.
func (c *Client) Disarm() error {
	_, err := c.request(Message{Type: MsgTypeDisarm})
	return err
}

// Status returns the armed fault, or nil if none is armed.
func (c *Client) Status() (*faultsim.Spec, error) {
	reply, err := c.request(Message{Type: MsgTypeStatus})
	if err != nil {
		return nil, err
	}
	if reply.Type == MsgTypeArmed {
		return reply.Fault, nil
	}
	return nil, nil
}

// Next blocks until the relay reports a fired fault.
func (c *Client) Next(ctx context.Context) (Message, error) {
	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return Message{}, ctx.Err()
			}
			return Message{}, err
		}
		if msg.Type == MsgTypeFired {
			return msg, nil
		}
	}
}

// request sends one command and waits for its reply. Fired reports that
// arrive in between are skipped.
func (c *Client) request(msg Message) (Message, error) {
	if err := c.conn.WriteJSON(msg); err != nil {
		return Message{}, err
	}
	for {
		var reply Message
		if err := c.conn.ReadJSON(&reply); err != nil {
			return Message{}, err
		}
		switch reply.Type {
		case MsgTypeFired:
			continue
		case MsgTypeError:
			return Message{}, errors.New(reply.Text)
		}
		return reply, nil
	}
}

// Arm connects to url, arms spec and disconnects. It returns the fault ID.
func Arm(ctx context.Context, url string, spec faultsim.Spec) (string, error) {
	c, err := Dial(ctx, url)
	if err != nil {
		return "", err
	}
	defer c.Close()
	return c.Arm(spec)
}
