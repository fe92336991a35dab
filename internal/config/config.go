// Package config holds the CLI configuration types.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/1ureka/tftp3303/internal/protocol"
	"github.com/1ureka/tftp3303/internal/session"
)

// Role represents the process's chosen role.
type Role string

const (
	RoleClient Role = "client"
	RoleServer Role = "server"
	RoleErrSim Role = "errsim"
)

// Defaults used when a flag or prompt is left empty.
const (
	DefaultHost       = "127.0.0.1"
	DefaultServerPort = 6969
	DefaultRelayPort  = 6970
	DefaultRoot       = "tftp_files"
)

// Config stores all parameters gathered from flags or the interactive prompts.
type Config struct {
	Role        Role
	Host        string        // Client, ErrSim: where the server runs; Server: address to listen on
	ServerPort  int           // the server's well-known port
	RelayPort   int           // ErrSim: port the relay listens on
	ControlPort int           // ErrSim: control WebSocket port, 0 picks one
	ControlLAN  bool          // ErrSim: accept controllers from other hosts
	ViaRelay    bool          // Client: send requests to the relay instead of the server
	Root        string        // directory files are read from and written to
	Mode        string        // Client: transfer mode
	Timeout     time.Duration // wait before retransmitting
	MaxRetries  int           // consecutive timeouts before a transfer fails
	Debug       bool
}

// Default returns a Config with every field but Role filled in.
func Default() Config {
	return Config{
		Host:       DefaultHost,
		ServerPort: DefaultServerPort,
		RelayPort:  DefaultRelayPort,
		Root:       DefaultRoot,
		Mode:       protocol.ModeOctet,
		Timeout:    session.DefaultTimeout,
		MaxRetries: session.DefaultMaxRetries,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch c.Role {
	case RoleClient, RoleServer, RoleErrSim:
	case "":
		return errors.New("missing role")
	default:
		return fmt.Errorf("invalid role %q: must be 'client', 'server' or 'errsim'", c.Role)
	}

	if c.Host == "" {
		return errors.New("missing host")
	}
	if err := checkPort("server port", c.ServerPort); err != nil {
		return err
	}
	if c.Role == RoleErrSim || c.ViaRelay {
		if err := checkPort("relay port", c.RelayPort); err != nil {
			return err
		}
		if c.RelayPort == c.ServerPort {
			return errors.New("relay port must differ from the server port")
		}
	}
	if c.ControlPort < 0 || c.ControlPort > 65535 {
		return fmt.Errorf("invalid control port %d (must be 0~65535)", c.ControlPort)
	}
	if c.Role != RoleErrSim && c.Root == "" {
		return errors.New("missing storage root")
	}
	if c.Role == RoleClient && !session.SupportedMode(c.Mode) {
		return fmt.Errorf("unsupported transfer mode %q", c.Mode)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("invalid timeout %s", c.Timeout)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("invalid retry count %d (must be at least 1)", c.MaxRetries)
	}
	return nil
}

func checkPort(name string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid %s %d (must be 1~65535)", name, port)
	}
	return nil
}

// Session is the per-transfer retry policy.
func (c Config) Session() session.Config {
	return session.Config{Timeout: c.Timeout, MaxRetries: c.MaxRetries}
}

// ServerAddr is the server's well-known endpoint.
func (c Config) ServerAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.ServerPort))
}

// RelayAddr is the endpoint the relay listens on.
func (c Config) RelayAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.RelayPort))
}

// ControlAddr is the address the control WebSocket listens on.
func (c Config) ControlAddr() string {
	if c.ControlLAN {
		return fmt.Sprintf(":%d", c.ControlPort)
	}
	return fmt.Sprintf("127.0.0.1:%d", c.ControlPort)
}

// Target is where a client sends its requests.
func (c Config) Target() string {
	if c.ViaRelay {
		return c.RelayAddr()
	}
	return c.ServerAddr()
}
