// faultctl arms faults on a running error simulator.
//
// It connects to the simulator's control WebSocket, applies one command and
// exits, or with -watch keeps printing faults as they fire.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/tftp3303/internal/control"
	"github.com/1ureka/tftp3303/internal/faultsim"
	"github.com/1ureka/tftp3303/internal/util"
)

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rawURL := flag.String("url", "", "Control URL printed by the error simulator (e.g. ws://127.0.0.1:7070/ws)")
	pin := flag.String("pin", "", "PIN printed by the error simulator")
	mode := flag.String("fault", "", "Fault to arm: corrupt-opcode, corrupt-mode, drop, delay, duplicate, wrong-endpoint")
	op := flag.String("op", "any", "Packet kind the fault fires on: read, write, data, ack or any")
	block := flag.Int("block", faultsim.AnyBlock, "Block number the fault fires on (data, ack); -1 for any")
	delay := flag.Int("delay", 0, "Delay in milliseconds (delay, duplicate)")
	disarm := flag.Bool("disarm", false, "Clear the armed fault")
	watch := flag.Bool("watch", false, "Print faults as they fire until interrupted")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	wsURL, err := controlURL(*rawURL, *pin)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	c, err := control.Dial(ctx, wsURL)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	defer c.Close()

	switch {
	case *disarm:
		if err := c.Disarm(); err != nil {
			util.LogError("disarm failed: %v", err)
			os.Exit(1)
		}
		util.LogSuccess("disarmed")

	case *mode != "":
		spec := faultsim.Spec{Mode: *mode, Op: *op, DelayMS: *delay}
		if *block != faultsim.AnyBlock {
			spec.Block = block
		}
		id, err := c.Arm(spec)
		if err != nil {
			util.LogError("arm failed: %v", err)
			os.Exit(1)
		}
		util.LogSuccess("armed %s [%s]", describe(spec), id)

	default:
		spec, err := c.Status()
		if err != nil {
			util.LogError("status failed: %v", err)
			os.Exit(1)
		}
		if spec == nil {
			util.LogInfo("no fault armed")
		} else {
			util.LogInfo("armed: %s", describe(*spec))
		}
	}

	if !*watch {
		return
	}

	pterm.Info.Println("watching for fired faults, Ctrl+C to stop")
	for {
		msg, err := c.Next(ctx)
		if errors.Is(err, context.Canceled) {
			return
		}
		if err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
		what := "fault"
		if msg.Fault != nil {
			what = describe(*msg.Fault)
		}
		util.LogWarning("fired [%s] %s: %s", msg.ID, what, msg.Text)
	}
}

// controlURL validates raw and adds the PIN as a query parameter.
func controlURL(raw, pin string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid control URL: %q", raw)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		u.Scheme = "ws"
	}
	if u.Path == "" {
		u.Path = "/ws"
	}
	if pin != "" {
		q := u.Query()
		q.Set("pin", pin)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func describe(spec faultsim.Spec) string {
	if f, err := spec.Fault(); err == nil {
		return f.String()
	}
	return spec.Mode
}
