// tftp3303 is the CLI entry point.
//
// One binary plays all three roles of the transfer system: the client that
// reads and writes files, the server that answers them on a well-known port,
// and the error simulator that relays between the two and injects faults.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (-role, -host, -port, ...). A client given no command falls back to
// the interactive menu.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/tftp3303/internal/client"
	"github.com/1ureka/tftp3303/internal/config"
	"github.com/1ureka/tftp3303/internal/control"
	"github.com/1ureka/tftp3303/internal/faultsim"
	"github.com/1ureka/tftp3303/internal/server"
	"github.com/1ureka/tftp3303/internal/storage"
	"github.com/1ureka/tftp3303/internal/transport"
	"github.com/1ureka/tftp3303/internal/util"
)

var version = "dev"

const statsInterval = 5 * time.Second

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := config.Default()

	// CLI flags.
	role := flag.String("role", "", "Role: client, server or errsim")
	flag.StringVar(&cfg.Host, "host", cfg.Host, "Server host (client, errsim) or listen address (server)")
	flag.IntVar(&cfg.ServerPort, "port", cfg.ServerPort, "Server well-known port")
	flag.IntVar(&cfg.RelayPort, "relayPort", cfg.RelayPort, "Error simulator port")
	flag.IntVar(&cfg.ControlPort, "controlPort", 0, "Error simulator control WebSocket port (0 picks one)")
	flag.BoolVar(&cfg.ControlLAN, "controlListen", false, "Accept controllers from other hosts (errsim only)")
	flag.BoolVar(&cfg.ViaRelay, "viaRelay", false, "Send requests through the error simulator (client only)")
	flag.StringVar(&cfg.Root, "root", cfg.Root, "Directory files are read from and written to")
	flag.StringVar(&cfg.Mode, "mode", cfg.Mode, "Transfer mode: octet or netascii (client only)")
	flag.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Wait before retransmitting")
	flag.IntVar(&cfg.MaxRetries, "retries", cfg.MaxRetries, "Consecutive timeouts before a transfer fails")
	faultMode := flag.String("fault", "", "Fault to arm at start: corrupt-opcode, corrupt-mode, drop, delay, duplicate, wrong-endpoint (errsim only)")
	faultOp := flag.String("op", "any", "Packet kind the fault fires on: read, write, data, ack or any")
	faultBlock := flag.Int("block", faultsim.AnyBlock, "Block number the fault fires on (data, ack); -1 for any")
	faultDelay := flag.Int("delay", 0, "Delay in milliseconds (delay, duplicate)")
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("tftp3303 v%s", version))
	pterm.Println()

	if *role == "" {
		// No -role flag → interactive mode.
		runInteractive(ctx, cfg)
		util.LogInfo("goodbye")
		return
	}

	cfg.Role = config.Role(*role)
	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	switch cfg.Role {
	case config.RoleServer:
		runServer(ctx, cfg)

	case config.RoleErrSim:
		var initial *faultsim.Fault
		if *faultMode != "" {
			spec := faultsim.Spec{Mode: *faultMode, Op: *faultOp, DelayMS: *faultDelay}
			if *faultBlock != faultsim.AnyBlock {
				spec.Block = faultBlock
			}
			f, err := spec.Fault()
			if err != nil {
				util.LogError("invalid fault: %v", err)
				os.Exit(1)
			}
			initial = &f
		}
		runErrSim(ctx, cfg, initial)

	case config.RoleClient:
		c := newClient(cfg)
		if flag.NArg() == 0 {
			runClientMenu(ctx, c, cfg.Mode)
			break
		}
		if err := runClientCommand(ctx, c, cfg.Mode, flag.Args()); err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
	}

	util.LogInfo("goodbye")
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

// runInteractive asks for the role and its parameters when no -role flag is
// provided.
func runInteractive(ctx context.Context, cfg config.Config) {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{roleClient, roleServer, roleErrSim}).
		WithDefaultText("Select a role").
		Show()

	pterm.Println()

	switch role {
	case roleServer:
		cfg.Role = config.RoleServer
		runServer(ctx, cfg)

	case roleErrSim:
		cfg.Role = config.RoleErrSim
		runErrSim(ctx, cfg, askFault())

	default:
		cfg.Role = config.RoleClient
		cfg.ViaRelay = askYesNo("Send requests through the error simulator?")
		cfg.Mode = askMode()
		runClientMenu(ctx, newClient(cfg), cfg.Mode)
	}
}

// runServer serves cfg.Root on the well-known port until ctx is cancelled.
func runServer(ctx context.Context, cfg config.Config) {
	store, err := storage.NewDiskStore(cfg.Root)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	srv := server.New(store, cfg.Session())
	util.StartStatsReporter(ctx, statsInterval)
	util.LogSuccess("serving %s on %s", store.Root, cfg.ServerAddr())

	err = srv.ListenAndServe(ctx, cfg.ServerAddr())
	srv.Wait()
	if err != nil {
		util.LogError("server stopped: %v", err)
		os.Exit(1)
	}
}

// runErrSim relays between clients and the server, arming initial if set,
// and exposes the control WebSocket for arming further faults.
func runErrSim(ctx context.Context, cfg config.Config, initial *faultsim.Fault) {
	target, err := transport.ResolveEndpoint(cfg.ServerAddr())
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	tr, err := transport.Bind(ctx, fmt.Sprintf(":%d", cfg.RelayPort))
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	defer tr.Close()

	relay := faultsim.NewRelay(tr, target)
	if initial != nil {
		if _, err := relay.Arm(*initial); err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
	}

	pin := control.GeneratePIN(6)
	port, err := control.NewServer(pin, relay).Start(ctx, cfg.ControlAddr())
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	pterm.DefaultBox.WithTitle("Error simulator").Println(fmt.Sprintf(
		"Relay:    %s\nServer:   %s\nControl:  ws://127.0.0.1:%d/ws\nPIN:      %s",
		tr.LocalAddr(), target, port, pin))
	pterm.Println()

	util.StartStatsReporter(ctx, statsInterval)

	if err := relay.Run(ctx); err != nil {
		util.LogError("relay stopped: %v", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

func newClient(cfg config.Config) *client.Client {
	store, err := storage.NewDiskStore(cfg.Root)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	target, err := transport.ResolveEndpoint(cfg.Target())
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	return client.New(store, target, cfg.Session())
}

// runClientCommand runs one "get <remote> [local]" or "put <local> [remote]".
func runClientCommand(ctx context.Context, c *client.Client, mode string, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return fmt.Errorf("usage: get <remote> [local] | put <local> [remote]")
	}
	src, dst := args[1], args[1]
	if len(args) == 3 {
		dst = args[2]
	}

	start := time.Now()
	var err error
	switch args[0] {
	case "get":
		err = c.Read(ctx, src, dst, mode)
	case "put":
		err = c.Write(ctx, src, dst, mode)
	default:
		return fmt.Errorf("unknown command %q: must be 'get' or 'put'", args[0])
	}
	if err != nil {
		return err
	}
	util.LogSuccess("%s %s -> %s done in %s", args[0], src, dst, time.Since(start).Round(time.Millisecond))
	return nil
}

// runClientMenu repeats the write/read menu until the user quits or ctx is
// cancelled. A failed transfer is reported and the menu shown again.
func runClientMenu(ctx context.Context, c *client.Client, mode string) {
	for ctx.Err() == nil {
		choice, _ := pterm.DefaultInteractiveSelect.
			WithOptions([]string{menuWrite, menuRead, menuQuit}).
			WithDefaultText("Select an action").
			Show()
		pterm.Println()

		var args []string
		switch choice {
		case menuWrite:
			args = []string{"put", askText("Local file to write to the server")}
		case menuRead:
			args = []string{"get", askText("File name to read from the server")}
		default:
			return
		}

		if err := runClientCommand(ctx, c, mode, args); err != nil {
			util.LogError("%v", err)
		}
		pterm.Println()
	}
}

// ---------------------------------------------------------------------------
// Prompts
// ---------------------------------------------------------------------------

const (
	roleClient = "Client: read and write files"
	roleServer = "Server: serve files on the well-known port"
	roleErrSim = "Error simulator: relay and inject faults"

	menuWrite = "Write file to server"
	menuRead  = "Read file from server"
	menuQuit  = "Quit"

	faultNone = "Normal start (no fault)"
	opAny     = "Any"
)

// askFault walks through the fault menu. It returns nil for a plain relay.
func askFault() *faultsim.Fault {
	for {
		options := []string{faultNone}
		for m := faultsim.CorruptOpcode; m <= faultsim.WrongEndpoint; m++ {
			options = append(options, m.String())
		}
		choice, _ := pterm.DefaultInteractiveSelect.
			WithOptions(options).
			WithDefaultText("Select the fault to inject").
			Show()
		pterm.Println()
		if choice == faultNone {
			return nil
		}

		spec := faultsim.Spec{Mode: choice}

		ops := []string{"RRQ", "WRQ", "DATA", "ACK", opAny}
		if choice == faultsim.CorruptMode.String() {
			ops = []string{"RRQ", "WRQ", opAny}
		}
		op, _ := pterm.DefaultInteractiveSelect.
			WithOptions(ops).
			WithDefaultText("Which packet should it fire on?").
			Show()
		pterm.Println()
		spec.Op = op

		if op == "DATA" || op == "ACK" {
			block := askNumber("Block number (empty for any)", 0, 0xFFFF, true)
			if block >= 0 {
				spec.Block = &block
			}
		}
		if choice == faultsim.Delay.String() || choice == faultsim.Duplicate.String() {
			spec.DelayMS = askNumber("Delay in milliseconds", 1, 1<<30, false)
		}

		f, err := spec.Fault()
		if err == nil {
			return &f
		}
		util.LogWarning("invalid fault: %v", err)
		pterm.Println()
	}
}

func askMode() string {
	mode, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"octet", "netascii"}).
		WithDefaultText("Transfer mode").
		Show()
	pterm.Println()
	return mode
}

func askYesNo(prompt string) bool {
	ok, _ := pterm.DefaultInteractiveConfirm.
		WithDefaultText(prompt).
		Show()
	pterm.Println()
	return ok
}

// askText prompts until a non-empty answer is entered.
func askText(prompt string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()
		pterm.Println()
		if raw != "" {
			return raw
		}
		util.LogWarning("input must not be empty")
	}
}

// askNumber prompts for a number in [lo, hi] until a valid one is entered.
// With optional set, an empty answer returns -1.
func askNumber(prompt string, lo, hi int, optional bool) int {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()
		pterm.Println()

		if raw == "" && optional {
			return -1
		}
		n, err := strconv.Atoi(raw)
		if err == nil && n >= lo && n <= hi {
			return n
		}
		util.LogWarning("invalid number: must be %d ~ %d", lo, hi)
	}
}
