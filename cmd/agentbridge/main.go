// Command agentbridge runs the protocol bridge on the process's own stdio:
// the host UI on one end, agent CLI subprocesses on the other. All
// diagnostics go to stderr; stdout carries only wire traffic.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"agentbridge/backend/claudecli"
	"agentbridge/config"
	"agentbridge/mcptool"
	"agentbridge/mcptool/builtin"
	"agentbridge/session"
	"agentbridge/transport"
)

const version = "1.0.0"

type CLI struct {
	Serve   ServeCmd   `cmd:"" default:"1" help:"Serve the bridge protocol on stdio."`
	Version VersionCmd `cmd:"" help:"Print the version."`
}

type ServeCmd struct {
	Backend    string        `help:"Agent CLI command to drive." placeholder:"CMD"`
	BackendArg []string      `name:"backend-arg" help:"Extra argument for the agent CLI (repeatable)."`
	PTY        bool          `help:"Run the agent CLI under a pseudo-terminal."`
	Timeout    time.Duration `help:"Pending-callback timeout (0 keeps the configured default)."`
	TrafficLog string        `help:"Mirror all wire traffic to this NDJSON file." type:"path"`
	Level      string        `help:"Log level (debug, info, warn, error)."`
}

type VersionCmd struct{}

func (VersionCmd) Run() error {
	fmt.Println("agentbridge " + version)
	return nil
}

func (c *ServeCmd) Run(cfg *config.Config) error {
	// CLI flags override file/env configuration.
	if c.Backend != "" {
		cfg.Backend.Command = c.Backend
	}
	if len(c.BackendArg) > 0 {
		cfg.Backend.Args = c.BackendArg
	}
	if c.PTY {
		cfg.Backend.PTY = true
	}
	if c.Timeout > 0 {
		cfg.CallbackTimeout = c.Timeout
	}
	if c.TrafficLog != "" {
		cfg.TrafficLog = c.TrafficLog
	}
	if c.Level != "" {
		cfg.Level = c.Level
	}

	log, err := newLogger(cfg.Level)
	if err != nil {
		return err
	}
	defer log.Sync()

	opts := []transport.Option{transport.WithLogger(log.Named("transport"))}
	if cfg.TrafficLog != "" {
		f, err := os.OpenFile(cfg.TrafficLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open traffic log: %w", err)
		}
		defer f.Close()
		opts = append(opts, transport.WithTrafficLog(transport.NewFileTrafficLog(f)))
	}
	t := transport.New(os.Stdout, os.Stdin, opts...)

	tools := mcptool.NewRegistry(mcptool.WithLogger(log.Named("mcptool")))
	builtin.RegisterAll(tools)
	reg := session.NewRegistry(t,
		session.WithLogger(log.Named("session")),
		session.WithCallbackTimeout(cfg.CallbackTimeout),
		session.WithTools(tools),
	)
	reg.RegisterBackend(claudecli.New(cfg.Backend.Command,
		claudecli.WithArgs(cfg.Backend.Args...),
		claudecli.WithPTY(cfg.Backend.PTY),
		claudecli.WithLogger(log.Named("claudecli")),
	))

	t.OnMessage(reg.HandleMessage)
	t.Start()
	log.Info("bridge serving on stdio",
		zap.String("backend", cfg.Backend.Command))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-t.Done():
		log.Info("stdin closed, shutting down")
	case s := <-sig:
		log.Info("signal received, shutting down", zap.String("signal", s.String()))
	}

	reg.Close()
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
		cfg = config.Default()
	}

	var c CLI
	ctx := kong.Parse(&c,
		kong.Name("agentbridge"),
		kong.Description("Protocol bridge between a desktop UI and coding-agent CLIs."),
		kong.UsageOnError(),
		kong.Bind(cfg),
	)
	if err := ctx.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
