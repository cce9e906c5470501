// Package cmd wires up the CLI flags and dispatches to the core modes.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"rexd/config"
	"rexd/internal/core"
	ncerr "rexd/internal/errors"
	"rexd/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X rexd/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Output streams, swapped out by tests.
var (
	stdout io.Writer = os.Stdout //nolint:gochecknoglobals
	stderr io.Writer = os.Stderr //nolint:gochecknoglobals
)

// flagValues holds raw flag values.  They are copied onto the Config
// only for flags the user actually set, so a flag's default never
// overrides the config file or environment.
type flagValues struct {
	configPath    string
	frameSize     int
	readTimeout   float64
	searchPath    string
	grace         float64
	spawnFailures int
	stats         bool
	connect       bool
	commands      []string
	dialTimeout   float64
	retries       int
	tunnel        string
	sshKey        string
	sshPassword   bool
	sshAgent      bool
	strictHostKey bool
	knownHosts    string
	verbose       int
	dryRun        bool
}

// Execute parses args and runs the selected rexd mode.
func Execute(ctx context.Context, args []string) error {
	var fv flagValues
	fs := flag.NewFlagSet("rexd", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&fv.configPath, "config", "", "Read settings from a YAML file")

	// ── server ───────────────────────────────────────────────────
	fs.IntVar(&fv.frameSize, "frame-size", config.DefaultFrameSize, "Largest command frame accepted, in bytes")
	fs.Float64Var(&fv.readTimeout, "read-timeout", config.DefaultReadTimeout.Seconds(), "Seconds allowed to read one frame (0 = no limit)")
	fs.StringVar(&fv.searchPath, "search-path", "", "Directories searched for commands (default $PATH)")
	fs.Float64Var(&fv.grace, "grace", config.DefaultGracePeriod.Seconds(), "Seconds to wait for running commands on shutdown")
	fs.IntVar(&fv.spawnFailures, "spawn-failures", config.DefaultSpawnFailures, "Consecutive spawn failures that pause spawning (0 = never)")
	fs.BoolVar(&fv.stats, "stats", false, "Print counters as JSON on shutdown")

	// ── client ───────────────────────────────────────────────────
	fs.BoolVarP(&fv.connect, "connect", "C", false, "Connect to a server and send commands")
	fs.StringArrayVarP(&fv.commands, "exec", "e", nil, "Command to send (repeatable; default: one per stdin line)")
	fs.Float64VarP(&fv.dialTimeout, "timeout", "w", config.DefaultDialTimeout.Seconds(), "Connect timeout in seconds")
	fs.IntVar(&fv.retries, "retries", config.DefaultDialRetries, "Extra connect attempts when the server refuses")

	// ── SSH tunnel ───────────────────────────────────────────────
	fs.StringVarP(&fv.tunnel, "tunnel", "T", "", "Reach the server through SSH jump host [user@]host[:port]")
	fs.StringVar(&fv.sshKey, "ssh-key", "", "SSH private key file")
	fs.BoolVar(&fv.sshPassword, "ssh-password", false, "Prompt for SSH password")
	fs.BoolVar(&fv.sshAgent, "ssh-agent", false, "Use SSH agent")
	fs.BoolVar(&fv.strictHostKey, "strict-hostkey", false, "Verify SSH host keys")
	fs.StringVar(&fv.knownHosts, "known-hosts", "", "Custom known_hosts path")

	// ── output ───────────────────────────────────────────────────
	fs.CountVarP(&fv.verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVar(&fv.dryRun, "dry-run", false, "Validate and print the effective configuration, then exit")

	var showVersion, showHelp bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil
		}
		return err
	}
	if showHelp {
		printUsage(fs)
		return nil
	}
	if showVersion {
		fmt.Fprintf(stdout, "rexd %s\n", version)
		return nil
	}

	// ── layered configuration ────────────────────────────────────
	cfg := config.Default()
	if fv.configPath != "" {
		if err := config.LoadFile(fv.configPath, cfg); err != nil {
			return err
		}
	}
	config.LoadFromEnv(cfg)
	applyFlags(fs, &fv, cfg)

	if err := parsePositional(cfg, fs.Args()); err != nil {
		return err
	}
	if err := cfg.ApplyTunnelSpec(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if fv.dryRun {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "# rexd %s, %s mode\n%s", version, modeName(cfg), out)
		return nil
	}

	// ── build and run ────────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	mode, err := core.Build(cfg, logger)
	if err != nil {
		return err
	}
	return mode.Run(ctx)
}

// ── helpers ──────────────────────────────────────────────────────────

// applyFlags copies every flag set on the command line onto cfg.
func applyFlags(fs *flag.FlagSet, fv *flagValues, cfg *config.Config) {
	apply := map[string]func(){
		"frame-size":     func() { cfg.FrameSize = fv.frameSize },
		"read-timeout":   func() { cfg.ReadTimeout = seconds(fv.readTimeout) },
		"search-path":    func() { cfg.SearchPath = fv.searchPath },
		"grace":          func() { cfg.GracePeriod = seconds(fv.grace) },
		"spawn-failures": func() { cfg.SpawnFailures = fv.spawnFailures },
		"stats":          func() { cfg.Stats = fv.stats },
		"connect":        func() { cfg.Connect = fv.connect },
		"exec":           func() { cfg.Commands = fv.commands },
		"timeout":        func() { cfg.Timeout = seconds(fv.dialTimeout) },
		"retries":        func() { cfg.Retries = fv.retries },
		"tunnel":         func() { cfg.TunnelSpec = fv.tunnel },
		"ssh-key":        func() { cfg.SSHKeyPath = fv.sshKey },
		"ssh-password":   func() { cfg.SSHPassword = fv.sshPassword },
		"ssh-agent":      func() { cfg.UseSSHAgent = fv.sshAgent },
		"strict-hostkey": func() { cfg.StrictHostKey = fv.strictHostKey },
		"known-hosts":    func() { cfg.KnownHostsPath = fv.knownHosts },
		"verbose":        func() { cfg.Verbose = fv.verbose },
		"dry-run":        func() { cfg.DryRun = fv.dryRun },
	}
	fs.Visit(func(f *flag.Flag) {
		if fn, ok := apply[f.Name]; ok {
			fn()
		}
	})
}

// parsePositional reads "<address> <port>".  Both may instead come
// from the config file or environment, in which case no positional
// arguments are needed.
func parsePositional(cfg *config.Config, remaining []string) error {
	switch len(remaining) {
	case 0:
		return nil
	case 2:
		port, err := config.ParsePort(remaining[1])
		if err != nil {
			return &ncerr.ConfigError{Field: "port", Message: err.Error(), Hint: usageLine}
		}
		cfg.Address = remaining[0]
		cfg.Port = port
		return nil
	default:
		return &ncerr.ConfigError{
			Field:   "address",
			Message: fmt.Sprintf("expected an address and a port, got %d argument(s)", len(remaining)),
			Hint:    usageLine,
		}
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func modeName(cfg *config.Config) string {
	if cfg.Connect {
		return "connect"
	}
	return "serve"
}

const usageLine = "usage: rexd [options] <ip address> <port>"

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(stderr, `rexd %s: remote command execution server

Clients send length-prefixed command lines; each command runs as a
child process whose standard output streams back to the client.

Usage:
  rexd [options] <ip address> <port>          Serve
  rexd -C [options] <host> <port>             Send commands

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(stderr, `
Examples:
  rexd 0.0.0.0 7000                           Serve on every IPv4 address
  rexd :: 7000                                Serve on every IPv6 address
  rexd -C -e 'uname -a' host.example.com 7000 Run one command
  echo uptime | rexd -C host.example.com 7000 Commands from stdin
  rexd -C -T admin@bastion -e id 10.0.0.5 7000  Through a jump host
`)
}
