// Command peerlink-node runs a peerlink node.
//
// The node listens for peers, dials the configured bootstrap addresses and
// keeps redialing them, and prints every message it receives.
//
// Usage:
//
//	peerlink-node [flags]
//
// Flags:
//
//	-config string        Configuration file path (YAML)
//	-name string          Node name (required unless set in the config file)
//	-host string          Bind host (default all interfaces)
//	-port int             Listen port (default 2000, 0 picks a free port)
//	-family string        Address family: tcp, tcp4, tcp6 (default "tcp")
//	-connect string       Comma separated host:port list to dial at start
//	-no-accept            Do not listen for peers
//	-no-udp               Do not open UDP sockets
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-protocol-log string  Write protocol events to this .plog file
//	-interactive          Start the interactive console
//
// Examples:
//
//	# Start a node listening on the default port
//	peerlink-node -name alpha
//
//	# Start a second node and dial the first one
//	peerlink-node -name beta -port 2001 -connect 127.0.0.1:2000 -interactive
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/peerlink/peerlink-go/cmd/peerlink-node/interactive"
	"github.com/peerlink/peerlink-go/pkg/config"
	"github.com/peerlink/peerlink-go/pkg/connection"
	plog "github.com/peerlink/peerlink-go/pkg/log"
	"github.com/peerlink/peerlink-go/pkg/node"
	"github.com/peerlink/peerlink-go/pkg/queue"
)

type flags struct {
	ConfigFile  string
	Name        string
	Host        string
	Port        int
	Family      string
	Connect     string
	NoAccept    bool
	NoUDP       bool
	LogLevel    string
	ProtocolLog string
	Interactive bool
}

var opts flags

func init() {
	flag.StringVar(&opts.ConfigFile, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&opts.Name, "name", "", "Node name")
	flag.StringVar(&opts.Host, "host", "", "Bind host (default all interfaces)")
	flag.IntVar(&opts.Port, "port", config.DefaultPort, "Listen port (0 picks a free port)")
	flag.StringVar(&opts.Family, "family", config.DefaultFamily, "Address family: tcp, tcp4, tcp6")
	flag.StringVar(&opts.Connect, "connect", "", "Comma separated host:port list to dial at start")
	flag.BoolVar(&opts.NoAccept, "no-accept", false, "Do not listen for peers")
	flag.BoolVar(&opts.NoUDP, "no-udp", false, "Do not open UDP sockets")
	flag.StringVar(&opts.LogLevel, "log-level", config.DefaultLogLevel, "Log level: debug, info, warn, error")
	flag.StringVar(&opts.ProtocolLog, "protocol-log", "", "Write protocol events to this .plog file")
	flag.BoolVar(&opts.Interactive, "interactive", false, "Start the interactive console")
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "peerlink-node: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out io.Writer = os.Stderr
	var console *interactive.Console
	if opts.Interactive {
		if console, err = interactive.New(); err != nil {
			return err
		}
		out = console.Stdout()
	}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))

	nodeCfg, err := node.FromConfig(cfg)
	if err != nil {
		return err
	}
	nodeCfg.Logger = logger

	var protocolLoggers []plog.Logger
	if cfg.ProtocolLog != "" {
		fileLogger, err := plog.NewFileLogger(cfg.ProtocolLog)
		if err != nil {
			return fmt.Errorf("open protocol log: %w", err)
		}
		defer fileLogger.Close()
		protocolLoggers = append(protocolLoggers, fileLogger)
	}
	if level <= slog.LevelDebug {
		protocolLoggers = append(protocolLoggers, plog.NewSlogAdapter(logger))
	}
	if len(protocolLoggers) > 0 {
		nodeCfg.ProtocolLogger = plog.NewMultiLogger(protocolLoggers...)
	}

	n, err := node.New(nodeCfg)
	if err != nil {
		return err
	}
	if err := n.Start(ctx); err != nil {
		return err
	}
	logger.Info("peerlink node", "name", cfg.Name, "port", n.Port(), "network", cfg.NetworkVersion)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		printMessages(n.Subscribe(), out)
	}()

	for _, addr := range cfg.Bootstrap {
		m, err := newBootstrap(n, addr, logger)
		if err != nil {
			logger.Warn("skipping bootstrap address", "addr", addr, "error", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Run(ctx)
		}()
	}

	if console != nil {
		go console.Run(ctx, cancel, n)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("received signal", "signal", sig.String())
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	cancel()
	if err := n.Close(); err != nil {
		logger.Warn("close node", "error", err)
	}
	wg.Wait()
	return nil
}

// loadConfig reads the config file, if any, and applies flags that were
// set explicitly.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if opts.ConfigFile != "" {
		var err error
		if cfg, err = config.Load(opts.ConfigFile); err != nil {
			return nil, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "name":
			cfg.Name = opts.Name
		case "host":
			cfg.Host = opts.Host
		case "port":
			cfg.Port = opts.Port
		case "family":
			cfg.Family = opts.Family
		case "no-accept":
			cfg.P2PAccept = !opts.NoAccept
		case "no-udp":
			cfg.P2PUDPAccept = !opts.NoUDP
		case "log-level":
			cfg.LogLevel = opts.LogLevel
		case "protocol-log":
			cfg.ProtocolLog = opts.ProtocolLog
		case "connect":
			for _, addr := range strings.Split(opts.Connect, ",") {
				if addr = strings.TrimSpace(addr); addr != "" {
					cfg.Bootstrap = append(cfg.Bootstrap, addr)
				}
			}
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newBootstrap returns a manager that keeps n connected to addr.
func newBootstrap(n *node.Node, addr string, logger *slog.Logger) (*connection.Manager, error) {
	host, port, err := interactive.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	dial := func(ctx context.Context) (connection.Link, error) {
		p, err := n.Connect(ctx, host, port)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return connection.NewManager(dial, connection.ManagerConfig{
		Addr:   addr,
		Logger: logger,
		OnStateChange: func(old, now connection.State) {
			logger.Debug("bootstrap state", "addr", addr, "old", old.String(), "new", now.String())
		},
	}), nil
}

func printMessages(sub *queue.Subscription[node.Message], out io.Writer) {
	for msg := range sub.C() {
		via := "tcp"
		if msg.UDP {
			via = "udp"
		}
		fmt.Fprintf(out, "[MSG] %s (%s, %d bytes): %s\n", msg.Peer.Name, via, len(msg.Payload), printable(msg.Payload))
	}
	if d := sub.Dropped(); d > 0 {
		fmt.Fprintf(out, "[MSG] %d messages dropped\n", d)
	}
}

// printable returns payload as text, or a hex preview for binary data.
func printable(payload []byte) string {
	const preview = 64
	for _, b := range payload {
		if (b < 0x20 && b != '\n' && b != '\t') || b == 0x7f {
			if len(payload) > preview {
				return fmt.Sprintf("%x...", payload[:preview])
			}
			return fmt.Sprintf("%x", payload)
		}
	}
	return string(payload)
}
