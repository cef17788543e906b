// Package interactive provides the interactive console of peerlink-node.
package interactive

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/peerlink/peerlink-go/pkg/liveness"
	"github.com/peerlink/peerlink-go/pkg/node"
	"github.com/peerlink/peerlink-go/pkg/peer"
	"github.com/peerlink/peerlink-go/pkg/traffic"
	"github.com/peerlink/peerlink-go/pkg/wire"
)

// Node is the part of *node.Node the console drives.
type Node interface {
	Header() *wire.Header
	Peers() []*peer.Peer
	FindByName(name string) (*peer.Peer, bool)
	Connect(ctx context.Context, host string, port int) (*peer.Peer, error)
	Send(ctx context.Context, payload []byte, opts node.SendOptions) (*peer.Peer, error)
	Ping(ctx context.Context, p *peer.Peer, udp bool) bool
	IsReachable(ctx context.Context, p *peer.Peer) (liveness.Result, bool)
	RemoveConnection(p *peer.Peer, reason string) bool
	Traffic() traffic.Snapshot
}

// Console reads commands from the terminal and runs them against a node.
type Console struct {
	rl   *readline.Instance
	out  io.Writer
	node Node
}

// New creates a console. Logs should go to Stdout so they do not
// clobber the prompt.
func New() (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "peerlink> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{rl: rl, out: rl.Stdout()}, nil
}

// Stdout returns a writer that coordinates with the prompt.
func (c *Console) Stdout() io.Writer {
	return c.out
}

// Run reads commands until quit, EOF or ctx ends.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc, n Node) {
	defer c.rl.Close()
	c.node = n

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}

		if !c.exec(ctx, line) {
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}
	}
}

// exec runs one command line. It returns false on quit.
func (c *Console) exec(ctx context.Context, line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return true
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()
	case "status", "s":
		c.cmdStatus()
	case "peers", "p":
		c.cmdPeers()
	case "connect", "c":
		c.cmdConnect(ctx, args)
	case "send":
		c.cmdSend(ctx, args, node.SendOptions{})
	case "sendudp":
		c.cmdSend(ctx, args, node.SendOptions{UDP: true})
	case "ping":
		c.cmdPing(ctx, args)
	case "probe":
		c.cmdProbe(ctx, args)
	case "kick":
		c.cmdKick(args)
	case "quit", "exit", "q":
		return false
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
peerlink Commands:
  Node:
    status                  - Show node header and traffic
    peers                   - List registered peers

  Connections:
    connect <host:port>     - Dial a node
    kick <name> [reason]    - Disconnect a peer
    ping <name> [udp]       - Ping a peer
    probe <name>            - Check TCP/UDP reachability of a peer

  Messages:
    send <name|*> <text>    - Send text over TCP (* picks a random peer)
    sendudp <name|*> <text> - Send text, over UDP when possible

  General:
    help                    - Show this help
    quit                    - Exit`)
}

func (c *Console) cmdStatus() {
	h := c.node.Header()
	t := c.node.Traffic()
	fmt.Fprintf(c.out, "Name:     %s\n", h.Name)
	fmt.Fprintf(c.out, "Network:  %s (client %s)\n", h.NetworkVersion, h.ClientVersion)
	fmt.Fprintf(c.out, "Port:     %d (tcp=%v udp=%v)\n", h.P2PPort, h.P2PAccept, h.P2PUDPAccept)
	fmt.Fprintf(c.out, "Started:  %s\n", time.Unix(h.StartTime, 0).Format(time.RFC3339))
	fmt.Fprintf(c.out, "Peers:    %d\n", len(c.node.Peers()))
	fmt.Fprintf(c.out, "Traffic:  up %d B, down %d B\n", t.Up, t.Down)
}

func (c *Console) cmdPeers() {
	peers := c.node.Peers()
	if len(peers) == 0 {
		fmt.Fprintln(c.out, "No peers")
		return
	}
	fmt.Fprintf(c.out, "%-4s %-20s %-22s %-6s %-4s %-4s %s\n", "ID", "NAME", "ADDR", "ROLE", "TCP", "UDP", "AGE")
	for _, p := range peers {
		fmt.Fprintf(c.out, "%-4d %-20s %-22s %-6s %-4v %-4v %s\n",
			p.ID, p.Name, p.HostPort(), p.Role, p.TCPAccept(), p.UDPAccept(), p.Age().Truncate(time.Second))
	}
}

func (c *Console) cmdConnect(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: connect <host:port>")
		return
	}
	host, port, err := SplitHostPort(args[0])
	if err != nil {
		fmt.Fprintf(c.out, "Invalid address: %v\n", err)
		return
	}
	p, err := c.node.Connect(ctx, host, port)
	if err != nil {
		fmt.Fprintf(c.out, "Connect failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Connected to %s\n", p)
}

func (c *Console) cmdSend(ctx context.Context, args []string, opts node.SendOptions) {
	if len(args) < 2 {
		fmt.Fprintln(c.out, "Usage: send <name|*> <text>")
		return
	}
	if args[0] != "*" {
		p, ok := c.lookup(args[0])
		if !ok {
			return
		}
		opts.Peer = p
	}
	p, err := c.node.Send(ctx, []byte(strings.Join(args[1:], " ")), opts)
	if err != nil {
		fmt.Fprintf(c.out, "Send failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Sent to %s\n", p.Name)
}

func (c *Console) cmdPing(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "Usage: ping <name> [udp]")
		return
	}
	p, ok := c.lookup(args[0])
	if !ok {
		return
	}
	udp := len(args) > 1 && strings.EqualFold(args[1], "udp")

	start := time.Now()
	if c.node.Ping(ctx, p, udp) {
		fmt.Fprintf(c.out, "Pong from %s in %s\n", p.Name, time.Since(start).Round(time.Microsecond))
	} else {
		fmt.Fprintf(c.out, "No pong from %s\n", p.Name)
	}
}

func (c *Console) cmdProbe(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: probe <name>")
		return
	}
	p, ok := c.lookup(args[0])
	if !ok {
		return
	}
	res, ok := c.node.IsReachable(ctx, p)
	if !ok {
		fmt.Fprintf(c.out, "%s is no longer registered\n", p.Name)
		return
	}
	fmt.Fprintf(c.out, "%s: tcp=%v udp=%v\n", p.Name, res.TCP, res.UDP)
}

func (c *Console) cmdKick(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "Usage: kick <name> [reason]")
		return
	}
	p, ok := c.lookup(args[0])
	if !ok {
		return
	}
	reason := "Kicked from console."
	if len(args) > 1 {
		reason = strings.Join(args[1:], " ")
	}
	if c.node.RemoveConnection(p, reason) {
		fmt.Fprintf(c.out, "Removed %s\n", p.Name)
	} else {
		fmt.Fprintf(c.out, "%s was already gone\n", p.Name)
	}
}

func (c *Console) lookup(name string) (*peer.Peer, bool) {
	p, ok := c.node.FindByName(name)
	if !ok {
		fmt.Fprintf(c.out, "Unknown peer: %s\n", name)
	}
	return p, ok
}

// SplitHostPort parses host:port with a numeric port.
func SplitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("bad port %q", portStr)
	}
	return host, port, nil
}
