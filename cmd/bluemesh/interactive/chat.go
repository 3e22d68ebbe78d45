// Package interactive provides the interactive command-line interface
// for the bluemesh node.
package interactive

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/bluemesh-protocol/bluemesh-go/pkg/service"
	"github.com/bluemesh-protocol/bluemesh-go/pkg/wire"
)

// Chat handles interactive mode for bluemesh.
type Chat struct {
	svc *service.Service
	rl  *readline.Instance
}

// New creates a new interactive chat handler and registers it for
// message delivery.
func New(svc *service.Service) (*Chat, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "mesh> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	c := &Chat{
		svc: svc,
		rl:  rl,
	}

	svc.OnMessage(c.handleMessage)
	return c, nil
}

// Stdout returns a writer that properly coordinates with the readline
// input. Use this for log output to avoid interfering with the prompt.
func (c *Chat) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Stderr returns a writer that properly coordinates with the readline
// input.
func (c *Chat) Stderr() io.Writer {
	return c.rl.Stderr()
}

// handleMessage prints delivered mesh messages above the prompt.
func (c *Chat) handleMessage(m *wire.Message, from string) {
	fmt.Fprintf(c.rl.Stdout(), "%s <%s> %s\n",
		time.Now().Format("15:04:05"), m.DisplayName(), m.Content)
}

// Run starts the interactive command loop.
func (c *Chat) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()

		case "send", "s":
			c.cmdSend(strings.TrimSpace(strings.TrimPrefix(input, parts[0])))

		case "peers", "list", "ls":
			c.cmdPeers()

		case "links", "l":
			c.cmdLinks()

		case "scan":
			c.cmdScan(ctx)

		case "connect":
			c.cmdConnect(ctx, args)

		case "disconnect":
			c.cmdDisconnect(args)

		case "recent", "r":
			c.cmdRecent()

		case "status":
			c.cmdStatus()

		case "stats":
			c.cmdStats()

		case "quit", "exit", "q":
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(c.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (c *Chat) printHelp() {
	out := c.rl.Stdout()
	fmt.Fprintln(out, "\nCommands:")
	fmt.Fprintln(out, "  send <text>        - Send a message to the mesh")
	fmt.Fprintln(out, "  peers              - List discovered peers")
	fmt.Fprintln(out, "  links              - List active connections")
	fmt.Fprintln(out, "  scan               - Run one discovery cycle now")
	fmt.Fprintln(out, "  connect <addr>     - Connect to a peer by address")
	fmt.Fprintln(out, "  disconnect <addr>  - Drop the connection to a peer")
	fmt.Fprintln(out, "  recent             - Show the recent message buffer")
	fmt.Fprintln(out, "  status             - Show node status")
	fmt.Fprintln(out, "  stats              - Show engine counters")
	fmt.Fprintln(out, "  quit               - Exit")
	fmt.Fprintln(out)
}

func (c *Chat) cmdSend(text string) {
	out := c.rl.Stdout()
	if text == "" {
		fmt.Fprintln(out, "Usage: send <text>")
		return
	}

	m, err := c.svc.Send(text)
	if err != nil {
		if m != nil {
			// Partial fan-out failure; the message still went somewhere.
			fmt.Fprintf(out, "Sent %s with errors: %v\n", m.ID, err)
			return
		}
		fmt.Fprintf(out, "Send failed: %v\n", err)
		return
	}
	fmt.Fprintf(out, "Sent %s (ttl %d)\n", m.ID, m.TTL)
}

func (c *Chat) cmdPeers() {
	out := c.rl.Stdout()
	peers := c.svc.Peers()
	if len(peers) == 0 {
		fmt.Fprintln(out, "No peers discovered")
		return
	}

	fmt.Fprintf(out, "%-20s %-18s %6s %10s %s\n", "ADDRESS", "NAME", "RSSI", "LAST SEEN", "CONFIRMED")
	for _, p := range peers {
		confirmed := ""
		if p.ServiceConfirmed {
			confirmed = "yes"
		}
		fmt.Fprintf(out, "%-20s %-18s %6d %10s %s\n",
			p.Address, p.Name, p.RSSI, ago(p.LastSeen), confirmed)
	}
}

func (c *Chat) cmdLinks() {
	out := c.rl.Stdout()
	links := c.svc.Links()
	if len(links) == 0 {
		fmt.Fprintln(out, "No active links")
		return
	}

	fmt.Fprintf(out, "%-20s %-18s %-10s %8s %8s %s\n", "ADDRESS", "NAME", "STATE", "SENT", "RECV", "LAST ACTIVITY")
	for _, l := range links {
		fmt.Fprintf(out, "%-20s %-18s %-10s %8d %8d %s\n",
			l.Address, l.Name, l.State, l.Sent, l.Received, ago(l.LastActivity))
	}
}

func (c *Chat) cmdScan(ctx context.Context) {
	out := c.rl.Stdout()
	fmt.Fprintln(out, "Scanning...")
	if err := c.svc.ScanNow(ctx); err != nil {
		fmt.Fprintf(out, "Scan failed: %v\n", err)
		return
	}
	c.cmdPeers()
}

func (c *Chat) cmdConnect(ctx context.Context, args []string) {
	out := c.rl.Stdout()
	if len(args) != 1 {
		fmt.Fprintln(out, "Usage: connect <addr>")
		return
	}

	if err := c.svc.Connect(ctx, args[0]); err != nil {
		fmt.Fprintf(out, "Connect failed: %v\n", err)
		return
	}
	fmt.Fprintf(out, "Connected to %s\n", args[0])
}

func (c *Chat) cmdDisconnect(args []string) {
	out := c.rl.Stdout()
	if len(args) != 1 {
		fmt.Fprintln(out, "Usage: disconnect <addr>")
		return
	}

	if err := c.svc.Disconnect(args[0]); err != nil {
		fmt.Fprintf(out, "Disconnect failed: %v\n", err)
		return
	}
	fmt.Fprintf(out, "Disconnected from %s\n", args[0])
}

func (c *Chat) cmdRecent() {
	out := c.rl.Stdout()
	recent := c.svc.Recent()
	if len(recent) == 0 {
		fmt.Fprintln(out, "No recent messages")
		return
	}

	for _, r := range recent {
		origin := "sent"
		if r.From != "" {
			origin = "via " + r.From
		}
		fmt.Fprintf(out, "%s <%s> %s (%s)\n",
			r.ReceivedAt.Format("15:04:05"), r.Message.DisplayName(), r.Message.Content, origin)
	}
}

func (c *Chat) cmdStatus() {
	out := c.rl.Stdout()
	stats := c.svc.Stats()

	fmt.Fprintln(out, "Node status:")
	fmt.Fprintf(out, "  Uptime:      %s\n", stats.Uptime.Round(time.Second))
	fmt.Fprintf(out, "  Links:       %d\n", stats.Pool.ActiveLinks)
	fmt.Fprintf(out, "  Known peers: %d\n", stats.Discovery.KnownPeers)
	fmt.Fprintf(out, "  Scan every:  %s\n", stats.Discovery.Interval)
	fmt.Fprintf(out, "  Recent msgs: %d\n", stats.Recent)
}

func (c *Chat) cmdStats() {
	out := c.rl.Stdout()
	stats := c.svc.Stats()

	fmt.Fprintln(out, "Router:")
	fmt.Fprintf(out, "  Originated:     %d\n", stats.Router.Originated)
	fmt.Fprintf(out, "  Ingested:       %d\n", stats.Router.Ingested)
	fmt.Fprintf(out, "  Delivered:      %d\n", stats.Router.Delivered)
	fmt.Fprintf(out, "  Forwarded:      %d\n", stats.Router.ForwardCopies)
	fmt.Fprintf(out, "  Dup drops:      %d\n", stats.Router.DroppedDuplicate)
	fmt.Fprintf(out, "  Own drops:      %d\n", stats.Router.DroppedOwn)
	fmt.Fprintf(out, "  TTL exhausted:  %d\n", stats.Router.TTLExhausted)
	fmt.Fprintf(out, "  Dedup entries:  %d\n", stats.Router.DedupEntries)

	fmt.Fprintln(out, "Pool:")
	fmt.Fprintf(out, "  Active:         %d\n", stats.Pool.ActiveLinks)
	fmt.Fprintf(out, "  Admitted:       %d\n", stats.Pool.Admitted)
	fmt.Fprintf(out, "  At capacity:    %d\n", stats.Pool.RejectedCapacity)
	fmt.Fprintf(out, "  Blacklisted:    %d (%d addrs cooling down)\n",
		stats.Pool.RejectedBlacklist, stats.Pool.BlacklistedAddrs)
	fmt.Fprintf(out, "  Connect fails:  %d\n", stats.Pool.ConnectFailures)

	fmt.Fprintln(out, "Rate limiter:")
	fmt.Fprintf(out, "  Allowed:        %d\n", stats.RateLimit.Allowed)
	for scope, n := range stats.RateLimit.RejectedByScope {
		fmt.Fprintf(out, "  Rejected %-6s %d\n", string(scope)+":", n)
	}

	fmt.Fprintln(out, "Discovery:")
	fmt.Fprintf(out, "  Cycles:         %d\n", stats.Discovery.Cycles)
	fmt.Fprintf(out, "  Found:          %d\n", stats.Discovery.PeersFound)
	fmt.Fprintf(out, "  Lost:           %d\n", stats.Discovery.PeersLost)
	fmt.Fprintf(out, "  Scan errors:    %d\n", stats.Discovery.ScanErrors)
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return time.Since(t).Round(time.Second).String() + " ago"
}
