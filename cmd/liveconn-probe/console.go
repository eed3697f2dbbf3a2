package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/liveconn/liveconn-go/pkg/transport"
)

// Console is the interactive probe shell.
type Console struct {
	rl   *readline.Instance
	out  io.Writer
	conn *transport.Connection
}

// NewConsole creates a console on the terminal.
func NewConsole() (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "probe> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("status"),
			readline.PcItem("stats"),
			readline.PcItem("send"),
			readline.PcItem("pause"),
			readline.PcItem("resume"),
			readline.PcItem("help"),
			readline.PcItem("quit"),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{rl: rl, out: rl.Stdout()}, nil
}

// Stderr returns a writer that coordinates with the prompt.
func (c *Console) Stderr() io.Writer {
	return c.rl.Stderr()
}

// Attach sets the connection the commands operate on.
func (c *Console) Attach(conn *transport.Connection) {
	c.conn = conn
}

// Close releases the terminal.
func (c *Console) Close() error {
	return c.rl.Close()
}

// Run reads commands until quit, EOF or ctx is done.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}

		if quit := c.Execute(line); quit {
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}
	}
}

// Execute runs one command line and reports whether the console should exit.
func (c *Console) Execute(line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return false
	}

	cmd, rest, _ := strings.Cut(input, " ")
	switch strings.ToLower(cmd) {
	case "help", "?":
		c.printHelp()
	case "status", "s":
		c.cmdStatus()
	case "stats":
		c.cmdStats()
	case "send":
		c.cmdSend(strings.TrimSpace(rest))
	case "pause":
		c.conn.PauseHeartbeats(true)
		fmt.Fprintln(c.out, "Heartbeats paused")
	case "resume":
		c.conn.PauseHeartbeats(false)
		fmt.Fprintln(c.out, "Heartbeats resumed")
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
liveconn Probe Commands:
  status          - Show connection and heartbeat checker state
  stats           - Show frame and heartbeat counters
  send <text>     - Send a data message
  pause           - Stop sending heartbeats
  resume          - Resume sending heartbeats
  help            - Show this help
  quit            - Close the connection and exit`)
}

func (c *Console) cmdStatus() {
	stats := c.conn.Stats()
	wd := stats.Watchdog

	fmt.Fprintf(c.out, "Connection: %s (%s)\n", stats.ID, stats.State)
	fmt.Fprintf(c.out, "  Remote:         %s\n", c.conn.RemoteAddr())
	fmt.Fprintf(c.out, "  Checker:        %s\n", wd.State)
	if !wd.LastHeartbeat.IsZero() {
		fmt.Fprintf(c.out, "  Last heartbeat: %s ago\n", time.Since(wd.LastHeartbeat).Round(time.Millisecond))
	}
	fmt.Fprintf(c.out, "  Sending:        %s\n", senderState(stats.Sender))
}

func (c *Console) cmdStats() {
	stats := c.conn.Stats()

	fmt.Fprintf(c.out, "Frames:      %d in, %d out\n", stats.FramesReceived, stats.FramesSent)
	fmt.Fprintf(c.out, "Heartbeats:  %d in, %d out (%d failed)\n",
		stats.HeartbeatsReceived, stats.Sender.Sent, stats.Sender.Failed)
	fmt.Fprintf(c.out, "Checks:      %d (%d failures)\n", stats.Watchdog.Checks, stats.Watchdog.Failures)
	fmt.Fprintf(c.out, "Since check: %d frames\n", stats.Watchdog.FramesSinceCheck)
}

func (c *Console) cmdSend(text string) {
	if text == "" {
		fmt.Fprintln(c.out, "Usage: send <text>")
		return
	}
	id, err := c.conn.Send([]byte(text))
	if err != nil {
		fmt.Fprintf(c.out, "Send failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Sent message %d (%d bytes)\n", id, len(text))
}

func senderState(s transport.SenderStats) string {
	switch {
	case s.Paused:
		return "paused"
	case s.LastSent.IsZero():
		return "idle"
	default:
		return fmt.Sprintf("seq %d, last %s ago", s.CurrentSeq, time.Since(s.LastSent).Round(time.Millisecond))
	}
}
