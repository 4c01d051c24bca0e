package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/uuid"

	"github.com/devrelay/devrelay-go/pkg/agent"
	"github.com/devrelay/devrelay-go/pkg/robot"
	"github.com/devrelay/devrelay-go/pkg/wire"
)

// console is the local debugging prompt. It injects commands into the
// dispatcher exactly as if the controller had sent them, so the full
// accept pipeline (dedup, backpressure, queueing, deadlines) applies.
// Results travel the normal outbound path and show up in the event log.
type console struct {
	agent *agent.Agent
	rl    *readline.Instance
}

// newConsole creates the console handler.
func newConsole(a *agent.Agent) (*console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "agent> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("create readline: %w", err)
	}
	return &console{agent: a, rl: rl}, nil
}

// Run starts the command loop. cancel shuts the whole agent down when
// the operator quits.
func (c *console) Run(ctx context.Context, cancel context.CancelFunc) {
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

		case "state":
			fmt.Fprintf(c.rl.Stdout(), "connection: %s\n", c.agent.Manager().State())
			fmt.Fprintf(c.rl.Stdout(), "pending commands: %d\n", c.agent.Dispatcher().Correlator().Len())

		case "devices":
			c.cmdDevices()

		case "actions":
			for _, action := range robot.Actions() {
				fmt.Fprintln(c.rl.Stdout(), " ", action)
			}

		case "send", "s":
			c.cmdSend(args)

		case "quit", "exit", "q":
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(c.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (c *console) printHelp() {
	fmt.Fprintln(c.rl.Stdout(), `
Agent Console Commands:
  state                          - Show connection state and pending count
  devices                        - List devices with an active queue
  actions                        - List the known action vocabulary
  send <device> <action> [k=v..] - Inject a command (e.g. send d1 tap x=10 y=20)
  help                           - Show this help
  quit                           - Shut the agent down

  Injected commands run through the full dispatch pipeline; their results
  go to the controller and appear in the event log.`)
}

func (c *console) cmdDevices() {
	devices := c.agent.Dispatcher().Devices()
	if len(devices) == 0 {
		fmt.Fprintln(c.rl.Stdout(), "No active device queues")
		return
	}
	for _, id := range devices {
		fmt.Fprintln(c.rl.Stdout(), " ", id)
	}
}

// cmdSend builds a command frame from "device action k=v ..." and feeds
// it to the dispatcher.
func (c *console) cmdSend(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: send <device> <action> [key=value ...]")
		return
	}

	params := make(map[string]any)
	for _, arg := range args[2:] {
		key, value, found := strings.Cut(arg, "=")
		if !found {
			fmt.Fprintf(c.rl.Stdout(), "Invalid parameter %q, expected key=value\n", arg)
			return
		}
		params[key] = parseValue(value)
	}

	msg := &wire.Message{
		ID:       "console-" + uuid.NewString()[:8],
		Type:     wire.TypeCommand,
		DeviceID: args[0],
		Action:   args[1],
		Params:   params,
	}
	frame, err := wire.Encode(msg)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Encode failed: %v\n", err)
		return
	}

	c.agent.Dispatcher().HandleFrame(frame)
	fmt.Fprintf(c.rl.Stdout(), "Injected command %s (%s on %s)\n", msg.ID, msg.Action, msg.DeviceID)
}

// parseValue interprets numbers and booleans, leaving the rest as strings.
func parseValue(raw string) any {
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}
