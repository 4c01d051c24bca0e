// Command devrelay-testctl is a minimal controller for manual agent
// testing.
//
// It serves the session REST endpoint and a WebSocket endpoint on one
// port, accepts a connecting agent, answers its health probes, and gives
// the operator a prompt to issue commands and watch correlated results.
//
// Usage:
//
//	devrelay-testctl [flags]
//
// Flags:
//
//	-listen string   Listen address (default ":8003")
//
// Example session:
//
//	devrelay-testctl -listen :8003 &
//	devrelay-agent -endpoint http://localhost:8003
//	ctl> send d1 tap x=10 y=20
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	stdlog "log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"
	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/devrelay/devrelay-go/pkg/wire"
)

func main() {
	listen := flag.String("listen", ":8003", "Listen address")
	flag.Parse()

	ctl := newController()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", ctl.handleCreateSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", ctl.handleDeleteSession)
	mux.HandleFunc("/ws", ctl.handleWebSocket)

	server := &http.Server{Addr: *listen, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			stdlog.Fatalf("Server failed: %v", err)
		}
	}()

	fmt.Printf("devrelay-testctl listening on %s\n", *listen)

	ctl.runPrompt()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

// controller is the in-process test controller state.
type controller struct {
	mu       sync.Mutex
	tokens   map[string]string // token -> session id
	sessions map[string]bool   // session id -> active
	conn     *websocket.Conn
	connCtx  context.Context
}

func newController() *controller {
	return &controller{
		tokens:   make(map[string]string),
		sessions: make(map[string]bool),
	}
}

// handleCreateSession issues a session whose WebSocket URL points back
// at this server.
func (c *controller) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID  string `json:"device_id"`
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "session-" + uuid.NewString()
	}
	token := uuid.NewString()

	c.mu.Lock()
	c.tokens[token] = sessionID
	c.sessions[sessionID] = true
	c.mu.Unlock()

	fmt.Printf("\n[session] issued %s for %s\n", sessionID, req.DeviceID)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "success",
		"data": map[string]any{
			"session_id":           sessionID,
			"websocket_url":        "ws://" + r.Host + "/ws",
			"authentication_token": token,
			"expires_in":           3600,
		},
	})
}

func (c *controller) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	c.mu.Lock()
	active := c.sessions[id]
	delete(c.sessions, id)
	c.mu.Unlock()

	if !active {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	fmt.Printf("\n[session] deleted %s\n", id)
	w.WriteHeader(http.StatusOK)
}

// handleWebSocket accepts the agent connection after checking the token
// and pumps its frames.
func (c *controller) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")

	c.mu.Lock()
	_, valid := c.tokens[token]
	c.mu.Unlock()
	if !valid {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		fmt.Printf("\n[ws] accept failed: %v\n", err)
		return
	}

	ctx := r.Context()
	c.mu.Lock()
	c.conn = conn
	c.connCtx = ctx
	c.mu.Unlock()

	fmt.Printf("\n[ws] agent connected from %s\n", r.RemoteAddr)
	c.readPump(ctx, conn)

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	fmt.Println("\n[ws] agent disconnected")
}

// readPump prints agent traffic and answers health probes.
func (c *controller) readPump(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		msg, err := wire.Decode(data)
		if err != nil {
			fmt.Printf("\n[ws] undecodable frame: %v\n", err)
			continue
		}

		switch msg.Type {
		case wire.TypeResult:
			c.printResult(msg)

		case wire.TypeStatus:
			pretty, _ := json.MarshalIndent(msg.Data, "  ", "  ")
			fmt.Printf("\n[status] %s\n", pretty)

		case wire.TypePing:
			frame, encErr := wire.Encode(wire.NewPong(msg.ID))
			if encErr == nil {
				_ = conn.Write(ctx, websocket.MessageText, frame)
			}

		case wire.TypePong:
			fmt.Printf("\n[pong] %s\n", msg.ID)
		}
	}
}

func (c *controller) printResult(msg *wire.Message) {
	if msg.Success != nil && *msg.Success {
		pretty, _ := json.Marshal(msg.Data)
		fmt.Printf("\n[result] %s ok %s\n", msg.ID, pretty)
		return
	}
	if msg.Error != nil {
		fmt.Printf("\n[result] %s failed %s: %s\n", msg.ID, msg.Error.Code, msg.Error.Message)
		return
	}
	fmt.Printf("\n[result] %s (malformed)\n", msg.ID)
}

// send transmits one frame to the connected agent.
func (c *controller) send(msg *wire.Message) error {
	c.mu.Lock()
	conn := c.conn
	ctx := c.connCtx
	c.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("no agent connected")
	}

	frame, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, frame)
}

// runPrompt drives the operator command loop until quit or EOF.
func (c *controller) runPrompt() {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "ctl> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		stdlog.Fatalf("Failed to create readline: %v", err)
	}
	defer rl.Close()

	printHelp()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		switch strings.ToLower(parts[0]) {
		case "help", "?":
			printHelp()

		case "send", "s":
			c.cmdSend(parts[1:], "")

		case "resend":
			// Repeat a command id to exercise the agent's dedup replay.
			if len(parts) < 4 {
				fmt.Println("Usage: resend <id> <device> <action> [key=value ...]")
				continue
			}
			c.cmdSend(parts[2:], parts[1])

		case "ping":
			id := "ctl-ping-" + uuid.NewString()[:8]
			if err := c.send(wire.NewPing(id)); err != nil {
				fmt.Printf("Send failed: %v\n", err)
			}

		case "quit", "exit", "q":
			return

		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", parts[0])
		}
	}
}

func (c *controller) cmdSend(args []string, id string) {
	if len(args) < 2 {
		fmt.Println("Usage: send <device> <action> [key=value ...]")
		return
	}

	params := make(map[string]any)
	for _, arg := range args[2:] {
		key, value, found := strings.Cut(arg, "=")
		if !found {
			fmt.Printf("Invalid parameter %q, expected key=value\n", arg)
			return
		}
		params[key] = parseValue(value)
	}

	if id == "" {
		id = "cmd-" + uuid.NewString()[:8]
	}
	msg := &wire.Message{
		ID:       id,
		Type:     wire.TypeCommand,
		DeviceID: args[0],
		Action:   args[1],
		Params:   params,
	}
	if err := c.send(msg); err != nil {
		fmt.Printf("Send failed: %v\n", err)
		return
	}
	fmt.Printf("Sent %s (%s on %s)\n", msg.ID, msg.Action, msg.DeviceID)
}

func printHelp() {
	fmt.Println(`
Test Controller Commands:
  send <device> <action> [k=v..]        - Send a command to the agent
  resend <id> <device> <action> [k=v..] - Send with a fixed id (dedup testing)
  ping                                  - Send a health probe to the agent
  help                                  - Show this help
  quit                                  - Exit`)
}

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
