// Package main provides the operator console: it connects to the engine's
// WebSocket server, prints state changes and sends step commands.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/heyglassy/flyspace/internal/domain"
	"github.com/heyglassy/flyspace/internal/transport/ws"
)

// Client represents a WebSocket client.
type Client struct {
	conn *websocket.Conn
	done chan struct{}

	writeMu sync.Mutex
	seq     int

	stateMu   sync.Mutex
	state     domain.Snapshot
	cachePath string
}

// NewClient connects to the server and restores the cached state, if any.
func NewClient(addr, cachePath string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:      conn,
		done:      make(chan struct{}),
		state:     domain.NewSnapshot(),
		cachePath: cachePath,
	}
	if snap, err := loadCache(cachePath); err != nil {
		log.Printf("WARN: Ignoring state cache: %v", err)
	} else {
		c.state = snap
	}
	return c, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	close(c.done)
	return c.conn.Close()
}

// Send writes one message.
func (c *Client) Send(msg interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

func (c *Client) base(typ string) ws.BaseMessage {
	c.writeMu.Lock()
	c.seq++
	id := fmt.Sprintf("req_%d", c.seq)
	c.writeMu.Unlock()
	return ws.BaseMessage{Type: typ, Ts: time.Now().UnixMilli(), RequestID: id}
}

// Subscribe subscribes to a topic.
func (c *Client) Subscribe(topic string) error {
	return c.Send(ws.SubscribeMessage{BaseMessage: c.base(ws.TypeSubscribe), Topic: topic})
}

// Unsubscribe unsubscribes from a topic.
func (c *Client) Unsubscribe(topic string) error {
	return c.Send(ws.SubscribeMessage{BaseMessage: c.base(ws.TypeUnsubscribe), Topic: topic})
}

// Execute sends the message for an operator command.
func (c *Client) Execute(cmd command) error {
	switch cmd.name {
	case "trigger":
		return c.Send(ws.TriggerMessage{BaseMessage: c.base(ws.TypeTrigger), File: cmd.args[0], ExportName: cmd.args[1]})
	case "eval":
		return c.Send(ws.NewEvalMessage{BaseMessage: c.base(ws.TypeNewEval), Prompt: cmd.args[0]})
	case "next":
		return c.Send(c.base(ws.TypeCompleteStep))
	case "frames":
		if cmd.args[0] == "on" {
			return c.Subscribe(ws.TopicFrames)
		}
		return c.Unsubscribe(ws.TopicFrames)
	case "state":
		c.stateMu.Lock()
		defer c.stateMu.Unlock()
		printState(os.Stdout, c.state)
		return nil
	}
	return fmt.Errorf("unknown command: %s", cmd.name)
}

// ReadMessages reads and prints messages from the server.
func (c *Client) ReadMessages() {
	for {
		select {
		case <-c.done:
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					log.Printf("Read error: %v", err)
				}
				return
			}
			c.handle(data)
		}
	}
}

func (c *Client) handle(data []byte) {
	var base ws.BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		log.Printf("Unmarshal error: %v", err)
		return
	}

	switch base.Type {
	case ws.TypeState:
		var msg ws.StateMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Unmarshal error: %v", err)
			return
		}
		c.stateMu.Lock()
		c.state = domain.Merge(c.state, msg.State)
		snap := c.state
		c.stateMu.Unlock()
		if err := saveCache(c.cachePath, snap); err != nil {
			log.Printf("WARN: Failed to write state cache: %v", err)
		}
		fmt.Printf("\n[state] %s\n", summarize(snap))
	case ws.TypeFrame:
		var msg ws.FrameMessage
		if err := json.Unmarshal(data, &msg); err == nil {
			fmt.Printf("\n[frame] #%d %d bytes\n", msg.Frame.SessionID, len(msg.Frame.Data))
		}
	case ws.TypeAck:
		var msg ws.AckMessage
		if err := json.Unmarshal(data, &msg); err == nil {
			fmt.Printf("\n[ack] %s %s\n", msg.Command, msg.RequestID)
		}
	case ws.TypeError:
		var msg ws.ErrorMessage
		if err := json.Unmarshal(data, &msg); err == nil {
			fmt.Printf("\n[error] %s: %s\n", msg.Code, msg.Message)
		}
	default:
		fmt.Printf("\n[%s] %s\n", base.Type, data)
	}
}

type command struct {
	name string
	args []string
}

var errUsage = errors.New("commands: /trigger <file> <export>, /eval <prompt>, /next, /frames on|off, /state, /quit")

// parseCommand parses one input line. Plain text is a replay prompt.
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{name: "eval", args: []string{line}}, nil
	}

	fields := strings.Fields(line)
	name := strings.TrimPrefix(fields[0], "/")
	switch name {
	case "trigger":
		if len(fields) != 3 {
			return command{}, errUsage
		}
		return command{name: name, args: fields[1:]}, nil
	case "eval":
		prompt := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))
		if prompt == "" {
			return command{}, errUsage
		}
		return command{name: name, args: []string{prompt}}, nil
	case "next", "state", "quit":
		return command{name: name}, nil
	case "frames":
		if len(fields) != 2 || (fields[1] != "on" && fields[1] != "off") {
			return command{}, errUsage
		}
		return command{name: name, args: fields[1:]}, nil
	}
	return command{}, errUsage
}

// summarize describes the current run, step and eval in one line.
func summarize(s domain.Snapshot) string {
	cur := s.Cursor()
	if cur.RunID == "" {
		return "no runs"
	}
	var b strings.Builder
	if run, ok := s.Runs[cur.RunID]; ok {
		fmt.Fprintf(&b, "run %s (%s) %s", run.ID, run.File, run.Status)
	}
	if step, ok := s.Steps[cur.StepID]; ok && step.RunID == cur.RunID {
		fmt.Fprintf(&b, " | %s step %s %s", step.Type, step.ID, step.Status)
	}
	if ev, ok := s.Evals[cur.EvalID]; ok && ev.StepID == cur.StepID {
		fmt.Fprintf(&b, " | eval %q %s", ev.Prompt, ev.Status)
	}
	return b.String()
}

func printState(w io.Writer, s domain.Snapshot) {
	cur := s.Cursor()
	if cur.RunID == "" {
		fmt.Fprintln(w, "no runs")
		return
	}
	fmt.Fprintln(w, summarize(s))
	for _, step := range s.StepsForRun(cur.RunID) {
		if step.Type.IsLLM() {
			fmt.Fprintf(w, "  %s %s %s\n", step.ID, step.Type, step.Status)
		} else {
			fmt.Fprintf(w, "  %s goto %s %s\n", step.ID, step.URL, step.Status)
		}
		for _, ev := range s.EvalsForStep(step.ID) {
			result := ""
			if ev.Result != nil {
				result = *ev.Result
			}
			fmt.Fprintf(w, "    %s %q %s %s\n", ev.ID, ev.Prompt, ev.Status, result)
		}
	}
}

func loadCache(path string) (domain.Snapshot, error) {
	if path == "" {
		return domain.NewSnapshot(), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return domain.NewSnapshot(), nil
	}
	if err != nil {
		return domain.Snapshot{}, err
	}
	return domain.Rehydrate(data)
}

func saveCache(path string, s domain.Snapshot) error {
	if path == "" {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "flyspace", "state.json")
}

func main() {
	addr := flag.String("addr", "ws://localhost:1919/ws", "WebSocket server address")
	cache := flag.String("cache", defaultCachePath(), "state cache file (empty disables)")
	flag.Parse()

	log.SetFlags(log.Ltime)

	fmt.Printf("Connecting to %s...\n", *addr)

	client, err := NewClient(*addr, *cache)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	if err := client.Subscribe(ws.TopicState); err != nil {
		log.Fatalf("Subscribe failed: %v", err)
	}

	fmt.Println("Connected.")
	fmt.Println(errUsage.Error())
	fmt.Println("Plain text replays the waiting step with that prompt.")

	// Start reading messages in background
	go client.ReadMessages()

	// Handle Ctrl+C
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	// Read user input
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		select {
		case <-interrupt:
			fmt.Println("\nInterrupted")
			return
		default:
			if !scanner.Scan() {
				return
			}

			input := strings.TrimSpace(scanner.Text())
			if input == "" {
				continue
			}

			cmd, err := parseCommand(input)
			if err != nil {
				fmt.Println(err)
				continue
			}
			if cmd.name == "quit" {
				fmt.Println("Bye!")
				return
			}

			if err := client.Execute(cmd); err != nil {
				log.Printf("Send error: %v", err)
			}
		}
	}
}
