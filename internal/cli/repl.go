// Package cli implements the judgectl interactive shell over the
// submission HTTP API.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
	"github.com/gorilla/websocket"
)

// Session holds the shell's connection settings and drives the prompt.
type Session struct {
	client *Client
	out    io.Writer
}

func NewSession(client *Client) *Session {
	return &Session{client: client, out: os.Stdout}
}

var completer = readline.NewPrefixCompleter(
	readline.PcItem("submit"),
	readline.PcItem("status"),
	readline.PcItem("get"),
	readline.PcItem("list"),
	readline.PcItem("watch"),
	readline.PcItem("set",
		readline.PcItem("base"),
		readline.PcItem("token"),
		readline.PcItem("timeout"),
	),
	readline.PcItem("help"),
	readline.PcItem("exit"),
)

func (s *Session) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "judgectl> ",
		HistoryFile:     historyPath(),
		AutoComplete:    completer,
		InterruptPrompt: "^C",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil {
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		if err := s.dispatch(ctx, line); err != nil {
			s.printLine("error: %v", err)
		}
	}
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.judgectl_history"
}

func (s *Session) dispatch(ctx context.Context, line string) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	cmd, args := tokens[0], tokens[1:]
	switch cmd {
	case "help":
		s.printHelp()
		return nil
	case "set":
		return s.handleSet(args)
	case "submit":
		return s.handleSubmit(ctx, args)
	case "status":
		return s.handleStatus(ctx, args)
	case "get":
		return s.handleGet(ctx, args)
	case "list":
		return s.handleList(ctx, args)
	case "watch":
		return s.handleWatch(ctx, args)
	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}
}

func (s *Session) handleSet(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: set base|token|timeout <value>")
	}
	switch args[0] {
	case "base":
		s.client.SetBaseURL(args[1])
		s.printLine("base set to %s", args[1])
	case "token":
		s.client.SetToken(args[1])
		s.printLine("token updated")
	case "timeout":
		dur, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	default:
		return fmt.Errorf("unknown setting %q", args[0])
	}
	return nil
}

func (s *Session) handleSubmit(ctx context.Context, args []string) error {
	params, err := parseParams(args)
	if err != nil {
		return err
	}
	problemID := params["problem_id"]
	language := params["language"]
	source := params["source_code"]
	if sourceFile := params["source_file"]; sourceFile != "" && source == "" {
		data, err := os.ReadFile(sourceFile)
		if err != nil {
			return fmt.Errorf("read source file: %w", err)
		}
		source = string(data)
	}
	if problemID == "" || language == "" || source == "" {
		return fmt.Errorf("usage: submit problem_id=1 language=cpp source_file=./main.cpp")
	}

	body, err := json.Marshal(map[string]interface{}{
		"problem_id":  jsonNumber(problemID),
		"language":    language,
		"source_code": source,
	})
	if err != nil {
		return err
	}
	resp, err := s.client.Do(ctx, http.MethodPost, "/api/v1/submissions", body)
	if err != nil {
		return err
	}
	s.renderResponse(resp)
	return nil
}

func (s *Session) handleStatus(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: status <submission_id>")
	}
	resp, err := s.client.Do(ctx, http.MethodGet, "/api/v1/submissions/"+args[0]+"/status", nil)
	if err != nil {
		return err
	}
	s.renderResponse(resp)
	return nil
}

func (s *Session) handleGet(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: get <submission_id>")
	}
	resp, err := s.client.Do(ctx, http.MethodGet, "/api/v1/submissions/"+args[0], nil)
	if err != nil {
		return err
	}
	s.renderResponse(resp)
	return nil
}

func (s *Session) handleList(ctx context.Context, args []string) error {
	params, err := parseParams(args)
	if err != nil {
		return err
	}
	query := ""
	if limit := params["limit"]; limit != "" {
		query = "?limit=" + limit
	}
	resp, err := s.client.Do(ctx, http.MethodGet, "/api/v1/submissions"+query, nil)
	if err != nil {
		return err
	}
	s.renderResponse(resp)
	return nil
}

// handleWatch streams judging events until a terminal status arrives or
// the user interrupts.
func (s *Session) handleWatch(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: watch <submission_id>")
	}
	baseURL, token := s.client.snapshot()
	wsURL := strings.Replace(baseURL, "http", "ws", 1) +
		"/api/v1/submissions/" + args[0] + "/events"

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return fmt.Errorf("connect event stream: %w", err)
	}
	defer conn.Close()

	s.printLine("watching %s (ctrl-c to stop)", args[0])
	for {
		var ev struct {
			Status            string `json:"status"`
			Verdict           string `json:"verdict"`
			LastTestCaseIndex int    `json:"last_test_case_index"`
			Score             int    `json:"score"`
		}
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		if ev.Verdict != "" {
			s.printLine("[%s] verdict=%s score=%d", ev.Status, ev.Verdict, ev.Score)
		} else {
			s.printLine("[%s] test_case=%d score=%d", ev.Status, ev.LastTestCaseIndex, ev.Score)
		}
		if ev.Status == "completed" || ev.Status == "system_error" {
			return nil
		}
	}
}

func (s *Session) renderResponse(resp ResponseInfo) {
	s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration)
	if len(resp.Body) == 0 {
		return
	}
	var raw interface{}
	if err := json.Unmarshal(resp.Body, &raw); err == nil {
		formatted, _ := json.MarshalIndent(raw, "", "  ")
		s.printLine("%s", string(formatted))
		return
	}
	s.printLine("%s", string(resp.Body))
}

func (s *Session) printHelp() {
	s.printLine("commands:")
	s.printLine("  submit problem_id=1 language=cpp source_file=./main.cpp")
	s.printLine("  status <submission_id>")
	s.printLine("  get <submission_id>")
	s.printLine("  list [limit=20]")
	s.printLine("  watch <submission_id>")
	s.printLine("  set base|token|timeout <value>")
	s.printLine("  help | exit")
}

func (s *Session) printLine(format string, args ...interface{}) {
	fmt.Fprintf(s.out, format+"\n", args...)
}

func parseParams(args []string) (map[string]string, error) {
	params := make(map[string]string, len(args))
	for _, arg := range args {
		parts := strings.SplitN(arg, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid param %q, expected key=value", arg)
		}
		params[parts[0]] = parts[1]
	}
	return params, nil
}

// jsonNumber keeps numeric-looking params as JSON numbers while falling
// back to the raw string for anything else.
func jsonNumber(s string) interface{} {
	var n json.Number = json.Number(s)
	if _, err := n.Int64(); err == nil {
		return n
	}
	return s
}
