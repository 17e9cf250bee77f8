// judge-cli is an operator REPL for the judge service: submit test
// jobs, poll status, fetch logs and trigger rejudges without a browser.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

const defaultBaseURL = "http://127.0.0.1:8085"

type client struct {
	baseURL string
	timeout time.Duration
}

func (c *client) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	httpClient := &http.Client{Timeout: c.timeout}
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response failed: %w", err)
	}
	return resp.StatusCode, payload, nil
}

func main() {
	baseURL := flag.String("base", defaultBaseURL, "Judge service base URL")
	timeout := flag.Duration("timeout", 15*time.Second, "HTTP timeout")
	flag.Parse()

	c := &client{baseURL: *baseURL, timeout: *timeout}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "judge> ",
		HistoryFile:     historyPath(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init readline failed: %v\n", err)
		return
	}
	defer func() { _ = rl.Close() }()

	fmt.Println("judge-cli connected to", *baseURL, "- type 'help' for commands")
	ctx := context.Background()
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return
		}
		if err := dispatch(ctx, c, line); err != nil {
			fmt.Println("error:", err)
		}
	}
}

func dispatch(ctx context.Context, c *client, line string) error {
	args, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "help":
		printHelp()
		return nil
	case "submit":
		return cmdSubmit(ctx, c, rest)
	case "status":
		return cmdStatus(ctx, c, rest)
	case "list":
		return cmdList(ctx, c, rest)
	case "log":
		return cmdLog(ctx, c, rest)
	case "rejudge":
		return cmdRejudge(ctx, c, rest)
	case "spj-test":
		return cmdSPJTest(ctx, c, rest)
	default:
		return fmt.Errorf("unknown command %q, try 'help'", cmd)
	}
}

func printHelp() {
	fmt.Print(`commands:
  submit <problem_id> <language> <code-file> [user_id]
  status <submission_id>
  list user=<id> | problem=<id> [page=<n>] [page_size=<n>]
  log <submission_id>
  rejudge <submission_id>
  spj-test <problem_id> <input> <expected> <actual>
  exit
`)
}

func cmdSubmit(ctx context.Context, c *client, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: submit <problem_id> <language> <code-file> [user_id]")
	}
	code, err := os.ReadFile(args[2])
	if err != nil {
		return fmt.Errorf("read code file failed: %w", err)
	}
	payload := map[string]string{
		"problem_id": args[0],
		"language":   args[1],
		"code":       string(code),
	}
	if len(args) > 3 {
		payload["user_id"] = args[3]
	}
	body, _ := json.Marshal(payload)
	return call(ctx, c, http.MethodPost, "/api/submissions/", body)
}

func cmdStatus(ctx context.Context, c *client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: status <submission_id>")
	}
	return call(ctx, c, http.MethodGet, "/api/submissions/"+args[0], nil)
}

func cmdList(ctx context.Context, c *client, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: list user=<id> | problem=<id> [page=<n>] [page_size=<n>]")
	}
	query := make([]string, 0, 3)
	for _, arg := range args {
		switch {
		case strings.HasPrefix(arg, "user="):
			query = append(query, "user_id="+strings.TrimPrefix(arg, "user="))
		case strings.HasPrefix(arg, "problem="):
			query = append(query, "problem_id="+strings.TrimPrefix(arg, "problem="))
		case strings.HasPrefix(arg, "page="):
			query = append(query, arg)
		case strings.HasPrefix(arg, "page_size="):
			query = append(query, arg)
		default:
			return fmt.Errorf("unknown list argument %q", arg)
		}
	}
	return call(ctx, c, http.MethodGet, "/api/submissions/?"+strings.Join(query, "&"), nil)
}

func cmdLog(ctx context.Context, c *client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: log <submission_id>")
	}
	return call(ctx, c, http.MethodGet, "/api/submissions/"+args[0]+"/log", nil)
}

func cmdRejudge(ctx context.Context, c *client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: rejudge <submission_id>")
	}
	return call(ctx, c, http.MethodPut, "/api/submissions/"+args[0]+"/rejudge", nil)
}

func cmdSPJTest(ctx context.Context, c *client, args []string) error {
	if len(args) != 4 {
		return fmt.Errorf("usage: spj-test <problem_id> <input> <expected> <actual>")
	}
	body, _ := json.Marshal(map[string]string{
		"input":           args[1],
		"expected_output": args[2],
		"actual_output":   args[3],
	})
	return call(ctx, c, http.MethodPost, "/api/problems/"+args[0]+"/spj/test", body)
}

func call(ctx context.Context, c *client, method, path string, body []byte) error {
	status, payload, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	fmt.Printf("HTTP %d\n%s\n", status, prettyJSON(payload))
	return nil
}

func prettyJSON(payload []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, payload, "", "  "); err != nil {
		return string(payload)
	}
	return buf.String()
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.judge_cli_history"
}
