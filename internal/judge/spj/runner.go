package spj

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"ojcore/internal/judge/safety"
	appErr "ojcore/pkg/errors"
	"ojcore/pkg/utils/logger"
)

// Checker verdict statuses on the wire.
const (
	StatusAC       = "AC"
	StatusWA       = "WA"
	StatusSPJError = "SPJ_ERROR"
)

// checkerTimeout bounds one checker invocation, compile included.
// Checkers are privileged but still bounded.
const checkerTimeout = 10 * time.Second

// Verdict is the structured checker result.
type Verdict struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Score   *int   `json:"score,omitempty"`
}

// Input is the triple handed to a checker.
type Input struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
	ActualOutput   string `json:"actual_output"`
}

// Runner executes stored checkers. Checkers do not go through the
// sandbox; they run directly with a wall-clock cap, relying on the
// upload screen for content safety.
type Runner struct {
	store     ScriptStore
	workRoot  string
	pythonBin string
	cppBin    string
}

// NewRunner creates a checker runner.
func NewRunner(store ScriptStore, workRoot string) (*Runner, error) {
	if store == nil {
		return nil, fmt.Errorf("script store is required")
	}
	if workRoot == "" {
		return nil, fmt.Errorf("work root is required")
	}
	return &Runner{store: store, workRoot: workRoot, pythonBin: "python3", cppBin: "g++"}, nil
}

// Run loads the problem's checker and evaluates one (input, expected,
// actual) triple. A missing checker is an error; checker-side failures
// surface as a SPJ_ERROR verdict.
func (r *Runner) Run(ctx context.Context, problemID string, in Input) (Verdict, error) {
	script, err := r.store.Load(ctx, problemID)
	if err != nil {
		return Verdict{}, err
	}

	scratch, err := os.MkdirTemp(r.workRoot, "spj_")
	if err != nil {
		return Verdict{}, appErr.Wrapf(err, appErr.InternalServerError, "create checker scratch failed")
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			logger.Warn(ctx, "remove checker scratch failed", zap.String("problem_id", problemID), zap.Error(err))
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, checkerTimeout)
	defer cancel()

	var cmd safety.Command
	var stdin []byte
	switch script.Language {
	case LangPython:
		scriptPath := filepath.Join(scratch, "checker.py")
		if err := os.WriteFile(scriptPath, script.Content, 0644); err != nil {
			return Verdict{}, appErr.Wrapf(err, appErr.InternalServerError, "write checker script failed")
		}
		cmd = safety.Command{Program: r.pythonBin, Args: []string{scriptPath}}
		stdin, err = json.Marshal(in)
		if err != nil {
			return Verdict{}, appErr.Wrapf(err, appErr.InternalServerError, "encode checker input failed")
		}
	case LangCpp:
		scriptPath := filepath.Join(scratch, "checker.cpp")
		binaryPath := filepath.Join(scratch, "checker")
		if err := os.WriteFile(scriptPath, script.Content, 0644); err != nil {
			return Verdict{}, appErr.Wrapf(err, appErr.InternalServerError, "write checker script failed")
		}
		if verdict, failed := r.compileChecker(runCtx, scriptPath, binaryPath, scratch); failed {
			return verdict, nil
		}
		cmd = safety.Command{Program: binaryPath}
		stdin = []byte(strings.Join([]string{in.Input, in.ExpectedOutput, in.ActualOutput}, "\n"))
	default:
		return Verdict{}, appErr.Newf(appErr.SPJNotFound, "unsupported checker language: %s", script.Language)
	}

	if err := safety.Validate(cmd); err != nil {
		return Verdict{Status: StatusSPJError, Message: err.Error()}, nil
	}

	proc := exec.CommandContext(runCtx, cmd.Program, cmd.Args...)
	proc.Dir = scratch
	proc.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	proc.Stdout = &stdout
	proc.Stderr = &stderr

	if err := proc.Run(); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return Verdict{Status: StatusSPJError, Message: "checker timeout"}, nil
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return Verdict{Status: StatusSPJError, Message: msg}, nil
	}

	var verdict Verdict
	if err := json.Unmarshal(stdout.Bytes(), &verdict); err != nil {
		return Verdict{Status: StatusSPJError, Message: "checker output is not valid JSON"}, nil
	}
	switch verdict.Status {
	case StatusAC, StatusWA, StatusSPJError:
	default:
		return Verdict{Status: StatusSPJError, Message: fmt.Sprintf("unknown checker status: %s", verdict.Status)}, nil
	}
	return verdict, nil
}

func (r *Runner) compileChecker(ctx context.Context, sourcePath, binaryPath, dir string) (Verdict, bool) {
	cmd := safety.Command{Program: r.cppBin, Args: []string{"-o", binaryPath, sourcePath}}
	if err := safety.Validate(cmd); err != nil {
		return Verdict{Status: StatusSPJError, Message: err.Error()}, true
	}
	proc := exec.CommandContext(ctx, cmd.Program, cmd.Args...)
	proc.Dir = dir
	var stderr bytes.Buffer
	proc.Stderr = &stderr
	if err := proc.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Verdict{Status: StatusSPJError, Message: "checker compile timeout"}, true
		}
		return Verdict{Status: StatusSPJError, Message: strings.TrimSpace(stderr.String())}, true
	}
	return Verdict{}, false
}
