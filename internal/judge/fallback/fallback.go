// Package fallback runs submissions directly on the host when the
// sandbox runtime is unavailable. Isolation is materially weaker: a
// textual denylist plus process deadlines only. Intended for
// development environments; every run is marked as non-sandboxed.
package fallback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ojcore/internal/judge/safety"
	"ojcore/internal/judge/sandbox"
	"ojcore/internal/judge/sandbox/result"
	appErr "ojcore/pkg/errors"
	"ojcore/pkg/utils/logger"
)

// dangerousOps is the textual denylist applied to submitted code before
// any direct execution.
var dangerousOps = []string{
	"import os", "import subprocess", "os.system", "subprocess.call",
	"subprocess.run", "eval(", "exec(", "__import__",
}

const compileTimeout = 30 * time.Second

// Config holds fallback executor settings.
type Config struct {
	WorkRoot  string
	PythonBin string
	CppBin    string
}

// Executor is the degraded, non-sandboxed runner.
type Executor struct {
	cfg Config
}

// New creates the fallback executor.
func New(cfg Config) (*Executor, error) {
	if cfg.WorkRoot == "" {
		return nil, fmt.Errorf("work root is required")
	}
	if cfg.PythonBin == "" {
		cfg.PythonBin = "python3"
	}
	if cfg.CppBin == "" {
		cfg.CppBin = "g++"
	}
	return &Executor{cfg: cfg}, nil
}

// Available always holds: the fallback needs only a local toolchain.
func (e *Executor) Available() bool { return true }

// Run executes one attempt directly on the host.
func (e *Executor) Run(ctx context.Context, req sandbox.RunRequest) (sandbox.Run, error) {
	if op, bad := scanCode(req.Code); bad {
		return sandbox.Run{
			Status:    result.VerdictRE,
			ErrorText: fmt.Sprintf("dangerous op: %s", op),
		}, nil
	}

	runID := req.RunID
	if runID == "" {
		runID = sandbox.NewRunID()
	}
	scratch := filepath.Join(e.cfg.WorkRoot, runID)
	if err := os.MkdirAll(scratch, 0755); err != nil {
		wrapped := appErr.Wrapf(err, appErr.JudgeSystemError, "create scratch dir failed")
		return sandbox.Run{Status: result.VerdictUNK, ErrorText: wrapped.Error()}, wrapped
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			logger.Warn(ctx, "remove fallback scratch failed", zap.String("run_id", runID), zap.Error(err))
		}
	}()

	logger.Warn(ctx, "running without sandbox isolation", zap.String("run_id", runID), zap.String("language", req.Language))

	switch req.Language {
	case sandbox.LangPython:
		sourcePath := filepath.Join(scratch, "main.py")
		if err := os.WriteFile(sourcePath, []byte(req.Code), 0644); err != nil {
			wrapped := appErr.Wrapf(err, appErr.JudgeSystemError, "write source failed")
			return sandbox.Run{Status: result.VerdictUNK, ErrorText: wrapped.Error()}, wrapped
		}
		cmd := safety.Command{Program: e.cfg.PythonBin, Args: []string{sourcePath}}
		return e.runProcess(ctx, cmd, scratch, req)
	case sandbox.LangCpp:
		sourcePath := filepath.Join(scratch, "main.cpp")
		binaryPath := filepath.Join(scratch, "main")
		if err := os.WriteFile(sourcePath, []byte(req.Code), 0644); err != nil {
			wrapped := appErr.Wrapf(err, appErr.JudgeSystemError, "write source failed")
			return sandbox.Run{Status: result.VerdictUNK, ErrorText: wrapped.Error()}, wrapped
		}
		if run, done := e.compile(ctx, sourcePath, binaryPath, scratch); done {
			return run, nil
		}
		cmd := safety.Command{Program: binaryPath}
		return e.runProcess(ctx, cmd, scratch, req)
	default:
		err := appErr.Newf(appErr.LanguageUnknown, "unsupported language: %s", req.Language)
		return sandbox.Run{Status: result.VerdictUNK, ErrorText: err.Error()}, err
	}
}

func (e *Executor) compile(ctx context.Context, sourcePath, binaryPath, dir string) (sandbox.Run, bool) {
	cmd := safety.Command{Program: e.cfg.CppBin, Args: []string{"-o", binaryPath, sourcePath}}
	if err := safety.Validate(cmd); err != nil {
		return sandbox.Run{Status: result.VerdictCE, ErrorText: err.Error()}, true
	}

	compileCtx, cancel := context.WithTimeout(ctx, compileTimeout)
	defer cancel()

	proc := exec.CommandContext(compileCtx, cmd.Program, cmd.Args...)
	proc.Dir = dir
	var stderr bytes.Buffer
	proc.Stderr = &stderr
	if err := proc.Run(); err != nil {
		if errors.Is(compileCtx.Err(), context.DeadlineExceeded) {
			return sandbox.Run{Status: result.VerdictCE, ErrorText: "build timeout"}, true
		}
		return sandbox.Run{Status: result.VerdictCE, ErrorText: stderr.String()}, true
	}
	return sandbox.Run{}, false
}

func (e *Executor) runProcess(ctx context.Context, cmd safety.Command, dir string, req sandbox.RunRequest) (sandbox.Run, error) {
	if err := safety.Validate(cmd); err != nil {
		return sandbox.Run{Status: result.VerdictRE, ErrorText: err.Error()}, nil
	}

	deadline := time.Duration(math.Ceil(req.TimeLimitSeconds*1000)) * time.Millisecond
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	proc := exec.CommandContext(runCtx, cmd.Program, cmd.Args...)
	proc.Dir = dir
	proc.Stdin = strings.NewReader(req.Stdin)
	var stdout, stderr bytes.Buffer
	proc.Stdout = &stdout
	proc.Stderr = &stderr
	// A fresh process group lets the kill reach grandchildren too.
	proc.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	proc.Cancel = func() error {
		return syscall.Kill(-proc.Process.Pid, syscall.SIGKILL)
	}

	start := time.Now()
	err := proc.Run()
	timeUsed := time.Since(start).Seconds()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return sandbox.Run{Status: result.VerdictTLE, TimeUsedSeconds: req.TimeLimitSeconds}, nil
	}

	memoryMB := peakMemoryMB(proc.ProcessState)
	if err != nil {
		return sandbox.Run{
			Status:          result.VerdictRE,
			TimeUsedSeconds: timeUsed,
			MemoryUsedMB:    memoryMB,
			ErrorText:       stderr.String(),
		}, nil
	}
	if req.MemoryLimitMB > 0 && memoryMB > req.MemoryLimitMB {
		return sandbox.Run{Status: result.VerdictMLE, TimeUsedSeconds: timeUsed, MemoryUsedMB: memoryMB}, nil
	}
	return sandbox.Run{
		Status:          result.VerdictAC,
		TimeUsedSeconds: timeUsed,
		MemoryUsedMB:    memoryMB,
		Stdout:          stdout.String(),
	}, nil
}

// scanCode reports the first denylisted operation found in the code.
func scanCode(code string) (string, bool) {
	for _, op := range dangerousOps {
		if strings.Contains(code, op) {
			return op, true
		}
	}
	return "", false
}

// peakMemoryMB is best-effort accounting from OS process statistics.
func peakMemoryMB(state *os.ProcessState) int {
	if state == nil {
		return 0
	}
	usage, ok := state.SysUsage().(*syscall.Rusage)
	if !ok {
		return 0
	}
	// Maxrss is KiB on Linux.
	return int(usage.Maxrss / 1024)
}
