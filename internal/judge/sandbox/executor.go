package sandbox

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"

	"ojcore/internal/judge/safety"
	"ojcore/internal/judge/sandbox/engine"
	"ojcore/internal/judge/sandbox/observer"
	"ojcore/internal/judge/sandbox/profile"
	"ojcore/internal/judge/sandbox/result"
	"ojcore/internal/judge/sandbox/spec"
	appErr "ojcore/pkg/errors"
	"ojcore/pkg/utils/logger"
)

const (
	runIDPrefix      = "oj_judge_"
	containerWorkDir = "/work"

	sourceNamePython = "main.py"
	sourceNameCpp    = "main.cpp"
	inputName        = "input.txt"
	outputName       = "output.txt"
	runtimeLogName   = "stderr.log"
	compileLogName   = "compile.log"

	defaultCompileTimeout = 30 * time.Second
	// Extra wall-clock second absorbing sandbox cold-start jitter.
	wallClockSlackMs = 1000

	runPIDLimit      = 50
	runOpenFileLimit = 64
	runOutputMB      = 64

	compileMemoryMB = 1024
	compilePIDLimit = 64
)

// unsafeCommandError is the verdict text for a safety-validator denial.
const unsafeCommandError = "不安全"

// ExecutorConfig holds sandbox executor settings.
type ExecutorConfig struct {
	// WorkRoot is the host directory scratch directories live under.
	WorkRoot string
	// PythonBin is the interpreter invoked for python runs.
	PythonBin string
	// CompileTimeout bounds the cpp build step.
	CompileTimeout time.Duration
	// HelperPath locates the sandbox-init helper, used by Available.
	HelperPath string
}

type executor struct {
	cfg     ExecutorConfig
	eng     engine.Engine
	metrics observer.MetricsRecorder
}

// NewExecutor creates the sandboxed executor on top of an engine.
func NewExecutor(cfg ExecutorConfig, eng engine.Engine, metrics observer.MetricsRecorder) (Executor, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg.WorkRoot == "" {
		return nil, fmt.Errorf("work root is required")
	}
	if cfg.PythonBin == "" {
		cfg.PythonBin = "python3"
	}
	if cfg.CompileTimeout <= 0 {
		cfg.CompileTimeout = defaultCompileTimeout
	}
	if cfg.HelperPath == "" {
		cfg.HelperPath = "sandbox-init"
	}
	if metrics == nil {
		metrics = observer.NoopMetricsRecorder{}
	}
	return &executor{cfg: cfg, eng: eng, metrics: metrics}, nil
}

func (e *executor) Available() bool {
	if runtime.GOOS != "linux" {
		return false
	}
	if filepath.IsAbs(e.cfg.HelperPath) {
		_, err := os.Stat(e.cfg.HelperPath)
		return err == nil
	}
	_, err := exec.LookPath(e.cfg.HelperPath)
	return err == nil
}

func (e *executor) Run(ctx context.Context, req RunRequest) (Run, error) {
	if err := validateRunRequest(req); err != nil {
		return Run{Status: result.VerdictUNK, ErrorText: err.Error()}, err
	}
	runID := req.RunID
	if runID == "" {
		runID = NewRunID()
	}

	scratch := filepath.Join(e.cfg.WorkRoot, runID)
	if err := os.MkdirAll(scratch, 0755); err != nil {
		wrapped := appErr.Wrapf(err, appErr.JudgeSystemError, "create scratch dir failed")
		return Run{Status: result.VerdictUNK, ErrorText: wrapped.Error()}, wrapped
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			logger.Warn(ctx, "remove scratch dir failed", zap.String("run_id", runID), zap.Error(err))
		}
	}()

	if err := e.materialize(scratch, req); err != nil {
		return Run{Status: result.VerdictUNK, ErrorText: err.Error()}, err
	}

	recipe, err := buildRecipe(req, e.cfg.PythonBin)
	if err != nil {
		// Safety denial is an expected outcome, not an infra fault.
		if appErr.GetCode(err) == appErr.Forbidden {
			return Run{Status: result.VerdictCE, ErrorText: unsafeCommandError}, nil
		}
		return Run{Status: result.VerdictUNK, ErrorText: err.Error()}, err
	}

	if recipe.compile != nil {
		if run, done := e.compile(ctx, runID, scratch, *recipe.compile); done {
			return run, nil
		}
	}

	return e.execute(ctx, runID, scratch, req, recipe.run)
}

type recipe struct {
	compile *safety.Command
	run     safety.Command
}

// buildRecipe resolves and validates the compile/run commands for one
// request. Every command passes the safety gate because the templates
// come from problem-configurable language profiles.
func buildRecipe(req RunRequest, pythonBin string) (recipe, error) {
	var out recipe
	switch req.Language {
	case LangPython:
		line := req.RunCmd
		if line == "" {
			line = fmt.Sprintf("%s %s", pythonBin, sourceNamePython)
		}
		cmd, err := safety.ParseAndValidate(line)
		if err != nil {
			return recipe{}, err
		}
		out.run = cmd
	case LangCpp:
		compileLine := req.CompileCmd
		if compileLine == "" {
			compileLine = fmt.Sprintf("g++ -o main %s", sourceNameCpp)
		}
		compileCmd, err := safety.ParseAndValidate(compileLine)
		if err != nil {
			return recipe{}, err
		}
		out.compile = &compileCmd

		runLine := req.RunCmd
		if runLine == "" {
			runLine = "./main"
		}
		runCmd, err := safety.ParseAndValidate(runLine)
		if err != nil {
			return recipe{}, err
		}
		out.run = runCmd
	default:
		return recipe{}, appErr.Newf(appErr.LanguageUnknown, "unsupported language: %s", req.Language)
	}
	return out, nil
}

func (e *executor) materialize(scratch string, req RunRequest) error {
	sourceName := sourceNamePython
	if req.Language == LangCpp {
		sourceName = sourceNameCpp
	}
	if err := os.WriteFile(filepath.Join(scratch, sourceName), []byte(req.Code), 0644); err != nil {
		return appErr.Wrapf(err, appErr.JudgeSystemError, "write source failed")
	}
	if err := os.WriteFile(filepath.Join(scratch, inputName), []byte(req.Stdin), 0644); err != nil {
		return appErr.Wrapf(err, appErr.JudgeSystemError, "write input failed")
	}
	return nil
}

// compile runs the cpp build step. The second return value reports
// whether the run is finished (build failed or timed out).
func (e *executor) compile(ctx context.Context, runID, scratch string, cmd safety.Command) (Run, bool) {
	timeoutMs := e.cfg.CompileTimeout.Milliseconds()
	runSpec := spec.RunSpec{
		SubmissionID: runID,
		TestID:       "compile",
		WorkDir:      containerWorkDir,
		Cmd:          cmd.Argv(),
		StderrPath:   filepath.Join(containerWorkDir, compileLogName),
		Profile:      profile.CppCompile,
		Limits: spec.ResourceLimit{
			CPUTimeMs:  timeoutMs,
			WallTimeMs: timeoutMs,
			MemoryMB:   compileMemoryMB,
			PIDs:       compilePIDLimit,
		},
		BindMounts: []spec.MountSpec{{Source: scratch, Target: containerWorkDir}},
	}

	res, err := e.eng.Run(ctx, runSpec)
	e.metrics.ObserveCompile(ctx, LangCpp, err == nil && res.ExitCode == 0, res.TimeMs, res.MemoryKB)
	if err != nil {
		logger.Warn(ctx, "sandbox compile failed", zap.String("run_id", runID), zap.Error(err))
		return Run{Status: result.VerdictUNK, ErrorText: err.Error()}, true
	}
	if res.ExitCode == -1 {
		return Run{Status: result.VerdictCE, ErrorText: "build timeout"}, true
	}
	if res.ExitCode != 0 {
		return Run{Status: result.VerdictCE, ErrorText: res.Stderr}, true
	}
	return Run{}, false
}

func (e *executor) execute(ctx context.Context, runID, scratch string, req RunRequest, cmd safety.Command) (Run, error) {
	timeLimitMs := int64(math.Ceil(req.TimeLimitSeconds * 1000))
	runSpec := spec.RunSpec{
		SubmissionID: runID,
		TestID:       "run",
		WorkDir:      containerWorkDir,
		Cmd:          cmd.Argv(),
		StdinPath:    filepath.Join(containerWorkDir, inputName),
		StdoutPath:   filepath.Join(containerWorkDir, outputName),
		StderrPath:   filepath.Join(containerWorkDir, runtimeLogName),
		Profile:      runProfileName(req.Language),
		Limits: spec.ResourceLimit{
			CPUTimeMs:  timeLimitMs,
			WallTimeMs: timeLimitMs + wallClockSlackMs,
			MemoryMB:   int64(req.MemoryLimitMB),
			OutputMB:   runOutputMB,
			PIDs:       runPIDLimit,
			OpenFiles:  runOpenFileLimit,
		},
		BindMounts: []spec.MountSpec{{Source: scratch, Target: containerWorkDir}},
	}

	res, err := e.eng.Run(ctx, runSpec)
	if err != nil {
		e.metrics.ObserveRun(ctx, req.Language, string(result.VerdictUNK), res.TimeMs, res.MemoryKB, res.OutputKB)
		logger.Warn(ctx, "sandbox run failed", zap.String("run_id", runID), zap.Error(err))
		return Run{Status: result.VerdictUNK, ErrorText: err.Error()}, err
	}

	run := classifyRun(res, req)
	e.metrics.ObserveRun(ctx, req.Language, string(run.Status), res.TimeMs, res.MemoryKB, res.OutputKB)
	logger.Debug(ctx, "sandbox run finished",
		zap.String("run_id", runID),
		zap.String("verdict", string(run.Status)),
		zap.Float64("time_used", run.TimeUsedSeconds),
		zap.Int("memory_used_mb", run.MemoryUsedMB),
	)
	return run, nil
}

func classifyRun(res result.RunResult, req RunRequest) Run {
	timeUsed := float64(res.WallTimeMs) / 1000
	memoryMB := int(res.MemoryKB / 1024)

	if res.ExitCode == -1 {
		return Run{Status: result.VerdictTLE, TimeUsedSeconds: req.TimeLimitSeconds}
	}
	// An OOM kill by the runtime is the authoritative memory signal;
	// the post-hoc peak check below is secondary and best-effort.
	if res.OomKilled {
		return Run{Status: result.VerdictMLE, TimeUsedSeconds: timeUsed, MemoryUsedMB: memoryMB}
	}
	if res.ExitCode != 0 {
		return Run{Status: result.VerdictRE, TimeUsedSeconds: timeUsed, MemoryUsedMB: memoryMB, ErrorText: res.Stderr}
	}
	if req.MemoryLimitMB > 0 && memoryMB > req.MemoryLimitMB {
		return Run{Status: result.VerdictMLE, TimeUsedSeconds: timeUsed, MemoryUsedMB: memoryMB}
	}
	return Run{
		Status:          result.VerdictAC,
		TimeUsedSeconds: timeUsed,
		MemoryUsedMB:    memoryMB,
		Stdout:          res.Stdout,
	}
}

func runProfileName(language string) string {
	if language == LangCpp {
		return profile.CppRun
	}
	return profile.PythonRun
}

func validateRunRequest(req RunRequest) error {
	switch req.Language {
	case LangPython, LangCpp:
	default:
		return appErr.Newf(appErr.LanguageUnknown, "unsupported language: %s", req.Language)
	}
	if strings.TrimSpace(req.Code) == "" {
		return appErr.ValidationError("code", "required")
	}
	if req.TimeLimitSeconds <= 0 {
		return appErr.ValidationError("time_limit", "required")
	}
	if req.MemoryLimitMB <= 0 {
		return appErr.ValidationError("memory_limit", "required")
	}
	return nil
}

// NewRunID returns a fresh unique run identifier.
func NewRunID() string {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return runIDPrefix + fmt.Sprintf("%08x", time.Now().UnixNano()&0xffffffff)
	}
	return runIDPrefix + hex.EncodeToString(buf[:])
}
