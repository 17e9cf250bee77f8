// Package sandbox executes one untrusted program run under namespace,
// cgroup and seccomp isolation.
package sandbox

import (
	"context"

	"ojcore/internal/judge/sandbox/result"
)

// Supported languages.
const (
	LangPython = "python"
	LangCpp    = "cpp"
)

// RunRequest contains all data needed for one sandboxed run.
type RunRequest struct {
	// RunID names the run's scratch directory and cgroup. A fresh
	// oj_judge_<hex8> id is generated when empty.
	RunID    string
	Language string
	Code     string
	Stdin    string

	TimeLimitSeconds float64
	MemoryLimitMB    int

	// CompileCmd and RunCmd override the built-in recipes for the
	// language. Both pass through the command safety validator.
	CompileCmd string
	RunCmd     string
}

// Run is the outcome of one sandboxed execution.
type Run struct {
	Status          result.Verdict
	TimeUsedSeconds float64
	MemoryUsedMB    int
	Stdout          string
	ErrorText       string
}

// Executor runs a single submission attempt against one input.
type Executor interface {
	// Run executes the request and returns a classified outcome.
	// Expected failures (CE, TLE, MLE, RE) surface inside Run, not as
	// an error; the error return is reserved for infrastructure faults
	// that also yield Status UNK.
	Run(ctx context.Context, req RunRequest) (Run, error)

	// Available reports whether the isolation runtime can be used on
	// this host. Callers fall back to the degraded executor when not.
	Available() bool
}
