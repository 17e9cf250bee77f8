// Package result defines sandbox execution results and verdict symbols.
package result

// Verdict is the per-test-case outcome symbol.
type Verdict string

const (
	VerdictAC  Verdict = "AC"
	VerdictWA  Verdict = "WA"
	VerdictTLE Verdict = "TLE"
	VerdictMLE Verdict = "MLE"
	VerdictRE  Verdict = "RE"
	VerdictCE  Verdict = "CE"
	VerdictUNK Verdict = "UNK"
)

// Terminal reports whether the verdict came from the runtime rather
// than the comparator; such runs skip output comparison entirely.
func (v Verdict) Terminal() bool {
	switch v {
	case VerdictCE, VerdictTLE, VerdictMLE, VerdictRE, VerdictUNK:
		return true
	default:
		return false
	}
}

// RunResult captures raw sandbox execution data for one process.
type RunResult struct {
	ExitCode   int
	TimeMs     int64
	WallTimeMs int64
	MemoryKB   int64
	OutputKB   int64
	Stdout     string
	Stderr     string
	OomKilled  bool
}
