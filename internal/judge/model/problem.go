// Package model defines the judge domain entities shared across the
// orchestrator, repositories and the HTTP surface.
package model

import "encoding/json"

// JudgeMode selects how a test case outcome is decided.
type JudgeMode string

const (
	JudgeModeStandard JudgeMode = "standard"
	JudgeModeStrict   JudgeMode = "strict"
	JudgeModeSPJ      JudgeMode = "spj"
)

// Normalize maps unknown judge modes onto the standard comparator.
func (m JudgeMode) Normalize() JudgeMode {
	switch m {
	case JudgeModeStrict, JudgeModeSPJ:
		return m
	default:
		return JudgeModeStandard
	}
}

// Default resource budgets applied when a problem or language leaves
// them unset.
const (
	DefaultTimeLimitSeconds = 3.0
	DefaultMemoryLimitMB    = 128
)

// TestCase is one input/expected-output pair. Newlines are significant.
type TestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
}

// Problem describes one judgeable problem including its test data.
type Problem struct {
	ID               string     `json:"id"`
	TimeLimitSeconds float64    `json:"time_limit_seconds"`
	MemoryLimitMB    int        `json:"memory_limit_mb"`
	Testcases        []TestCase `json:"testcases"`
	JudgeMode        JudgeMode  `json:"judge_mode"`
	// SPJLanguage is "python" or "cpp" when a checker script is stored.
	SPJLanguage string `json:"spj_language,omitempty"`
	LogVisible  bool   `json:"log_visible"`
}

// problemAlias avoids UnmarshalJSON recursion.
type problemAlias Problem

type problemWire struct {
	problemAlias
	// Legacy problem files used test_cases; read it as an alias.
	LegacyTestcases []TestCase `json:"test_cases"`
}

// UnmarshalJSON accepts both the current testcases key and the legacy
// test_cases spelling.
func (p *Problem) UnmarshalJSON(data []byte) error {
	var wire problemWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*p = Problem(wire.problemAlias)
	if len(p.Testcases) == 0 && len(wire.LegacyTestcases) > 0 {
		p.Testcases = wire.LegacyTestcases
	}
	return nil
}

// EffectiveTimeLimit resolves the problem's time budget against the
// language default.
func (p *Problem) EffectiveTimeLimit(lang *Language) float64 {
	if p.TimeLimitSeconds > 0 {
		return p.TimeLimitSeconds
	}
	if lang != nil && lang.TimeLimitSeconds > 0 {
		return lang.TimeLimitSeconds
	}
	return DefaultTimeLimitSeconds
}

// EffectiveMemoryLimit resolves the problem's memory budget against the
// language default.
func (p *Problem) EffectiveMemoryLimit(lang *Language) int {
	if p.MemoryLimitMB > 0 {
		return p.MemoryLimitMB
	}
	if lang != nil && lang.MemoryLimitMB > 0 {
		return lang.MemoryLimitMB
	}
	return DefaultMemoryLimitMB
}

// Language is a judgeable language profile.
type Language struct {
	Name             string  `json:"name"`
	FileExt          string  `json:"file_ext"`
	CompileCmd       string  `json:"compile_cmd,omitempty"`
	RunCmd           string  `json:"run_cmd"`
	TimeLimitSeconds float64 `json:"time_limit,omitempty"`
	MemoryLimitMB    int     `json:"memory_limit,omitempty"`
}
