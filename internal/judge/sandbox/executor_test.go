package sandbox

import (
	"strings"
	"testing"

	"ojcore/internal/judge/sandbox/result"
)

func TestClassifyRun(t *testing.T) {
	req := RunRequest{Language: LangPython, TimeLimitSeconds: 2.0, MemoryLimitMB: 128}
	cases := []struct {
		name string
		res  result.RunResult
		want result.Verdict
	}{
		{"clean exit", result.RunResult{ExitCode: 0, WallTimeMs: 120, MemoryKB: 10 * 1024, Stdout: "3\n"}, result.VerdictAC},
		{"wall kill", result.RunResult{ExitCode: -1, WallTimeMs: 3000}, result.VerdictTLE},
		{"oom kill", result.RunResult{ExitCode: 137, OomKilled: true, MemoryKB: 200 * 1024}, result.VerdictMLE},
		{"non-zero exit", result.RunResult{ExitCode: 1, Stderr: "boom"}, result.VerdictRE},
		{"peak over limit", result.RunResult{ExitCode: 0, MemoryKB: 256 * 1024}, result.VerdictMLE},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			run := classifyRun(tc.res, req)
			if run.Status != tc.want {
				t.Fatalf("classifyRun = %s, want %s", run.Status, tc.want)
			}
		})
	}
}

func TestClassifyRunTLEReportsLimit(t *testing.T) {
	req := RunRequest{Language: LangPython, TimeLimitSeconds: 2.0, MemoryLimitMB: 128}
	run := classifyRun(result.RunResult{ExitCode: -1, WallTimeMs: 3100}, req)
	if run.TimeUsedSeconds != 2.0 {
		t.Fatalf("TLE time_used = %v, want time limit", run.TimeUsedSeconds)
	}
}

func TestClassifyRunACKeepsStdout(t *testing.T) {
	req := RunRequest{Language: LangPython, TimeLimitSeconds: 1, MemoryLimitMB: 64}
	run := classifyRun(result.RunResult{ExitCode: 0, Stdout: "hello\n"}, req)
	if run.Stdout != "hello\n" {
		t.Fatalf("AC must carry the program stdout, got %q", run.Stdout)
	}
}

func TestBuildRecipeDefaults(t *testing.T) {
	py, err := buildRecipe(RunRequest{Language: LangPython}, "python3")
	if err != nil {
		t.Fatalf("python recipe: %v", err)
	}
	if py.compile != nil {
		t.Fatal("python must not have a compile step")
	}
	if py.run.Program != "python3" {
		t.Fatalf("python run program = %q", py.run.Program)
	}

	cpp, err := buildRecipe(RunRequest{Language: LangCpp}, "python3")
	if err != nil {
		t.Fatalf("cpp recipe: %v", err)
	}
	if cpp.compile == nil || cpp.compile.Program != "g++" {
		t.Fatalf("cpp compile step missing or wrong: %+v", cpp.compile)
	}
	if cpp.run.Program != "./main" {
		t.Fatalf("cpp run program = %q", cpp.run.Program)
	}
}

func TestBuildRecipeRejectsDangerousOverride(t *testing.T) {
	_, err := buildRecipe(RunRequest{Language: LangPython, RunCmd: "rm -rf /"}, "python3")
	if err == nil {
		t.Fatal("expected dangerous run command to be rejected")
	}
}

func TestBuildRecipeUnknownLanguage(t *testing.T) {
	if _, err := buildRecipe(RunRequest{Language: "java"}, "python3"); err == nil {
		t.Fatal("expected unknown language to be rejected")
	}
}

func TestNewRunID(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 64; i++ {
		id := NewRunID()
		if !strings.HasPrefix(id, runIDPrefix) {
			t.Fatalf("run id %q missing prefix", id)
		}
		if len(id) != len(runIDPrefix)+8 {
			t.Fatalf("run id %q has wrong length", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate run id %q", id)
		}
		seen[id] = struct{}{}
	}
}
