package fallback

import (
	"context"
	"testing"

	"ojcore/internal/judge/sandbox"
	"ojcore/internal/judge/sandbox/result"
)

func TestScanCode(t *testing.T) {
	cases := []struct {
		name string
		code string
		want bool
	}{
		{"clean", "a,b=map(int,input().split())\nprint(a+b)", false},
		{"import os", "import os\nprint(1)", true},
		{"subprocess call", "import sys\nsubprocess.call(['ls'])", true},
		{"eval", "print(eval('1+1'))", true},
		{"dunder import", "__import__('os')", true},
		{"exec", "exec('print(1)')", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, got := scanCode(tc.code); got != tc.want {
				t.Fatalf("scanCode(%q) = %v, want %v", tc.code, got, tc.want)
			}
		})
	}
}

func TestRunRejectsDangerousCode(t *testing.T) {
	exec, err := New(Config{WorkRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	run, err := exec.Run(context.Background(), sandbox.RunRequest{
		Language:         sandbox.LangPython,
		Code:             "import os\nos.system('ls')",
		TimeLimitSeconds: 1,
		MemoryLimitMB:    64,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Status != result.VerdictRE {
		t.Fatalf("verdict = %s, want RE", run.Status)
	}
	if run.ErrorText == "" {
		t.Fatal("expected the denied operation in the error text")
	}
}

func TestRunRejectsUnknownLanguage(t *testing.T) {
	exec, err := New(Config{WorkRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	run, err := exec.Run(context.Background(), sandbox.RunRequest{
		Language:         "java",
		Code:             "class Main {}",
		TimeLimitSeconds: 1,
		MemoryLimitMB:    64,
	})
	if err == nil {
		t.Fatal("expected unknown language error")
	}
	if run.Status != result.VerdictUNK {
		t.Fatalf("verdict = %s, want UNK", run.Status)
	}
}
