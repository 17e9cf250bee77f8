package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"ojcore/internal/common/cache"
	"ojcore/internal/judge/logstore"
	"ojcore/internal/judge/model"
	"ojcore/internal/judge/repository"
	"ojcore/internal/judge/sandbox"
	"ojcore/internal/judge/sandbox/result"
	"ojcore/internal/judge/spj"
	appErr "ojcore/pkg/errors"
)

// stubRunner simulates sandboxed execution without spawning anything.
type stubRunner struct {
	available bool
	run       func(req sandbox.RunRequest) (sandbox.Run, error)
}

func (s *stubRunner) Available() bool { return s.available }

func (s *stubRunner) Run(_ context.Context, req sandbox.RunRequest) (sandbox.Run, error) {
	return s.run(req)
}

// sumRunner behaves like a correct a+b program.
func sumRunner() *stubRunner {
	return &stubRunner{available: true, run: func(req sandbox.RunRequest) (sandbox.Run, error) {
		fields := strings.Fields(req.Stdin)
		a, _ := strconv.ParseInt(fields[0], 10, 64)
		b, _ := strconv.ParseInt(fields[1], 10, 64)
		return sandbox.Run{
			Status:          result.VerdictAC,
			TimeUsedSeconds: 0.05,
			MemoryUsedMB:    9,
			Stdout:          fmt.Sprintf("%d\n", a+b),
		}, nil
	}}
}

type stubChecker struct {
	verdict spj.Verdict
	err     error
	calls   int
}

func (s *stubChecker) Run(context.Context, string, spj.Input) (spj.Verdict, error) {
	s.calls++
	return s.verdict, s.err
}

type env struct {
	repo *repository.FileRepository
	logs logstore.Store
}

func newEnv(t *testing.T) *env {
	t.Helper()
	repo, err := repository.NewFileRepository(t.TempDir())
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	logs, err := logstore.NewFileStore(t.TempDir(), false)
	if err != nil {
		t.Fatalf("new log store: %v", err)
	}
	return &env{repo: repo, logs: logs}
}

func (e *env) seed(t *testing.T, problem *model.Problem, submission *model.Submission) {
	t.Helper()
	ctx := context.Background()
	if err := e.repo.SaveLanguage(ctx, &model.Language{Name: "python", FileExt: ".py", RunCmd: "python3 main.py"}); err != nil {
		t.Fatalf("seed language: %v", err)
	}
	if problem != nil {
		if err := e.repo.SaveProblem(ctx, problem); err != nil {
			t.Fatalf("seed problem: %v", err)
		}
	}
	if submission != nil {
		if err := e.repo.CreateSubmission(ctx, submission); err != nil {
			t.Fatalf("seed submission: %v", err)
		}
	}
}

func aPlusBProblem() *model.Problem {
	return &model.Problem{
		ID:               "p1",
		TimeLimitSeconds: 2,
		MemoryLimitMB:    128,
		JudgeMode:        model.JudgeModeStandard,
		Testcases: []model.TestCase{
			{Input: "1 2", ExpectedOutput: "3"},
			{Input: "5 7", ExpectedOutput: "12"},
			{Input: "0 0", ExpectedOutput: "0"},
			{Input: "-1 1", ExpectedOutput: "0"},
			{Input: "1000000000 1000000000", ExpectedOutput: "2000000000"},
		},
	}
}

func pendingSubmission(id, problemID string) *model.Submission {
	return &model.Submission{
		SubmissionID: id,
		UserID:       "u1",
		ProblemID:    problemID,
		Language:     "python",
		Code:         "a,b=map(int,input().split())\nprint(a+b)",
		Status:       model.StatusPending,
		SubmitTime:   time.Now(),
	}
}

func newOrchestrator(t *testing.T, e *env, runner Runner, checker CheckerRunner, locks cache.Cache) *Orchestrator {
	t.Helper()
	o, err := New(Config{Workers: 1, Sync: true}, e.repo, e.logs, runner, nil, checker, locks)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return o
}

func TestJudgeAllAccepted(t *testing.T) {
	e := newEnv(t)
	e.seed(t, aPlusBProblem(), pendingSubmission("s1", "p1"))
	o := newOrchestrator(t, e, sumRunner(), nil, nil)
	ctx := context.Background()

	if err := o.Judge(ctx, "s1"); err != nil {
		t.Fatalf("judge: %v", err)
	}

	submission, err := e.repo.GetSubmission(ctx, "s1")
	if err != nil {
		t.Fatalf("get submission: %v", err)
	}
	if submission.Status != model.StatusSuccess || submission.Score != 50 || submission.Counts != 50 {
		t.Fatalf("unexpected submission: %+v", submission)
	}

	log, err := e.logs.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get log: %v", err)
	}
	if len(log.Cases) != 5 {
		t.Fatalf("case count = %d", len(log.Cases))
	}
	for i, c := range log.Cases {
		if c.Index != i {
			t.Fatalf("cases out of order: %+v", log.Cases)
		}
		if c.Verdict != string(result.VerdictAC) {
			t.Fatalf("case %d verdict = %s", i, c.Verdict)
		}
	}
}

func TestJudgeWrongAnswerScoresMatchingCasesOnly(t *testing.T) {
	e := newEnv(t)
	e.seed(t, aPlusBProblem(), pendingSubmission("s1", "p1"))
	// Behaves like a-b: only the (0,0) case happens to match.
	diff := &stubRunner{available: true, run: func(req sandbox.RunRequest) (sandbox.Run, error) {
		fields := strings.Fields(req.Stdin)
		a, _ := strconv.ParseInt(fields[0], 10, 64)
		b, _ := strconv.ParseInt(fields[1], 10, 64)
		return sandbox.Run{Status: result.VerdictAC, Stdout: fmt.Sprintf("%d\n", a-b)}, nil
	}}
	o := newOrchestrator(t, e, diff, nil, nil)
	ctx := context.Background()

	if err := o.Judge(ctx, "s1"); err != nil {
		t.Fatalf("judge: %v", err)
	}
	submission, _ := e.repo.GetSubmission(ctx, "s1")
	if submission.Status != model.StatusSuccess || submission.Score != 10 {
		t.Fatalf("unexpected submission: %+v", submission)
	}
	log, _ := e.logs.Get(ctx, "s1")
	if log.Cases[0].Verdict != string(result.VerdictWA) || log.Cases[2].Verdict != string(result.VerdictAC) {
		t.Fatalf("unexpected verdicts: %+v", log.Cases)
	}
}

func TestJudgeTLESkipsComparator(t *testing.T) {
	e := newEnv(t)
	problem := &model.Problem{
		ID: "p1", TimeLimitSeconds: 2, MemoryLimitMB: 128,
		Testcases: []model.TestCase{{Input: "5", ExpectedOutput: "25"}},
	}
	e.seed(t, problem, pendingSubmission("s1", "p1"))
	tle := &stubRunner{available: true, run: func(req sandbox.RunRequest) (sandbox.Run, error) {
		return sandbox.Run{Status: result.VerdictTLE, TimeUsedSeconds: req.TimeLimitSeconds}, nil
	}}
	o := newOrchestrator(t, e, tle, nil, nil)
	ctx := context.Background()

	if err := o.Judge(ctx, "s1"); err != nil {
		t.Fatalf("judge: %v", err)
	}
	submission, _ := e.repo.GetSubmission(ctx, "s1")
	if submission.Status != model.StatusSuccess || submission.Score != 0 || submission.Counts != 10 {
		t.Fatalf("unexpected submission: %+v", submission)
	}
	log, _ := e.logs.Get(ctx, "s1")
	if log.Cases[0].Verdict != string(result.VerdictTLE) {
		t.Fatalf("verdict = %s", log.Cases[0].Verdict)
	}
	if log.Cases[0].ActualOutput != "" {
		t.Fatalf("TLE case must not carry program output: %q", log.Cases[0].ActualOutput)
	}
	if log.Cases[0].TimeUsedSeconds != 2 {
		t.Fatalf("time_used = %v", log.Cases[0].TimeUsedSeconds)
	}
}

func TestJudgeMissingProblemMarksError(t *testing.T) {
	e := newEnv(t)
	e.seed(t, nil, pendingSubmission("s1", "ghost"))
	o := newOrchestrator(t, e, sumRunner(), nil, nil)
	ctx := context.Background()

	if err := o.Judge(ctx, "s1"); err == nil {
		t.Fatal("expected error for missing problem")
	}
	submission, _ := e.repo.GetSubmission(ctx, "s1")
	if submission.Status != model.StatusError {
		t.Fatalf("status = %s, want error", submission.Status)
	}
}

func TestJudgeMissingLanguageMarksError(t *testing.T) {
	e := newEnv(t)
	e.seed(t, aPlusBProblem(), nil)
	submission := pendingSubmission("s1", "p1")
	submission.Language = "cobol"
	if err := e.repo.CreateSubmission(context.Background(), submission); err != nil {
		t.Fatalf("seed submission: %v", err)
	}
	o := newOrchestrator(t, e, sumRunner(), nil, nil)

	if err := o.Judge(context.Background(), "s1"); err == nil {
		t.Fatal("expected error for missing language")
	}
	loaded, _ := e.repo.GetSubmission(context.Background(), "s1")
	if loaded.Status != model.StatusError {
		t.Fatalf("status = %s, want error", loaded.Status)
	}
}

func TestJudgeSPJVerdicts(t *testing.T) {
	e := newEnv(t)
	problem := aPlusBProblem()
	problem.JudgeMode = model.JudgeModeSPJ
	problem.Testcases = []model.TestCase{{Input: "5", ExpectedOutput: ""}}
	e.seed(t, problem, pendingSubmission("s1", "p1"))

	echo := &stubRunner{available: true, run: func(req sandbox.RunRequest) (sandbox.Run, error) {
		return sandbox.Run{Status: result.VerdictAC, Stdout: "5 0\n"}, nil
	}}
	checker := &stubChecker{verdict: spj.Verdict{Status: spj.StatusAC}}
	o := newOrchestrator(t, e, echo, checker, nil)
	ctx := context.Background()

	if err := o.Judge(ctx, "s1"); err != nil {
		t.Fatalf("judge: %v", err)
	}
	if checker.calls != 1 {
		t.Fatalf("checker calls = %d", checker.calls)
	}
	submission, _ := e.repo.GetSubmission(ctx, "s1")
	if submission.Score != 10 {
		t.Fatalf("score = %d, want 10 via checker", submission.Score)
	}
}

func TestJudgeSPJErrorFallsBackToStandardCompare(t *testing.T) {
	e := newEnv(t)
	problem := aPlusBProblem()
	problem.JudgeMode = model.JudgeModeSPJ
	problem.Testcases = []model.TestCase{{Input: "1 2", ExpectedOutput: "3"}}
	e.seed(t, problem, pendingSubmission("s1", "p1"))

	checker := &stubChecker{verdict: spj.Verdict{Status: spj.StatusSPJError, Message: "broken"}}
	o := newOrchestrator(t, e, sumRunner(), checker, nil)
	ctx := context.Background()

	if err := o.Judge(ctx, "s1"); err != nil {
		t.Fatalf("judge: %v", err)
	}
	submission, _ := e.repo.GetSubmission(ctx, "s1")
	// Checker broke but the text comparator accepts 3 == 3.
	if submission.Status != model.StatusSuccess || submission.Score != 10 {
		t.Fatalf("unexpected submission after SPJ fallback: %+v", submission)
	}
}

func TestRejudgeIsIdempotent(t *testing.T) {
	e := newEnv(t)
	e.seed(t, aPlusBProblem(), pendingSubmission("s1", "p1"))
	o := newOrchestrator(t, e, sumRunner(), nil, nil)
	ctx := context.Background()

	if err := o.Judge(ctx, "s1"); err != nil {
		t.Fatalf("first judge: %v", err)
	}
	first, _ := e.logs.Get(ctx, "s1")

	if err := o.Judge(ctx, "s1"); err != nil {
		t.Fatalf("second judge: %v", err)
	}
	second, _ := e.logs.Get(ctx, "s1")

	first.JudgedAt, second.JudgedAt = time.Time{}, time.Time{}
	if fmt.Sprintf("%+v", first) != fmt.Sprintf("%+v", second) {
		t.Fatalf("rejudge not idempotent:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestFallbackPathIsFlaggedInLog(t *testing.T) {
	e := newEnv(t)
	e.seed(t, aPlusBProblem(), pendingSubmission("s1", "p1"))
	unavailable := &stubRunner{available: false, run: func(sandbox.RunRequest) (sandbox.Run, error) {
		return sandbox.Run{}, fmt.Errorf("not reachable")
	}}
	fallbackRunner := sumRunner()
	o, err := New(Config{Workers: 1, Sync: true}, e.repo, e.logs, unavailable, fallbackRunner, nil, nil)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	ctx := context.Background()

	if err := o.Judge(ctx, "s1"); err != nil {
		t.Fatalf("judge: %v", err)
	}
	log, _ := e.logs.Get(ctx, "s1")
	if !log.Fallback {
		t.Fatal("fallback judging pass must be flagged in the log")
	}
}

func TestConcurrentJudgeOfSameIDIsRejected(t *testing.T) {
	e := newEnv(t)
	e.seed(t, aPlusBProblem(), pendingSubmission("s1", "p1"))

	server := miniredis.RunT(t)
	locks, err := cache.NewRedisCache(server.Addr())
	if err != nil {
		t.Fatalf("new redis cache: %v", err)
	}
	t.Cleanup(func() { _ = locks.Close() })

	o := newOrchestrator(t, e, sumRunner(), nil, locks)
	ctx := context.Background()

	// Simulate an in-flight judge holding the lock.
	ok, err := locks.TryLock(ctx, judgeLockPrefix+"s1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("prelock: ok=%v err=%v", ok, err)
	}
	if err := o.Judge(ctx, "s1"); !appErr.Is(err, appErr.RejudgeInProgress) {
		t.Fatalf("expected RejudgeInProgress, got %v", err)
	}

	// Released lock lets the judge proceed.
	if err := locks.Unlock(ctx, judgeLockPrefix+"s1"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := o.Judge(ctx, "s1"); err != nil {
		t.Fatalf("judge after unlock: %v", err)
	}
}

func TestEnqueueSynchronousMode(t *testing.T) {
	e := newEnv(t)
	e.seed(t, aPlusBProblem(), pendingSubmission("s1", "p1"))
	o := newOrchestrator(t, e, sumRunner(), nil, nil)
	ctx := context.Background()

	if err := o.Enqueue(ctx, "s1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// Synchronous mode: terminal state is visible immediately.
	submission, _ := e.repo.GetSubmission(ctx, "s1")
	if submission.Status != model.StatusSuccess {
		t.Fatalf("status = %s, want success without polling", submission.Status)
	}
}

func TestEnqueueAsyncPool(t *testing.T) {
	e := newEnv(t)
	e.seed(t, aPlusBProblem(), pendingSubmission("s1", "p1"))
	o, err := New(Config{Workers: 2, QueueSize: 4}, e.repo, e.logs, sumRunner(), nil, nil, nil)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	o.Start()

	if err := o.Enqueue(context.Background(), "s1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	o.Stop()

	submission, _ := e.repo.GetSubmission(context.Background(), "s1")
	if submission.Status != model.StatusSuccess {
		t.Fatalf("status = %s after pool drain", submission.Status)
	}
}
