// Package orchestrator drives per-submission evaluation: it loads the
// submission, problem and language, runs every test case through the
// sandbox (or the fallback executor), applies the verdict policy and
// persists the aggregated result and log.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ojcore/internal/common/cache"
	"ojcore/internal/judge/compare"
	"ojcore/internal/judge/logstore"
	"ojcore/internal/judge/model"
	"ojcore/internal/judge/repository"
	"ojcore/internal/judge/sandbox"
	"ojcore/internal/judge/sandbox/result"
	"ojcore/internal/judge/spj"
	appErr "ojcore/pkg/errors"
	"ojcore/pkg/utils/contextkey"
	"ojcore/pkg/utils/logger"
)

const judgeLockPrefix = "judge:lock:"

// Runner is the executor surface the orchestrator needs; both the
// sandbox executor and the fallback satisfy it.
type Runner interface {
	Run(ctx context.Context, req sandbox.RunRequest) (sandbox.Run, error)
	Available() bool
}

// CheckerRunner evaluates one test case through a problem's checker.
type CheckerRunner interface {
	Run(ctx context.Context, problemID string, in spj.Input) (spj.Verdict, error)
}

// Config holds orchestrator settings.
type Config struct {
	// Workers is the judge pool parallelism.
	Workers int
	// QueueSize bounds pending judge jobs.
	QueueSize int
	// LockTTL bounds how long one submission may stay locked.
	LockTTL time.Duration
	// Sync forces in-caller judging, as the TESTING env flag does.
	Sync bool
}

// Orchestrator owns the judging pipeline.
type Orchestrator struct {
	cfg      Config
	repo     repository.Repository
	logs     logstore.Store
	sandbox  Runner
	fallback Runner
	checker  CheckerRunner
	locks    cache.Cache

	pool *pool
}

// New creates the orchestrator. The checker runner and lock cache are
// optional; the sandbox runner may be nil when only the fallback is
// deployed.
func New(cfg Config, repo repository.Repository, logs logstore.Store, sandboxExec, fallbackExec Runner, checker CheckerRunner, locks cache.Cache) (*Orchestrator, error) {
	if repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if logs == nil {
		return nil, fmt.Errorf("log store is required")
	}
	if sandboxExec == nil && fallbackExec == nil {
		return nil, fmt.Errorf("at least one executor is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	o := &Orchestrator{
		cfg:      cfg,
		repo:     repo,
		logs:     logs,
		sandbox:  sandboxExec,
		fallback: fallbackExec,
		checker:  checker,
		locks:    locks,
	}
	o.pool = newPool(cfg.Workers, cfg.QueueSize, o.runJob)
	return o, nil
}

// Start launches the worker pool.
func (o *Orchestrator) Start() { o.pool.Start() }

// Stop drains the pool and waits for in-flight judges.
func (o *Orchestrator) Stop() { o.pool.Stop() }

// Enqueue schedules a judging pass. In synchronous mode (Config.Sync or
// the TESTING env flag) the judge runs in the caller before returning.
func (o *Orchestrator) Enqueue(ctx context.Context, submissionID string) error {
	if submissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if o.syncMode() {
		return o.Judge(ctx, submissionID)
	}
	if !o.pool.TrySubmit(submissionID) {
		return appErr.New(appErr.JudgeQueueFull)
	}
	return nil
}

func (o *Orchestrator) syncMode() bool {
	return o.cfg.Sync || testingEnvSet()
}

func (o *Orchestrator) runJob(submissionID string) {
	ctx := context.WithValue(context.Background(), contextkey.SubmissionID, submissionID)
	if err := o.Judge(ctx, submissionID); err != nil {
		logger.Warn(ctx, "judge pass failed",
			zap.String("submission_id", submissionID),
			zap.Error(err),
		)
	}
}

// Judge evaluates one submission to a terminal state. Concurrent judges
// of the same id are serialized; the loser gets RejudgeInProgress.
func (o *Orchestrator) Judge(ctx context.Context, submissionID string) (err error) {
	unlock, err := o.acquireLock(ctx, submissionID)
	if err != nil {
		return err
	}
	defer unlock()

	defer func() {
		if r := recover(); r != nil {
			err = appErr.Newf(appErr.JudgeSystemError, "judge panic: %v", r)
			o.failSubmission(ctx, submissionID, err)
		}
	}()

	submission, err := o.repo.GetSubmission(ctx, submissionID)
	if err != nil {
		logger.Error(ctx, "load submission failed", zap.String("submission_id", submissionID), zap.Error(err))
		return err
	}

	problem, err := o.repo.GetProblem(ctx, submission.ProblemID)
	if err != nil {
		o.failSubmission(ctx, submissionID, err)
		return err
	}
	language, err := o.repo.GetLanguage(ctx, submission.Language)
	if err != nil {
		o.failSubmission(ctx, submissionID, err)
		return err
	}

	exec, fallbackUsed, err := o.pickExecutor()
	if err != nil {
		o.failSubmission(ctx, submissionID, err)
		return err
	}
	if fallbackUsed {
		logger.Warn(ctx, "sandbox unavailable, judging via fallback executor",
			zap.String("submission_id", submissionID))
	}

	timeLimit := problem.EffectiveTimeLimit(language)
	memoryLimit := problem.EffectiveMemoryLimit(language)
	mode := problem.JudgeMode.Normalize()

	outcomes := make([]model.TestCaseOutcome, 0, len(problem.Testcases))
	score := 0
	for i, tc := range problem.Testcases {
		outcome := o.judgeTestCase(ctx, exec, submission, problem, language, mode, timeLimit, memoryLimit, i, tc)
		if outcome.Verdict == string(result.VerdictAC) {
			score += model.PointsPerCase
		}
		outcomes = append(outcomes, outcome)
	}
	counts := model.PointsPerCase * len(problem.Testcases)

	log := &model.SubmissionLog{
		SubmissionID: submission.SubmissionID,
		UserID:       submission.UserID,
		ProblemID:    submission.ProblemID,
		Language:     submission.Language,
		Code:         submission.Code,
		Score:        score,
		Counts:       counts,
		Cases:        outcomes,
		SubmitTime:   submission.SubmitTime,
		JudgedAt:     time.Now(),
		Fallback:     fallbackUsed,
	}
	if err := o.logs.Save(ctx, log); err != nil {
		o.failSubmission(ctx, submissionID, err)
		return err
	}

	status := model.StatusSuccess
	update := repository.SubmissionUpdate{Status: &status, Score: &score, Counts: &counts}
	if err := o.repo.UpdateSubmission(ctx, submissionID, update); err != nil {
		o.failSubmission(ctx, submissionID, err)
		return err
	}

	logger.Info(ctx, "submission judged",
		zap.String("submission_id", submissionID),
		zap.Int("score", score),
		zap.Int("counts", counts),
		zap.Bool("fallback", fallbackUsed),
	)
	return nil
}

func (o *Orchestrator) judgeTestCase(
	ctx context.Context,
	exec Runner,
	submission *model.Submission,
	problem *model.Problem,
	language *model.Language,
	mode model.JudgeMode,
	timeLimit float64,
	memoryLimit int,
	index int,
	tc model.TestCase,
) model.TestCaseOutcome {
	outcome := model.TestCaseOutcome{
		Index:          index,
		Input:          tc.Input,
		ExpectedOutput: tc.ExpectedOutput,
	}

	run, err := exec.Run(ctx, sandbox.RunRequest{
		Language:         submission.Language,
		Code:             submission.Code,
		Stdin:            tc.Input,
		TimeLimitSeconds: timeLimit,
		MemoryLimitMB:    memoryLimit,
		CompileCmd:       language.CompileCmd,
		RunCmd:           language.RunCmd,
	})
	if err != nil {
		outcome.Verdict = string(result.VerdictUNK)
		outcome.ActualOutput = ""
		return outcome
	}

	outcome.TimeUsedSeconds = run.TimeUsedSeconds
	outcome.MemoryUsedMB = run.MemoryUsedMB

	if run.Status.Terminal() {
		outcome.Verdict = string(run.Status)
		outcome.ActualOutput = run.ErrorText
		return outcome
	}

	// The program ran cleanly; the verdict policy decides AC/WA.
	outcome.ActualOutput = run.Stdout
	outcome.Verdict = string(o.decideVerdict(ctx, problem, mode, tc, run.Stdout))
	return outcome
}

func (o *Orchestrator) decideVerdict(ctx context.Context, problem *model.Problem, mode model.JudgeMode, tc model.TestCase, actual string) result.Verdict {
	if mode == model.JudgeModeSPJ && o.checker != nil {
		verdict, err := o.checker.Run(ctx, problem.ID, spj.Input{
			Input:          tc.Input,
			ExpectedOutput: tc.ExpectedOutput,
			ActualOutput:   actual,
		})
		switch {
		case err != nil:
			logger.Warn(ctx, "checker unavailable, falling back to standard compare",
				zap.String("problem_id", problem.ID), zap.Error(err))
		case verdict.Status == spj.StatusAC:
			return result.VerdictAC
		case verdict.Status == spj.StatusWA:
			return result.VerdictWA
		default:
			logger.Warn(ctx, "checker failed, falling back to standard compare",
				zap.String("problem_id", problem.ID), zap.String("message", verdict.Message))
		}
		if compare.Standard(tc.ExpectedOutput, actual) {
			return result.VerdictAC
		}
		return result.VerdictWA
	}

	if mode == model.JudgeModeStrict {
		if compare.Strict(tc.ExpectedOutput, actual) {
			return result.VerdictAC
		}
		return result.VerdictWA
	}

	if compare.Standard(tc.ExpectedOutput, actual) {
		return result.VerdictAC
	}
	return result.VerdictWA
}

func (o *Orchestrator) pickExecutor() (Runner, bool, error) {
	if o.sandbox != nil && o.sandbox.Available() {
		return o.sandbox, false, nil
	}
	if o.fallback != nil && o.fallback.Available() {
		return o.fallback, true, nil
	}
	return nil, false, appErr.New(appErr.JudgeSystemError).WithMessage("no executor available")
}

// failSubmission best-effort marks the submission as an infrastructure
// error and discards any previous log so callers never see a mixture.
func (o *Orchestrator) failSubmission(ctx context.Context, submissionID string, cause error) {
	logger.Error(ctx, "judge failed", zap.String("submission_id", submissionID), zap.Error(cause))
	status := model.StatusError
	if err := o.repo.UpdateSubmission(ctx, submissionID, repository.SubmissionUpdate{Status: &status}); err != nil {
		logger.Warn(ctx, "mark submission error failed", zap.String("submission_id", submissionID), zap.Error(err))
	}
	if err := o.logs.Delete(ctx, submissionID); err != nil {
		logger.Warn(ctx, "discard submission log failed", zap.String("submission_id", submissionID), zap.Error(err))
	}
}

func (o *Orchestrator) acquireLock(ctx context.Context, submissionID string) (func(), error) {
	if o.locks == nil {
		return func() {}, nil
	}
	key := judgeLockPrefix + submissionID
	ok, err := o.locks.TryLock(ctx, key, o.cfg.LockTTL)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.LockFailed, "acquire judge lock failed")
	}
	if !ok {
		return nil, appErr.New(appErr.RejudgeInProgress)
	}
	return func() {
		if err := o.locks.Unlock(context.Background(), key); err != nil {
			logger.Warn(ctx, "release judge lock failed", zap.String("submission_id", submissionID), zap.Error(err))
		}
	}, nil
}
