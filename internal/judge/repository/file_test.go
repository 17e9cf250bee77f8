package repository

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ojcore/internal/judge/model"
	appErr "ojcore/pkg/errors"
)

func newTestRepo(t *testing.T) *FileRepository {
	t.Helper()
	repo, err := NewFileRepository(t.TempDir())
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	return repo
}

func TestSubmissionLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	submission := &model.Submission{
		SubmissionID: "s1",
		UserID:       "u1",
		ProblemID:    "p1",
		Language:     "python",
		Code:         "print(1)",
		Status:       model.StatusPending,
		SubmitTime:   time.Now(),
	}
	if err := repo.CreateSubmission(ctx, submission); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.CreateSubmission(ctx, submission); !appErr.Is(err, appErr.RecordAlreadyExists) {
		t.Fatalf("duplicate create: got %v", err)
	}

	status := model.StatusSuccess
	score, counts := 40, 50
	if err := repo.UpdateSubmission(ctx, "s1", SubmissionUpdate{Status: &status, Score: &score, Counts: &counts}); err != nil {
		t.Fatalf("update: %v", err)
	}

	loaded, err := repo.GetSubmission(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Status != model.StatusSuccess || loaded.Score != 40 || loaded.Counts != 50 {
		t.Fatalf("unexpected submission: %+v", loaded)
	}

	if _, err := repo.GetSubmission(ctx, "missing"); !appErr.Is(err, appErr.SubmissionNotFound) {
		t.Fatalf("missing submission: got %v", err)
	}
}

func TestSubmissionPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewFileRepository(dir)
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	ctx := context.Background()
	submission := &model.Submission{SubmissionID: "s1", UserID: "u1", ProblemID: "p1", Status: model.StatusPending}
	if err := repo.CreateSubmission(ctx, submission); err != nil {
		t.Fatalf("create: %v", err)
	}

	reopened, err := NewFileRepository(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := reopened.GetSubmission(ctx, "s1"); err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
}

func TestListSubmissionsFilterAndPaging(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		submission := &model.Submission{
			SubmissionID: id,
			UserID:       "u1",
			ProblemID:    "p1",
			Status:       model.StatusPending,
			SubmitTime:   base.Add(time.Duration(i) * time.Second),
		}
		if err := repo.CreateSubmission(ctx, submission); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if err := repo.CreateSubmission(ctx, &model.Submission{SubmissionID: "d", UserID: "u2", ProblemID: "p2"}); err != nil {
		t.Fatalf("create d: %v", err)
	}

	if _, _, err := repo.ListSubmissions(ctx, ListFilter{}); err == nil {
		t.Fatal("expected filterless list to be rejected")
	}

	items, total, err := repo.ListSubmissions(ctx, ListFilter{UserID: "u1", Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 || len(items) != 2 {
		t.Fatalf("total = %d, page len = %d", total, len(items))
	}
	// Newest first.
	if items[0].SubmissionID != "c" {
		t.Fatalf("expected newest first, got %s", items[0].SubmissionID)
	}

	items, _, err = repo.ListSubmissions(ctx, ListFilter{UserID: "u1", Page: 2, PageSize: 2})
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(items) != 1 || items[0].SubmissionID != "a" {
		t.Fatalf("unexpected page 2: %+v", items)
	}
}

func TestProblemRoundTripAndLegacyAlias(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	problem := &model.Problem{
		ID:               "p1",
		TimeLimitSeconds: 2,
		MemoryLimitMB:    64,
		JudgeMode:        model.JudgeModeStandard,
		Testcases:        []model.TestCase{{Input: "1 2", ExpectedOutput: "3"}},
	}
	if err := repo.SaveProblem(ctx, problem); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := repo.GetProblem(ctx, "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(loaded.Testcases) != 1 || loaded.Testcases[0].ExpectedOutput != "3" {
		t.Fatalf("unexpected problem: %+v", loaded)
	}

	// Legacy problem files keyed the tests as test_cases.
	legacy := map[string]interface{}{
		"id":         "p2",
		"judge_mode": "strict",
		"test_cases": []map[string]string{{"input": "5", "expected_output": "25"}},
	}
	data, _ := json.Marshal(legacy)
	if err := os.WriteFile(filepath.Join(repo.dataDir, problemsDir, "p2.json"), data, 0644); err != nil {
		t.Fatalf("write legacy problem: %v", err)
	}
	loaded, err = repo.GetProblem(ctx, "p2")
	if err != nil {
		t.Fatalf("get legacy: %v", err)
	}
	if len(loaded.Testcases) != 1 || loaded.Testcases[0].Input != "5" {
		t.Fatalf("legacy alias not read: %+v", loaded)
	}

	if _, err := repo.GetProblem(ctx, "missing"); !appErr.Is(err, appErr.ProblemNotFound) {
		t.Fatalf("missing problem: got %v", err)
	}
}

func TestLanguageRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	language := &model.Language{Name: "python", FileExt: ".py", RunCmd: "python3 main.py"}
	if err := repo.SaveLanguage(ctx, language); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := repo.GetLanguage(ctx, "Python")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.RunCmd != "python3 main.py" {
		t.Fatalf("unexpected language: %+v", loaded)
	}
	if _, err := repo.GetLanguage(ctx, "java"); !appErr.Is(err, appErr.LanguageUnknown) {
		t.Fatalf("unknown language: got %v", err)
	}
}
