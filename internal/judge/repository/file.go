package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"ojcore/internal/judge/model"
	appErr "ojcore/pkg/errors"
)

const (
	submissionsFile = "submissions.json"
	languagesFile   = "languages.json"
	problemsDir     = "problems"
)

// FileRepository keeps all state as UTF-8 JSON files under one data
// directory: submissions.json and languages.json as maps keyed by id,
// one problems/<id>.json per problem.
type FileRepository struct {
	dataDir string

	mu          sync.RWMutex
	submissions map[string]*model.Submission
	languages   map[string]*model.Language
}

// NewFileRepository opens the data directory, loading existing state.
func NewFileRepository(dataDir string) (*FileRepository, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data dir is required")
	}
	if err := os.MkdirAll(filepath.Join(dataDir, problemsDir), 0755); err != nil {
		return nil, fmt.Errorf("create data dir failed: %w", err)
	}
	repo := &FileRepository{
		dataDir:     dataDir,
		submissions: make(map[string]*model.Submission),
		languages:   make(map[string]*model.Language),
	}
	if err := loadJSONMap(filepath.Join(dataDir, submissionsFile), &repo.submissions); err != nil {
		return nil, err
	}
	if err := loadJSONMap(filepath.Join(dataDir, languagesFile), &repo.languages); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *FileRepository) CreateSubmission(_ context.Context, submission *model.Submission) error {
	if submission == nil || submission.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.submissions[submission.SubmissionID]; exists {
		return appErr.New(appErr.RecordAlreadyExists).WithDetail("submission_id", submission.SubmissionID)
	}
	cloned := *submission
	r.submissions[submission.SubmissionID] = &cloned
	return r.persistSubmissionsLocked()
}

func (r *FileRepository) GetSubmission(_ context.Context, id string) (*model.Submission, error) {
	if id == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	submission, ok := r.submissions[id]
	if !ok {
		return nil, appErr.New(appErr.SubmissionNotFound)
	}
	cloned := *submission
	return &cloned, nil
}

func (r *FileRepository) UpdateSubmission(_ context.Context, id string, update SubmissionUpdate) error {
	if id == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	submission, ok := r.submissions[id]
	if !ok {
		return appErr.New(appErr.SubmissionNotFound)
	}
	if update.Status != nil {
		submission.Status = *update.Status
	}
	if update.Score != nil {
		submission.Score = *update.Score
	}
	if update.Counts != nil {
		submission.Counts = *update.Counts
	}
	return r.persistSubmissionsLocked()
}

func (r *FileRepository) ListSubmissions(_ context.Context, filter ListFilter) ([]*model.Submission, int, error) {
	if filter.UserID == "" && filter.ProblemID == "" {
		return nil, 0, appErr.New(appErr.InvalidParams).WithMessage("user_id or problem_id is required")
	}
	r.mu.RLock()
	matched := make([]*model.Submission, 0)
	for _, submission := range r.submissions {
		if filter.UserID != "" && submission.UserID != filter.UserID {
			continue
		}
		if filter.ProblemID != "" && submission.ProblemID != filter.ProblemID {
			continue
		}
		if filter.Status != "" && submission.Status != filter.Status {
			continue
		}
		cloned := *submission
		matched = append(matched, &cloned)
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].SubmitTime.Equal(matched[j].SubmitTime) {
			return matched[i].SubmitTime.After(matched[j].SubmitTime)
		}
		return matched[i].SubmissionID < matched[j].SubmissionID
	})

	total := len(matched)
	page, pageSize := normalizePage(filter.Page, filter.PageSize)
	start := (page - 1) * pageSize
	if start >= total {
		return []*model.Submission{}, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (r *FileRepository) GetProblem(_ context.Context, id string) (*model.Problem, error) {
	if id == "" {
		return nil, appErr.ValidationError("problem_id", "required")
	}
	path := r.problemPath(id)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, appErr.New(appErr.ProblemNotFound)
		}
		return nil, appErr.Wrapf(err, appErr.InternalServerError, "read problem failed")
	}
	var problem model.Problem
	if err := json.Unmarshal(data, &problem); err != nil {
		return nil, appErr.Wrapf(err, appErr.TestCaseInvalid, "decode problem failed")
	}
	if problem.ID == "" {
		problem.ID = id
	}
	return &problem, nil
}

func (r *FileRepository) SaveProblem(_ context.Context, problem *model.Problem) error {
	if problem == nil || problem.ID == "" {
		return appErr.ValidationError("problem_id", "required")
	}
	data, err := json.MarshalIndent(problem, "", "  ")
	if err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "encode problem failed")
	}
	if err := writeFileAtomic(r.problemPath(problem.ID), data); err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "write problem failed")
	}
	return nil
}

func (r *FileRepository) GetLanguage(_ context.Context, name string) (*model.Language, error) {
	if name == "" {
		return nil, appErr.ValidationError("language", "required")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	language, ok := r.languages[strings.ToLower(name)]
	if !ok {
		return nil, appErr.New(appErr.LanguageUnknown)
	}
	cloned := *language
	return &cloned, nil
}

func (r *FileRepository) SaveLanguage(_ context.Context, language *model.Language) error {
	if language == nil || language.Name == "" {
		return appErr.ValidationError("language", "required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cloned := *language
	r.languages[strings.ToLower(language.Name)] = &cloned
	data, err := json.MarshalIndent(r.languages, "", "  ")
	if err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "encode languages failed")
	}
	if err := writeFileAtomic(filepath.Join(r.dataDir, languagesFile), data); err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "write languages failed")
	}
	return nil
}

func (r *FileRepository) problemPath(id string) string {
	// Problem ids come from URLs; keep them inside the problems dir.
	return filepath.Join(r.dataDir, problemsDir, filepath.Base(id)+".json")
}

func (r *FileRepository) persistSubmissionsLocked() error {
	data, err := json.MarshalIndent(r.submissions, "", "  ")
	if err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "encode submissions failed")
	}
	if err := writeFileAtomic(filepath.Join(r.dataDir, submissionsFile), data); err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "write submissions failed")
	}
	return nil
}

func normalizePage(page, pageSize int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 200 {
		pageSize = 200
	}
	return page, pageSize
}

func loadJSONMap[T any](path string, out *map[string]*T) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s failed: %w", filepath.Base(path), err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s failed: %w", filepath.Base(path), err)
	}
	return nil
}

// writeFileAtomic writes via a temp file and rename so readers never
// observe a partial file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}
