// Package repository provides the narrow read/write view of
// submissions, problems and language profiles used by the judge
// orchestrator and the HTTP surface.
package repository

import (
	"context"

	"ojcore/internal/judge/model"
)

// SubmissionUpdate carries the fields a submission mutation may touch.
// Nil fields are left unchanged.
type SubmissionUpdate struct {
	Status *model.SubmissionStatus
	Score  *int
	Counts *int
}

// ListFilter narrows a submission listing. At least one of UserID and
// ProblemID must be set.
type ListFilter struct {
	UserID    string
	ProblemID string
	Status    model.SubmissionStatus
	Page      int
	PageSize  int
}

// Repository is the facade the orchestrator depends on. Implementations
// must provide read-after-write consistency for a single submission id.
type Repository interface {
	CreateSubmission(ctx context.Context, submission *model.Submission) error
	GetSubmission(ctx context.Context, id string) (*model.Submission, error)
	UpdateSubmission(ctx context.Context, id string, update SubmissionUpdate) error
	ListSubmissions(ctx context.Context, filter ListFilter) ([]*model.Submission, int, error)

	GetProblem(ctx context.Context, id string) (*model.Problem, error)
	SaveProblem(ctx context.Context, problem *model.Problem) error

	GetLanguage(ctx context.Context, name string) (*model.Language, error)
	SaveLanguage(ctx context.Context, language *model.Language) error
}
