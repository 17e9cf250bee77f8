package model

import "time"

// SubmissionStatus is the lifecycle state of a submission.
type SubmissionStatus string

const (
	StatusPending SubmissionStatus = "pending"
	StatusSuccess SubmissionStatus = "success"
	StatusError   SubmissionStatus = "error"
)

// PointsPerCase is the score one accepted test case contributes.
const PointsPerCase = 10

// Submission is one user submission. The orchestrator mutates it once
// to a terminal state; it is read-only afterwards.
type Submission struct {
	SubmissionID string           `json:"submission_id"`
	UserID       string           `json:"user_id"`
	ProblemID    string           `json:"problem_id"`
	Language     string           `json:"language"`
	Code         string           `json:"code"`
	Status       SubmissionStatus `json:"status"`
	Score        int              `json:"score"`
	Counts       int              `json:"counts"`
	SubmitTime   time.Time        `json:"submit_time"`
}

// TestCaseOutcome records the verdict of one test case run.
type TestCaseOutcome struct {
	Index           int     `json:"test_case_id"`
	Verdict         string  `json:"status"`
	TimeUsedSeconds float64 `json:"time_used"`
	MemoryUsedMB    int     `json:"memory_used"`
	Input           string  `json:"input_data"`
	ExpectedOutput  string  `json:"expected_output"`
	ActualOutput    string  `json:"actual_output"`
}

// SubmissionLog is the immutable per-submission judging record. A
// rejudge replaces the whole record atomically.
type SubmissionLog struct {
	SubmissionID string            `json:"submission_id"`
	UserID       string            `json:"user_id"`
	ProblemID    string            `json:"problem_id"`
	Language     string            `json:"language"`
	Code         string            `json:"code"`
	Score        int               `json:"score"`
	Counts       int               `json:"counts"`
	Cases        []TestCaseOutcome `json:"test_cases"`
	SubmitTime   time.Time         `json:"submit_time"`
	JudgedAt     time.Time         `json:"judged_at"`
	// Fallback marks a judging pass executed outside the sandbox.
	Fallback bool `json:"fallback,omitempty"`
}
