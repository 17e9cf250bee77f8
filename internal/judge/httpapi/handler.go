// Package httpapi is the thin HTTP surface in front of the judging
// core: submission intake, status/log reads, rejudging and checker
// management.
package httpapi

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"ojcore/internal/common/cache"
	"ojcore/internal/judge/logstore"
	"ojcore/internal/judge/model"
	"ojcore/internal/judge/orchestrator"
	"ojcore/internal/judge/repository"
	"ojcore/internal/judge/spj"
	appErr "ojcore/pkg/errors"
	"ojcore/pkg/utils/logger"
	"ojcore/pkg/utils/response"
)

const (
	idempotencyHeader    = "Idempotency-Key"
	idempotencyKeyPrefix = "submit:idempotency:"
	maxCheckerBytes      = 256 * 1024
)

// Handler carries the HTTP surface dependencies.
type Handler struct {
	repo           repository.Repository
	logs           logstore.Store
	orch           *orchestrator.Orchestrator
	spjStore       spj.ScriptStore
	spjRunner      *spj.Runner
	cache          cache.Cache
	idempotencyTTL time.Duration
}

// NewHandler creates the HTTP handler set. The cache is optional and
// only backs the Idempotency-Key reservation.
func NewHandler(repo repository.Repository, logs logstore.Store, orch *orchestrator.Orchestrator, spjStore spj.ScriptStore, spjRunner *spj.Runner, cacheClient cache.Cache) *Handler {
	return &Handler{
		repo:           repo,
		logs:           logs,
		orch:           orch,
		spjStore:       spjStore,
		spjRunner:      spjRunner,
		cache:          cacheClient,
		idempotencyTTL: 10 * time.Minute,
	}
}

type createSubmissionRequest struct {
	ProblemID string `json:"problem_id" binding:"required"`
	Language  string `json:"language" binding:"required"`
	Code      string `json:"code" binding:"required"`
	UserID    string `json:"user_id"`
}

type submissionView struct {
	SubmissionID string `json:"submission_id"`
	UserID       string `json:"user_id"`
	ProblemID    string `json:"problem_id"`
	Language     string `json:"language"`
	Status       string `json:"status"`
	Score        int    `json:"score"`
	Counts       int    `json:"counts"`
	SubmitTime   string `json:"submit_time"`
}

func viewOf(s *model.Submission) submissionView {
	return submissionView{
		SubmissionID: s.SubmissionID,
		UserID:       s.UserID,
		ProblemID:    s.ProblemID,
		Language:     s.Language,
		Status:       string(s.Status),
		Score:        s.Score,
		Counts:       s.Counts,
		SubmitTime:   s.SubmitTime.Format(time.RFC3339),
	}
}

// CreateSubmission handles POST /api/submissions/.
func (h *Handler) CreateSubmission(c *gin.Context) {
	var req createSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "problem_id, language and code are required")
		return
	}
	ctx := c.Request.Context()

	// A submission exists only after problem and language do.
	if _, err := h.repo.GetProblem(ctx, req.ProblemID); err != nil {
		response.Error(c, err)
		return
	}
	if _, err := h.repo.GetLanguage(ctx, req.Language); err != nil {
		response.Error(c, err)
		return
	}

	idemKey := strings.TrimSpace(c.GetHeader(idempotencyHeader))
	if existing, hit := h.lookupIdempotency(c, idemKey); hit {
		if submission, err := h.repo.GetSubmission(ctx, existing); err == nil {
			response.Success(c, viewOf(submission))
			return
		}
	}

	submission := &model.Submission{
		SubmissionID: uuid.NewString(),
		UserID:       req.UserID,
		ProblemID:    req.ProblemID,
		Language:     strings.ToLower(req.Language),
		Code:         req.Code,
		Status:       model.StatusPending,
		SubmitTime:   time.Now(),
	}
	if err := h.repo.CreateSubmission(ctx, submission); err != nil {
		response.Error(c, err)
		return
	}
	h.storeIdempotency(c, idemKey, submission.SubmissionID)

	if err := h.orch.Enqueue(ctx, submission.SubmissionID); err != nil {
		response.Error(c, err)
		return
	}

	// In synchronous (TESTING) mode the terminal state is already
	// visible; reload so tests can assert without polling.
	loaded, err := h.repo.GetSubmission(ctx, submission.SubmissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, viewOf(loaded))
}

// GetSubmission handles GET /api/submissions/:id.
func (h *Handler) GetSubmission(c *gin.Context) {
	submission, err := h.repo.GetSubmission(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, viewOf(submission))
}

// ListSubmissions handles GET /api/submissions/.
func (h *Handler) ListSubmissions(c *gin.Context) {
	filter := repository.ListFilter{
		UserID:    c.Query("user_id"),
		ProblemID: c.Query("problem_id"),
		Status:    model.SubmissionStatus(c.Query("judge_status")),
	}
	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	if filter.UserID == "" && filter.ProblemID == "" {
		response.BadRequest(c, "user_id or problem_id is required")
		return
	}

	items, total, err := h.repo.ListSubmissions(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	views := make([]submissionView, 0, len(items))
	for _, s := range items {
		views = append(views, viewOf(s))
	}
	response.SuccessWithPagination(c, views, int64(total), filter.Page, filter.PageSize)
}

// Rejudge handles PUT /api/submissions/:id/rejudge.
func (h *Handler) Rejudge(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := h.repo.GetSubmission(ctx, id); err != nil {
		response.Error(c, err)
		return
	}

	status := model.StatusPending
	zero := 0
	update := repository.SubmissionUpdate{Status: &status, Score: &zero, Counts: &zero}
	if err := h.repo.UpdateSubmission(ctx, id, update); err != nil {
		response.Error(c, err)
		return
	}
	if err := h.orch.Enqueue(ctx, id); err != nil {
		response.Error(c, err)
		return
	}

	loaded, err := h.repo.GetSubmission(ctx, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMessage(c, "rejudge scheduled", viewOf(loaded))
}

// GetSubmissionLog handles GET /api/submissions/:id/log.
func (h *Handler) GetSubmissionLog(c *gin.Context) {
	log, err := h.logs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, log)
}

type logVisibilityRequest struct {
	Visible *bool `json:"visible" binding:"required"`
}

// SetLogVisibility handles PUT /api/problems/:id/log_visibility.
func (h *Handler) SetLogVisibility(c *gin.Context) {
	var req logVisibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "visible is required")
		return
	}
	ctx := c.Request.Context()
	problem, err := h.repo.GetProblem(ctx, c.Param("pid"))
	if err != nil {
		response.Error(c, err)
		return
	}
	problem.LogVisible = *req.Visible
	if err := h.repo.SaveProblem(ctx, problem); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"problem_id": problem.ID, "visible": problem.LogVisible})
}

// UploadChecker handles POST /api/problems/:pid/spj (multipart).
func (h *Handler) UploadChecker(c *gin.Context) {
	ctx := c.Request.Context()
	problemID := c.Param("pid")
	problem, err := h.repo.GetProblem(ctx, problemID)
	if err != nil {
		response.Error(c, err)
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "checker file is required")
		return
	}
	if fileHeader.Size > maxCheckerBytes {
		response.BadRequest(c, "checker file is too large")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErr.Wrapf(err, appErr.InternalServerError, "open upload failed"))
		return
	}
	defer file.Close()
	content, err := io.ReadAll(io.LimitReader(file, maxCheckerBytes+1))
	if err != nil {
		response.Error(c, appErr.Wrapf(err, appErr.InternalServerError, "read upload failed"))
		return
	}
	if len(content) > maxCheckerBytes {
		response.BadRequest(c, "checker file is too large")
		return
	}

	lang, err := spj.Screen(fileHeader.Filename, content)
	if err != nil {
		response.Error(c, err)
		return
	}

	if err := h.spjStore.Save(ctx, spj.Script{ProblemID: problemID, Language: lang, Content: content}); err != nil {
		response.Error(c, err)
		return
	}
	problem.SPJLanguage = lang
	if err := h.repo.SaveProblem(ctx, problem); err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMessage(c, "checker uploaded", gin.H{"problem_id": problemID, "language": lang})
}

// DeleteChecker handles DELETE /api/problems/:pid/spj.
func (h *Handler) DeleteChecker(c *gin.Context) {
	ctx := c.Request.Context()
	problemID := c.Param("pid")
	if err := h.spjStore.Delete(ctx, problemID); err != nil {
		response.Error(c, err)
		return
	}
	if problem, err := h.repo.GetProblem(ctx, problemID); err == nil && problem.SPJLanguage != "" {
		problem.SPJLanguage = ""
		if err := h.repo.SaveProblem(ctx, problem); err != nil {
			logger.Warn(ctx, "clear checker language failed", zap.String("problem_id", problemID), zap.Error(err))
		}
	}
	response.SuccessWithMessage(c, "checker removed", nil)
}

type checkerTestRequest struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
	ActualOutput   string `json:"actual_output"`
}

// TestChecker handles POST /api/problems/:pid/spj/test, a dry run of
// the stored checker against a caller-supplied triple.
func (h *Handler) TestChecker(c *gin.Context) {
	var req checkerTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid checker test payload")
		return
	}
	verdict, err := h.spjRunner.Run(c.Request.Context(), c.Param("pid"), spj.Input{
		Input:          req.Input,
		ExpectedOutput: req.ExpectedOutput,
		ActualOutput:   req.ActualOutput,
	})
	if err != nil {
		if appErr.GetCode(err) == appErr.SPJNotFound {
			response.Error(c, err)
			return
		}
		response.Error(c, appErr.Wrap(err, appErr.CustomTestFailed))
		return
	}
	response.Success(c, verdict)
}

func (h *Handler) lookupIdempotency(c *gin.Context, key string) (string, bool) {
	if h.cache == nil || key == "" {
		return "", false
	}
	existing, err := h.cache.Get(c.Request.Context(), idempotencyKeyPrefix+key)
	if err != nil || existing == "" {
		return "", false
	}
	return existing, true
}

func (h *Handler) storeIdempotency(c *gin.Context, key, submissionID string) {
	if h.cache == nil || key == "" {
		return
	}
	ctx := c.Request.Context()
	if err := h.cache.Set(ctx, idempotencyKeyPrefix+key, submissionID, h.idempotencyTTL); err != nil {
		logger.Warn(ctx, "store idempotency key failed", zap.Error(err))
	}
}
