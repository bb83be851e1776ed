package exports

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reel-study/backend/internal/models"
	"github.com/reel-study/backend/pkg/queue"
	"github.com/reel-study/backend/pkg/response"
)

// StatusStore persists export job state.
type StatusStore interface {
	Save(ctx context.Context, exp *models.Export) error
	Get(ctx context.Context, id uuid.UUID) (*models.Export, error)
}

// Enqueuer hands export jobs to the worker.
type Enqueuer interface {
	EnqueueExport(ctx context.Context, payload queue.ExportPayload) error
}

// Presigner signs download links for finished exports.
type Presigner interface {
	PresignDownload(ctx context.Context, key string) (string, error)
}

// CreateRequest is the body for POST /api/exports.
type CreateRequest struct {
	Condition     string `json:"condition" binding:"required"`
	ParticipantID string `json:"participant_id"`
}

// Handler handles export HTTP endpoints.
type Handler struct {
	status    StatusStore
	queue     Enqueuer
	presigner Presigner
	logger    *zap.Logger
}

// NewHandler creates an exports handler. presigner may be nil, in which case the
// URL stored by the worker is returned as is.
func NewHandler(status StatusStore, q Enqueuer, presigner Presigner, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{status: status, queue: q, presigner: presigner, logger: logger}
}

// Create handles POST /api/exports.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "condition is required")
		return
	}
	exp := &models.Export{
		ID:            uuid.New(),
		Condition:     req.Condition,
		ParticipantID: req.ParticipantID,
		Status:        models.ExportStatusQueued,
	}
	ctx := c.Request.Context()
	if err := h.status.Save(ctx, exp); err != nil {
		h.logger.Error("save export failed", zap.Error(err))
		response.Internal(c, "Failed to create export", err.Error())
		return
	}
	if err := h.queue.EnqueueExport(ctx, queue.ExportPayload{
		ExportID:      exp.ID,
		Condition:     exp.Condition,
		ParticipantID: exp.ParticipantID,
	}); err != nil {
		h.logger.Error("enqueue export failed", zap.String("export_id", exp.ID.String()), zap.Error(err))
		exp.Status = models.ExportStatusFailed
		exp.Error = "enqueue failed"
		_ = h.status.Save(ctx, exp)
		response.ServiceUnavailable(c, "Export queue unavailable")
		return
	}
	h.logger.Info("export queued", zap.String("export_id", exp.ID.String()), zap.String("condition", exp.Condition))
	response.Accepted(c, gin.H{"export_id": exp.ID, "status": exp.Status})
}

// Get handles GET /api/exports/:id.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid export id")
		return
	}
	exp, err := h.status.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, queue.ErrExportNotFound) {
			response.NotFound(c, "export not found")
			return
		}
		response.Internal(c, "Failed to load export", err.Error())
		return
	}
	if exp.Status == models.ExportStatusCompleted && h.presigner != nil && exp.S3Key != "" {
		if url, err := h.presigner.PresignDownload(c.Request.Context(), exp.S3Key); err == nil {
			exp.DownloadURL = url
		} else {
			h.logger.Warn("presign export failed", zap.String("export_id", exp.ID.String()), zap.Error(err))
		}
	}
	response.OK(c, gin.H{"export": exp})
}
