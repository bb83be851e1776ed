package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/reel-study/backend/internal/events"
	"github.com/reel-study/backend/internal/exports"
	"github.com/reel-study/backend/internal/models"
	"github.com/reel-study/backend/pkg/queue"
	"github.com/reel-study/backend/pkg/storage"
)

// dequeueWait bounds one blocking pop so the loop notices cancellation.
const dequeueWait = 5 * time.Second

// JobQueue is the part of queue.Queue the processor needs.
type JobQueue interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) (deadLettered bool, err error)
}

// ObjectStore uploads export documents and signs links to them.
type ObjectStore interface {
	UploadJSON(ctx context.Context, key string, body []byte) error
	PresignDownload(ctx context.Context, key string) (string, error)
}

// ExportProcessor processes export jobs: read events, upload JSON to S3, record the result.
type ExportProcessor struct {
	svc     *events.Service
	store   ObjectStore
	status  exports.StatusStore
	queue   JobQueue
	logger  *zap.Logger
	backoff time.Duration
	now     func() time.Time
}

// NewExportProcessor creates an export processor.
func NewExportProcessor(svc *events.Service, store ObjectStore, status exports.StatusStore, q JobQueue, logger *zap.Logger) *ExportProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportProcessor{
		svc:     svc,
		store:   store,
		status:  status,
		queue:   q,
		logger:  logger,
		backoff: queue.RetryBackoff,
		now:     time.Now,
	}
}

// Process executes one export job.
func (p *ExportProcessor) Process(ctx context.Context, job *queue.Job) error {
	payload, err := job.Export()
	if err != nil {
		return err
	}
	exp, err := p.status.Get(ctx, payload.ExportID)
	if err != nil {
		if !errors.Is(err, queue.ErrExportNotFound) {
			return fmt.Errorf("load export: %w", err)
		}
		exp = &models.Export{ID: payload.ExportID, Condition: payload.Condition, ParticipantID: payload.ParticipantID}
	}
	if exp.Status == models.ExportStatusCompleted {
		p.logger.Info("export already completed", zap.String("export_id", exp.ID.String()))
		return nil
	}

	exp.Status = models.ExportStatusProcessing
	if err := p.status.Save(ctx, exp); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	doc, body, err := exports.Build(ctx, p.svc, exp, p.now())
	if err != nil {
		return err
	}
	key := storage.ExportKey(exp.Condition, exp.ID.String())
	if err := p.store.UploadJSON(ctx, key, body); err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}
	url, err := p.store.PresignDownload(ctx, key)
	if err != nil {
		return fmt.Errorf("presign: %w", err)
	}

	exp.Status = models.ExportStatusCompleted
	exp.EventCount = doc.Count
	exp.S3Key = key
	exp.DownloadURL = url
	exp.Error = ""
	if err := p.status.Save(ctx, exp); err != nil {
		p.logger.Error("update export status failed", zap.Error(err), zap.String("export_id", exp.ID.String()))
		return fmt.Errorf("update status: %w", err)
	}

	p.logger.Info("export completed",
		zap.String("export_id", exp.ID.String()),
		zap.String("s3_key", key),
		zap.Int("events", doc.Count))
	return nil
}

// fail records a dead-lettered job on its export.
func (p *ExportProcessor) fail(ctx context.Context, job *queue.Job, cause error) {
	payload, err := job.Export()
	if err != nil {
		return
	}
	exp, err := p.status.Get(ctx, payload.ExportID)
	if err != nil {
		exp = &models.Export{ID: payload.ExportID, Condition: payload.Condition, ParticipantID: payload.ParticipantID}
	}
	exp.Status = models.ExportStatusFailed
	exp.Error = cause.Error()
	if err := p.status.Save(ctx, exp); err != nil {
		p.logger.Error("mark export failed", zap.Error(err), zap.String("export_id", exp.ID.String()))
	}
}

// Handle processes job and applies the retry policy on failure.
func (p *ExportProcessor) Handle(ctx context.Context, job *queue.Job) {
	p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
	err := p.Process(ctx, job)
	if err == nil {
		return
	}
	p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
	dead, reErr := p.queue.Retry(ctx, job)
	if reErr != nil {
		p.logger.Error("retry enqueue failed", zap.Error(reErr))
		return
	}
	if dead {
		p.fail(ctx, job, err)
	}
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *ExportProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("export worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx, dequeueWait)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}
		before := job.Attempt
		p.Handle(ctx, job)
		if job.Attempt > before {
			p.sleep(ctx)
		}
	}
}

func (p *ExportProcessor) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.backoff):
	}
}
