package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reel-study/backend/internal/events"
	"github.com/reel-study/backend/internal/models"
	"github.com/reel-study/backend/internal/tracker"
	"github.com/reel-study/backend/pkg/queue"
)

type memStatus struct {
	mu   sync.Mutex
	byID map[uuid.UUID]models.Export
}

func (m *memStatus) Save(_ context.Context, exp *models.Export) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byID == nil {
		m.byID = map[uuid.UUID]models.Export{}
	}
	m.byID[exp.ID] = *exp
	return nil
}

func (m *memStatus) Get(_ context.Context, id uuid.UUID) (*models.Export, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.byID[id]
	if !ok {
		return nil, queue.ErrExportNotFound
	}
	return &exp, nil
}

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (m *memObjects) UploadJSON(_ context.Context, key string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[key] = body
	return nil
}

func (m *memObjects) PresignDownload(_ context.Context, key string) (string, error) {
	return "https://signed.example/" + key, nil
}

// memJobs mirrors queue.Queue retry accounting in memory.
type memJobs struct {
	mu      sync.Mutex
	pending []*queue.Job
	dlq     []*queue.Job
}

func (q *memJobs) Dequeue(ctx context.Context, _ time.Duration) (*queue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		time.Sleep(time.Millisecond)
		return nil, ctx.Err()
	}
	job := q.pending[0]
	q.pending = q.pending[1:]
	return job, nil
}

func (q *memJobs) Retry(_ context.Context, job *queue.Job) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.Attempt++
	if job.Exhausted() {
		q.dlq = append(q.dlq, job)
		return true, nil
	}
	q.pending = append(q.pending, job)
	return false, nil
}

func exportJob(t *testing.T, p queue.ExportPayload) *queue.Job {
	t.Helper()
	body, err := json.Marshal(p)
	require.NoError(t, err)
	return &queue.Job{ID: uuid.New().String(), Type: queue.JobTypeExport, Payload: body}
}

func seededService(t *testing.T) *events.Service {
	t.Helper()
	svc := events.NewService(events.NewMemoryStore(), nil, nil)
	for _, name := range []string{"reel_video_start", "reel_video_watch_time", "video_summary"} {
		_, _, err := svc.Track(context.Background(), tracker.TrackRequest{
			EventName: name, StudyType: "reel_video", ParticipantID: "p1",
		}, events.Metadata{})
		require.NoError(t, err)
	}
	return svc
}

func TestProcessUploadsAndCompletes(t *testing.T) {
	status := &memStatus{}
	objects := &memObjects{}
	p := NewExportProcessor(seededService(t), objects, status, &memJobs{}, nil)

	id := uuid.New()
	require.NoError(t, status.Save(context.Background(), &models.Export{ID: id, Condition: "reel_video", Status: models.ExportStatusQueued}))
	require.NoError(t, p.Process(context.Background(), exportJob(t, queue.ExportPayload{ExportID: id, Condition: "reel_video"})))

	exp, err := status.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusCompleted, exp.Status)
	assert.Equal(t, 3, exp.EventCount)
	assert.Equal(t, "exports/reel_video/"+id.String()+".json", exp.S3Key)
	assert.Contains(t, exp.DownloadURL, exp.S3Key)
	assert.Contains(t, objects.objects, exp.S3Key)
}

func TestHandleRetriesThenDeadLetters(t *testing.T) {
	status := &memStatus{}
	jobs := &memJobs{}
	p := NewExportProcessor(seededService(t), &memObjects{err: errors.New("access denied")}, status, jobs, nil)

	id := uuid.New()
	jobs.pending = append(jobs.pending, exportJob(t, queue.ExportPayload{ExportID: id, Condition: "reel_video"}))
	for i := 0; i < queue.MaxRetries; i++ {
		job, err := jobs.Dequeue(context.Background(), 0)
		require.NoError(t, err)
		require.NotNil(t, job, "attempt %d", i+1)
		p.Handle(context.Background(), job)
	}

	assert.Empty(t, jobs.pending)
	require.Len(t, jobs.dlq, 1)
	exp, err := status.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusFailed, exp.Status)
	assert.Contains(t, exp.Error, "access denied")
}

func TestRunDrainsQueueUntilCancelled(t *testing.T) {
	status := &memStatus{}
	id := uuid.New()
	jobs := &memJobs{}
	jobs.pending = append(jobs.pending, exportJob(t, queue.ExportPayload{ExportID: id, Condition: "reel_video"}))
	p := NewExportProcessor(seededService(t), &memObjects{}, status, jobs, nil)
	p.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		exp, err := status.Get(context.Background(), id)
		return err == nil && exp.Status == models.ExportStatusCompleted
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
