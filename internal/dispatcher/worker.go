package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/receiptprint/internal/batch"
	"github.com/local/receiptprint/internal/crop"
	"github.com/local/receiptprint/internal/source"
	"github.com/local/receiptprint/internal/store"
)

type Queue interface {
	Dequeue(ctx context.Context, consumer string, timeout time.Duration) (string, []byte, error)
	Ack(ctx context.Context, msgID string) error
	IsCancelled(ctx context.Context, jobID string) (bool, error)
	AddDLQ(ctx context.Context, payload []byte, reason string) error
}

type Enqueuer interface {
	Enqueue(ctx context.Context, payload []byte) (string, error)
}

type StatusStore interface {
	Set(ctx context.Context, jobID string, st store.BatchStatus) error
	Get(ctx context.Context, jobID string) (store.BatchStatus, bool, error)
}

// Files resolves library entries and receives batch previews.
type Files interface {
	Get(id string) (*source.File, error)
	SetPreview(id string, img *crop.Image) error
}

// Job is the queued payload for one batch auto-crop run.
type Job struct {
	JobID   string   `json:"job_id"`
	FileIDs []string `json:"file_ids"`
}

// Submit records a queued status and enqueues a batch over fileIDs.
func Submit(ctx context.Context, q Enqueuer, st StatusStore, fileIDs []string) (string, error) {
	job := Job{JobID: uuid.NewString(), FileIDs: fileIDs}
	b, err := json.Marshal(job)
	if err != nil {
		return "", err
	}
	if err := st.Set(ctx, job.JobID, store.BatchStatus{
		Status:  store.StateQueued,
		Total:   len(fileIDs),
		Message: "queued",
	}); err != nil {
		return "", fmt.Errorf("set status: %w", err)
	}
	if _, err := q.Enqueue(ctx, b); err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	log.Info().Str("job_id", job.JobID).Int("files", len(fileIDs)).Msg("batch job queued")
	return job.JobID, nil
}

type Config struct {
	Consumer       string
	DequeueTimeout time.Duration
	// PollInterval is how often a running job checks for cancellation.
	PollInterval time.Duration
}

// Worker consumes batch jobs one at a time; batches never overlap.
type Worker struct {
	cfg     Config
	q       Queue
	status  StatusStore
	files   Files
	cropper batch.AutoCropper

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

func New(cfg Config, q Queue, st StatusStore, files Files, cropper batch.AutoCropper) *Worker {
	if cfg.Consumer == "" {
		cfg.Consumer = "crop-worker"
	}
	if cfg.DequeueTimeout <= 0 {
		cfg.DequeueTimeout = 2 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		cfg:     cfg,
		q:       q,
		status:  st,
		files:   files,
		cropper: cropper,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

func (w *Worker) Start() {
	go w.loop()
}

// Stop cancels the running job and waits for the loop to exit.
func (w *Worker) Stop(ctx context.Context) error {
	w.once.Do(w.cancel)
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer close(w.done)
	log.Info().Str("consumer", w.cfg.Consumer).Msg("batch worker started")
	for {
		if w.ctx.Err() != nil {
			log.Info().Str("consumer", w.cfg.Consumer).Msg("batch worker stopped")
			return
		}
		msgID, data, err := w.q.Dequeue(w.ctx, w.cfg.Consumer, w.cfg.DequeueTimeout)
		if err != nil {
			if w.ctx.Err() != nil {
				continue
			}
			log.Error().Err(err).Msg("queue dequeue error")
			select {
			case <-w.ctx.Done():
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		if msgID == "" {
			continue
		}
		w.handle(msgID, data)
		if err := w.q.Ack(context.Background(), msgID); err != nil {
			log.Warn().Err(err).Str("msg_id", msgID).Msg("ack failed")
		}
	}
}

func (w *Worker) handle(msgID string, data []byte) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil || job.JobID == "" {
		reason := "missing job_id"
		if err != nil {
			reason = err.Error()
		}
		log.Error().Str("msg_id", msgID).Str("reason", reason).Msg("invalid batch payload")
		if err := w.q.AddDLQ(context.Background(), data, reason); err != nil {
			log.Warn().Err(err).Msg("dlq add failed")
		}
		return
	}
	w.run(job)
}

func (w *Worker) run(job Job) {
	bg := context.Background()
	l := log.With().Str("job_id", job.JobID).Logger()

	cancelled, err := w.q.IsCancelled(bg, job.JobID)
	if err != nil {
		l.Warn().Err(err).Msg("cancel check failed; running job")
	}
	if cancelled {
		l.Warn().Msg("job cancelled before processing; skipping")
		now := time.Now()
		w.setStatus(job.JobID, store.BatchStatus{Status: store.StateCancelled, Total: len(job.FileIDs), Message: "cancelled", End: &now})
		return
	}

	queue := make([]*source.File, 0, len(job.FileIDs))
	for _, id := range job.FileIDs {
		f, err := w.files.Get(id)
		if err != nil {
			l.Warn().Str("file_id", id).Msg("file no longer in library; skipping")
			continue
		}
		if f.HasPreview() {
			l.Debug().Str("file_id", id).Msg("file cropped since submission; skipping")
			continue
		}
		queue = append(queue, f)
	}

	start := time.Now()
	st := store.BatchStatus{
		Status:  store.StateRunning,
		Total:   len(queue),
		Message: "running",
		Start:   &start,
		Items:   []store.ItemStatus{},
	}
	w.setStatus(job.JobID, st)

	jctx, cancel := context.WithCancel(w.ctx)
	defer cancel()
	watchDone := make(chan struct{})
	go w.watchCancel(jctx, cancel, job.JobID, watchDone)

	o := batch.New(w.cropper)
	o.OnEvent = func(ev batch.Event) {
		item := store.ItemStatus{FileID: ev.FileID, Name: ev.Name, OK: ev.Err == nil}
		if ev.Err != nil {
			item.Error = ev.Err.Error()
			st.Failed++
		} else if err := w.files.SetPreview(ev.FileID, ev.Preview); err != nil {
			if errors.Is(err, source.ErrPreviewSet) {
				l.Debug().Str("file_id", ev.FileID).Msg("preview already set; keeping existing")
			} else {
				l.Warn().Err(err).Str("file_id", ev.FileID).Msg("set preview failed")
			}
		}
		st.Processed++
		st.Items = append(st.Items, item)
		st.Message = fmt.Sprintf("processed %d of %d", st.Processed, st.Total)
		w.setStatus(job.JobID, st)
	}
	results := o.RunAll(jctx, queue)
	canceled := jctx.Err() != nil
	cancel()
	<-watchDone

	end := time.Now()
	st.End = &end
	switch {
	case canceled:
		st.Status = store.StateCancelled
		st.Message = fmt.Sprintf("cancelled after %d of %d", st.Processed, st.Total)
	default:
		st.Status = store.StateCompleted
		st.Message = fmt.Sprintf("cropped %d, failed %d", len(results), st.Failed)
	}
	w.setStatus(job.JobID, st)
	l.Info().Str("status", st.Status).Int("cropped", len(results)).Int("failed", st.Failed).
		Dur("took", end.Sub(start)).Msg("batch job finished")
}

func (w *Worker) watchCancel(ctx context.Context, cancel context.CancelFunc, jobID string, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(w.cfg.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			cancelled, err := w.q.IsCancelled(context.Background(), jobID)
			if err != nil {
				log.Debug().Err(err).Str("job_id", jobID).Msg("cancel poll failed")
				continue
			}
			if cancelled {
				log.Info().Str("job_id", jobID).Msg("cancel requested")
				cancel()
				return
			}
		}
	}
}

func (w *Worker) setStatus(jobID string, st store.BatchStatus) {
	if err := w.status.Set(context.Background(), jobID, st); err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("status update failed")
	}
}
