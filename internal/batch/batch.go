package batch

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/receiptprint/internal/crop"
	"github.com/local/receiptprint/internal/metrics"
	"github.com/local/receiptprint/internal/source"
)

var ErrNotPDF = source.ErrNotPDF

// AutoCropper crops one page of a document.
type AutoCropper interface {
	AutoCrop(ctx context.Context, data []byte, page int) (*crop.Image, error)
}

// Result is a successfully cropped item.
type Result struct {
	ID      string
	Preview *crop.Image
}

// Event reports progress for one item. Preview is set on success, Err on
// failure.
type Event struct {
	Index   int
	Total   int
	FileID  string
	Name    string
	Preview *crop.Image
	Err     error
}

// Orchestrator auto-crops a queue of files one at a time.
type Orchestrator struct {
	cropper AutoCropper
	OnEvent func(Event)
}

func New(c AutoCropper) *Orchestrator {
	return &Orchestrator{cropper: c}
}

// RunAll crops page 1 of every file in order. A failing item is reported and
// skipped; it never aborts the batch. Cancellation stops before the next
// item. Results keep queue order and omit failures.
func (o *Orchestrator) RunAll(ctx context.Context, queue []*source.File) []Result {
	start := time.Now()
	results := make([]Result, 0, len(queue))
	failed := 0
	for i, f := range queue {
		if ctx.Err() != nil {
			log.Info().Int("processed", i).Int("total", len(queue)).Msg("batch canceled")
			break
		}
		ev := Event{Index: i, Total: len(queue), FileID: f.ID, Name: f.Name}

		var img *crop.Image
		var err error
		if !f.IsPDF() {
			err = ErrNotPDF
		} else {
			img, err = o.cropper.AutoCrop(ctx, f.Data, 1)
		}
		if err != nil && ctx.Err() != nil {
			log.Info().Int("processed", i).Int("total", len(queue)).Msg("batch canceled")
			break
		}

		ev.Err = err
		if err != nil {
			failed++
			metrics.IncBatchItem(false)
			log.Error().Err(err).Str("file_id", f.ID).Str("name", f.Name).Int("index", i).Msg("auto crop failed")
		} else {
			metrics.IncBatchItem(true)
			ev.Preview = img
			results = append(results, Result{ID: f.ID, Preview: img})
		}
		if o.OnEvent != nil {
			o.OnEvent(ev)
		}
	}
	log.Info().Int("total", len(queue)).Int("cropped", len(results)).Int("failed", failed).
		Dur("took", time.Since(start)).Msg("batch finished")
	return results
}
