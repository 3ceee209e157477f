package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/axiomhq/axiom-go/axiom"
	"github.com/axiomhq/axiom-go/axiom/ingest"
	"github.com/rs/zerolog"
)

const (
	axiomQueueSize = 1000
	axiomBatchSize = 200
)

// axiomSink is a zerolog.LevelWriter that batches events to an Axiom
// dataset. Debug lines never leave the process.
type axiomSink struct {
	send     func(ctx context.Context, events []axiom.Event) error
	minLevel zerolog.Level
	ch       chan axiom.Event
	dropped  atomic.Int64

	once sync.Once
	done chan struct{}
	wg   sync.WaitGroup
}

func newAxiomSink(token, orgID, dataset string, flushEvery time.Duration) (*axiomSink, error) {
	if dataset == "" {
		dataset = "dev_" + serviceName
	}
	opts := []axiom.Option{axiom.SetToken(token)}
	if orgID != "" {
		opts = append(opts, axiom.SetOrganizationID(orgID))
	}
	c, err := axiom.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	send := func(ctx context.Context, events []axiom.Event) error {
		_, err := c.IngestEvents(ctx, dataset, events)
		return err
	}
	return startSink(send, flushEvery), nil
}

func startSink(send func(context.Context, []axiom.Event) error, flushEvery time.Duration) *axiomSink {
	if flushEvery <= 0 {
		flushEvery = 10 * time.Second
	}
	s := &axiomSink{
		send:     send,
		minLevel: zerolog.InfoLevel,
		ch:       make(chan axiom.Event, axiomQueueSize),
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.loop(flushEvery)
	return s
}

func (s *axiomSink) Write(p []byte) (int, error) {
	return s.WriteLevel(zerolog.NoLevel, p)
}

func (s *axiomSink) WriteLevel(l zerolog.Level, p []byte) (int, error) {
	if l != zerolog.NoLevel && l < s.minLevel {
		return len(p), nil
	}
	var ev map[string]interface{}
	if err := json.Unmarshal(p, &ev); err != nil {
		ev = map[string]interface{}{"message": string(p), "level": "info"}
	}
	if _, ok := ev[ingest.TimestampField]; !ok {
		ev[ingest.TimestampField] = time.Now()
	}
	select {
	case s.ch <- axiom.Event(ev):
	default:
		s.dropped.Add(1)
	}
	return len(p), nil
}

func (s *axiomSink) loop(flushEvery time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()
	batch := make([]axiom.Event, 0, axiomBatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := s.send(ctx, batch); err != nil {
			fmt.Fprintf(os.Stderr, "axiom ingest failed (%d events): %v\n", len(batch), err)
		}
		cancel()
		batch = make([]axiom.Event, 0, axiomBatchSize)
	}
	for {
		select {
		case <-s.done:
			for {
				select {
				case ev := <-s.ch:
					batch = append(batch, ev)
				default:
					flush()
					return
				}
			}
		case <-ticker.C:
			flush()
		case ev := <-s.ch:
			batch = append(batch, ev)
			if len(batch) >= axiomBatchSize {
				flush()
			}
		}
	}
}

// Close drains queued events and performs a final flush.
func (s *axiomSink) Close() error {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()
	if n := s.dropped.Load(); n > 0 {
		fmt.Fprintf(os.Stderr, "axiom sink dropped %d events\n", n)
	}
	return nil
}
