package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/axiomhq/axiom-go/axiom"
	"github.com/axiomhq/axiom-go/axiom/ingest"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestInitWritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := Init(Options{Level: "debug", Output: &buf}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer Close()

	l := For("crop")
	l.Info().Str("file_id", "abc").Int("page", 2).Msg("cropped")

	var ev map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &ev); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if ev["service"] != serviceName {
		t.Errorf("service = %v, want %s", ev["service"], serviceName)
	}
	if ev["component"] != "crop" {
		t.Errorf("component = %v, want crop", ev["component"])
	}
	if ev["file_id"] != "abc" {
		t.Errorf("file_id = %v, want abc", ev["file_id"])
	}
}

func TestInitRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	if err := Init(Options{Level: "warn", Output: &buf}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	log.Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Errorf("info line written at warn level: %q", buf.String())
	}
	log.Warn().Msg("shown")
	if buf.Len() == 0 {
		t.Error("warn line not written")
	}
}

func TestAxiomSinkBatchesAndDropsDebug(t *testing.T) {
	var (
		mu   sync.Mutex
		sent []axiom.Event
	)
	s := startSink(func(_ context.Context, evs []axiom.Event) error {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, evs...)
		return nil
	}, time.Hour)

	l := zerolog.New(s)
	l.Debug().Msg("render canceled")
	l.Info().Str("file_id", "f1").Msg("file accepted")
	l.Error().Msg("decode failed")
	s.Write([]byte("not json"))
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(sent) != 3 {
		t.Fatalf("sent %d events, want 3", len(sent))
	}
	if sent[0]["file_id"] != "f1" {
		t.Errorf("first event = %v", sent[0])
	}
	if sent[2]["message"] != "not json" {
		t.Errorf("raw line event = %v", sent[2])
	}
	for _, ev := range sent {
		if _, ok := ev[ingest.TimestampField]; !ok {
			t.Errorf("event without timestamp: %v", ev)
		}
	}
}
