package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	renders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "receiptprint",
			Name:      "renders_total",
			Help:      "Page renders by engine and result (ok, canceled, error)",
		},
		[]string{"engine", "result"},
	)

	renderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "receiptprint",
			Name:      "render_duration_seconds",
			Help:      "Duration of page renders by engine",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"engine"},
	)

	crops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "receiptprint",
			Name:      "crops_total",
			Help:      "Crops produced by path (auto, manual) and result",
		},
		[]string{"path", "result"},
	)

	batchItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "receiptprint",
			Name:      "batch_items_total",
			Help:      "Batch auto-crop items by result (success, failed)",
		},
		[]string{"result"},
	)

	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "receiptprint",
			Name:      "sessions_active",
			Help:      "Open interactive crop sessions",
		},
	)

	filesAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "receiptprint",
			Name:      "files_accepted_total",
			Help:      "Uploaded files accepted by kind (pdf, jpeg, png)",
		},
		[]string{"kind"},
	)

	filesRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "receiptprint",
			Name:      "files_rejected_total",
			Help:      "Uploaded files silently dropped by the MIME filter",
		},
	)

	printSheets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "receiptprint",
			Name:      "print_sheets_total",
			Help:      "Print sheets produced by format (html, pdf)",
		},
		[]string{"format"},
	)

	once sync.Once
)

// Init registers collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(renders, renderLatency, crops, batchItems, sessionsActive, filesAccepted, filesRejected, printSheets)
	})
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func ObserveRender(engine, result string, dur time.Duration) {
	renders.WithLabelValues(engine, result).Inc()
	if result == "ok" {
		renderLatency.WithLabelValues(engine).Observe(dur.Seconds())
	}
}

func IncCrop(path string, ok bool)   { crops.WithLabelValues(path, okLabel(ok)).Inc() }
func IncBatchItem(ok bool)          { batchItems.WithLabelValues(map[bool]string{true: "success", false: "failed"}[ok]).Inc() }
func SessionOpened()                { sessionsActive.Inc() }
func SessionClosed()                { sessionsActive.Dec() }
func IncFileAccepted(kind string)   { filesAccepted.WithLabelValues(kind).Inc() }
func IncFileRejected()              { filesRejected.Inc() }
func AddPrintSheets(format string, n int) { printSheets.WithLabelValues(format).Add(float64(n)) }

func okLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
