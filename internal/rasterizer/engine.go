package rasterizer

import (
	"context"
	"image"
	"image/draw"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
)

// Engine decodes documents for rendering.
type Engine interface {
	Name() string
	Open(data []byte) (Source, error)
}

// Source is a decoded document held by an Engine.
type Source interface {
	NumPage() int
	// RenderPage renders the zero-based page index at dpi into a newly allocated buffer.
	RenderPage(ctx context.Context, index int, dpi float64) (*image.RGBA, error)
	Close() error
}

// Options configures engine resolution.
type Options struct {
	Engine     string // "auto" (default), "fitz", "mutool"
	MutoolPath string
	TempDir    string
}

// lookPath is swapped in tests.
var lookPath = exec.LookPath

// resolveEngine picks the engine once per Rasterizer:
// configured mutool binary, then mutool on PATH, then embedded MuPDF.
func resolveEngine(opts Options) Engine {
	mode := strings.ToLower(strings.TrimSpace(opts.Engine))
	switch mode {
	case "fitz":
		return fitzEngine{}
	case "", "auto", "mutool":
		if p := findMutool(opts.MutoolPath); p != "" {
			return &mutoolEngine{bin: p, tempDir: opts.TempDir}
		}
		if mode == "mutool" {
			log.Warn().Str("mutool_path", opts.MutoolPath).Msg("mutool not found; falling back to embedded MuPDF")
		}
		return fitzEngine{}
	default:
		log.Warn().Str("engine", opts.Engine).Msg("unknown render engine; using embedded MuPDF")
		return fitzEngine{}
	}
}

func findMutool(configured string) string {
	if configured != "" {
		if st, err := os.Stat(configured); err == nil && !st.IsDir() {
			return configured
		}
	}
	if p, err := lookPath("mutool"); err == nil {
		return p
	}
	return ""
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
