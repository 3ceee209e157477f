package rasterizer

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog/log"
)

const (
	srcTempPrefix  = "cropsrc-"
	pageTempPrefix = "croppage-"
)

// mutoolEngine renders through the `mutool draw` CLI. Each render is its own
// process, so canceling the context kills it.
type mutoolEngine struct {
	bin     string
	tempDir string
}

func (e *mutoolEngine) Name() string { return "mutool" }

func (e *mutoolEngine) Open(data []byte) (Source, error) {
	n, err := api.PageCount(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return nil, fmt.Errorf("pdf page count failed: %w", err)
	}
	f, err := os.CreateTemp(e.tempDir, srcTempPrefix+"*.pdf")
	if err != nil {
		return nil, err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, err
	}
	return &mutoolSource{bin: e.bin, tempDir: e.tempDir, file: f.Name(), pages: n}, nil
}

type mutoolSource struct {
	bin     string
	tempDir string
	file    string
	pages   int
}

func (s *mutoolSource) NumPage() int { return s.pages }

func (s *mutoolSource) RenderPage(ctx context.Context, index int, dpi float64) (*image.RGBA, error) {
	dir, err := os.MkdirTemp(s.tempDir, pageTempPrefix)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)
	out := filepath.Join(dir, "page.png")

	res := strconv.Itoa(int(math.Round(dpi)))
	cmd := exec.CommandContext(ctx, s.bin, "draw", "-q", "-r", res, "-o", out, s.file, strconv.Itoa(index+1))
	if output, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("mutool draw failed for page %d: %s", index+1, strings.TrimSpace(string(output)))
	}

	f, err := os.Open(out)
	if err != nil {
		return nil, fmt.Errorf("mutool produced no output: %w", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode mutool output: %w", err)
	}
	log.Debug().Str("file", filepath.Base(s.file)).Int("page", index+1).Str("dpi", res).Msg("rendered page with mutool")
	return toRGBA(img), nil
}

func (s *mutoolSource) Close() error { return os.Remove(s.file) }
