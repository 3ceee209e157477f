package crop

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/local/receiptprint/internal/metrics"
	"github.com/local/receiptprint/internal/rasterizer"
)

// Renderer renders one page of a document held in memory.
type Renderer interface {
	Render(ctx context.Context, data []byte, page int, scale float64) (*rasterizer.RenderedPage, error)
}

// AutoCropper produces square crops without user input.
type AutoCropper struct {
	renderer Renderer
}

func NewAutoCropper(r Renderer) *AutoCropper {
	return &AutoCropper{renderer: r}
}

// AutoCrop renders page at DefaultScale and crops the top-left square to
// OutputSide×OutputSide. Only render and decode errors are returned.
func (a *AutoCropper) AutoCrop(ctx context.Context, data []byte, page int) (*Image, error) {
	rp, err := a.renderer.Render(ctx, data, page, rasterizer.DefaultScale)
	if err != nil {
		if !rasterizer.IsCanceled(err) {
			metrics.IncCrop(string(OriginAuto), false)
		}
		return nil, err
	}
	return FromPage(rp), nil
}

// FromPage applies the auto-crop rule to an already rendered page.
func FromPage(rp *rasterizer.RenderedPage) *Image {
	region := AutoRegion(rp.Width(), rp.Height())
	out := Extract(rp.Image, region, OutputSide)
	metrics.IncCrop(string(OriginAuto), true)
	log.Debug().Int("page", rp.Page).Int("side", region.Side).Msg("auto crop")
	return NewImage(out, OriginAuto)
}
