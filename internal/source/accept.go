package source

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/receiptprint/internal/crop"
	"github.com/local/receiptprint/internal/metrics"
)

var accepted = map[string]Kind{
	"application/pdf": KindPDF,
	"image/jpeg":      KindJPEG,
	"image/png":       KindPNG,
}

// Accept sniffs data by magic bytes, not by name. PDFs, JPEGs and PNGs become
// Files; anything else is dropped and reported as ok=false. Images get their
// preview immediately at native resolution.
func Accept(name string, data []byte) (*File, bool) {
	mtype := mimetype.Detect(data)
	kind, ok := accepted[mtype.String()]
	if !ok {
		log.Debug().Str("name", name).Str("mime", mtype.String()).Msg("file dropped by type filter")
		metrics.IncFileRejected()
		return nil, false
	}

	f := &File{
		ID:      uuid.NewString(),
		Name:    name,
		MIME:    mtype.String(),
		Kind:    kind,
		Data:    data,
		AddedAt: time.Now().UTC(),
	}
	if kind != KindPDF {
		img, err := DecodePreview(data)
		if err != nil {
			log.Warn().Err(err).Str("name", name).Msg("image failed to decode; dropped")
			metrics.IncFileRejected()
			return nil, false
		}
		f.preview = img
	}
	metrics.IncFileAccepted(string(kind))
	log.Info().Str("file_id", f.ID).Str("name", name).Str("kind", string(kind)).Int("size", len(data)).Msg("file accepted")
	return f, true
}

// DecodePreview decodes a JPEG or PNG honoring its EXIF orientation.
func DecodePreview(data []byte) (*crop.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return crop.NewImage(rgba, crop.OriginUpload), nil
}
