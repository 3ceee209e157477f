package crop

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/png"
)

// Origin records which path produced an image.
type Origin string

const (
	OriginAuto   Origin = "auto"
	OriginManual Origin = "manual"
	OriginUpload Origin = "upload"
)

// Image is an immutable cropped or decoded picture ready for print.
type Image struct {
	pixels *image.RGBA
	origin Origin
}

// NewImage takes ownership of px.
func NewImage(px *image.RGBA, origin Origin) *Image {
	return &Image{pixels: px, origin: origin}
}

func (i *Image) Pixels() image.Image { return i.pixels }
func (i *Image) Origin() Origin      { return i.origin }
func (i *Image) Width() int          { return i.pixels.Bounds().Dx() }
func (i *Image) Height() int         { return i.pixels.Bounds().Dy() }

// PNG encodes the image losslessly.
func (i *Image) PNG() ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, i.pixels); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DataURL returns the image as a data:image/png;base64 URL.
func (i *Image) DataURL() (string, error) {
	b, err := i.PNG()
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(b), nil
}
