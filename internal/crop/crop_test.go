package crop

import (
	"context"
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/local/receiptprint/internal/rasterizer"
	"github.com/local/receiptprint/internal/testutil"
)

func TestClampRegion(t *testing.T) {
	tests := []struct {
		name string
		in   Region
		w, h int
		want Region
	}{
		{name: "fits", in: Region{10, 20, 100}, w: 500, h: 500, want: Region{10, 20, 100}},
		{name: "side shrinks to height", in: Region{0, 0, 860}, w: 1000, h: 400, want: Region{0, 0, 400}},
		{name: "side shrinks to width", in: Region{0, 0, 860}, w: 300, h: 900, want: Region{0, 0, 300}},
		{name: "shift left", in: Region{450, 0, 100}, w: 500, h: 500, want: Region{400, 0, 100}},
		{name: "shift up", in: Region{0, 480, 100}, w: 500, h: 500, want: Region{0, 400, 100}},
		{name: "negative origin", in: Region{-5, -9, 50}, w: 100, h: 100, want: Region{0, 0, 50}},
		{name: "zero side", in: Region{3, 3, 0}, w: 10, h: 10, want: Region{3, 3, 1}},
		{name: "shrink then shift", in: Region{200, 200, 860}, w: 600, h: 400, want: Region{200, 0, 400}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClampRegion(tt.in, tt.w, tt.h)
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
			if got.X+got.Side > tt.w || got.Y+got.Side > tt.h || got.X < 0 || got.Y < 0 {
				t.Fatalf("region %+v escapes %dx%d", got, tt.w, tt.h)
			}
		})
	}
}

func TestAutoRegion(t *testing.T) {
	tests := []struct {
		w, h int
		want Region
	}{
		{1224, 1584, Region{0, 0, 860}},
		{600, 400, Region{0, 0, 400}},
		{860, 860, Region{0, 0, 860}},
	}
	for _, tt := range tests {
		if got := AutoRegion(tt.w, tt.h); got != tt.want {
			t.Errorf("AutoRegion(%d,%d) = %+v, want %+v", tt.w, tt.h, got, tt.want)
		}
	}
}

func TestExtractAlwaysOutputSide(t *testing.T) {
	src := testutil.Solid(1000, 300, color.RGBA{R: 200, A: 255})
	for _, r := range []Region{{0, 0, 860}, {900, 100, 50}, {0, 0, 1}} {
		out := Extract(src, r, OutputSide)
		if out.Bounds() != image.Rect(0, 0, OutputSide, OutputSide) {
			t.Fatalf("region %+v: bounds %v", r, out.Bounds())
		}
		c := out.RGBAAt(OutputSide/2, OutputSide/2)
		if c.R < 190 || c.G > 10 {
			t.Errorf("region %+v: center pixel %v, want source red", r, c)
		}
	}
}

func TestExtractFreshBuffer(t *testing.T) {
	src := testutil.Solid(100, 100, color.Black)
	a := Extract(src, Region{0, 0, 100}, 50)
	b := Extract(src, Region{0, 0, 100}, 50)
	if &a.Pix[0] == &b.Pix[0] {
		t.Fatal("Extract must allocate a new buffer per call")
	}
}

func TestAutoCropPDF(t *testing.T) {
	ac := NewAutoCropper(rasterizer.New(rasterizer.Options{Engine: "fitz"}))

	tests := []struct {
		name string
		page testutil.Page
	}{
		{name: "letter", page: testutil.Page{Width: 612, Height: 792}},
		{name: "small landscape", page: testutil.Page{Width: 300, Height: 200}},
		{name: "square", page: testutil.Page{Width: 430, Height: 430}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := ac.AutoCrop(context.Background(), testutil.PDF(tt.page), 1)
			if err != nil {
				t.Fatalf("AutoCrop: %v", err)
			}
			if img.Width() != OutputSide || img.Height() != OutputSide {
				t.Fatalf("size %dx%d, want %dx%d", img.Width(), img.Height(), OutputSide, OutputSide)
			}
			px := img.Pixels().(*image.RGBA)
			if c := px.RGBAAt(5, 5); c.R > 60 {
				t.Errorf("top-left pixel %v, want the dark page marker", c)
			}
			if c := px.RGBAAt(OutputSide-5, OutputSide-5); c.R < 200 {
				t.Errorf("bottom-right pixel %v, want white page background", c)
			}
			if img.Origin() != OriginAuto {
				t.Errorf("origin = %s", img.Origin())
			}
		})
	}
}

func TestAutoCropPropagatesDecodeError(t *testing.T) {
	ac := NewAutoCropper(rasterizer.New(rasterizer.Options{Engine: "fitz"}))
	_, err := ac.AutoCrop(context.Background(), nil, 1)
	if !rasterizer.IsDecodeError(err) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
}

func TestDataURL(t *testing.T) {
	img := NewImage(testutil.Solid(4, 4, color.White), OriginUpload)
	u, err := img.DataURL()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(u, "data:image/png;base64,") {
		t.Fatalf("unexpected prefix: %.30s", u)
	}
}
