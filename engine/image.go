package engine

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	"image/png"
	"log/slog"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/hazyhaar/topdf/convert"
	"github.com/hazyhaar/topdf/docpipe"
)

// Image places one image on one page through pdfcpu. Formats pdfcpu does not
// import directly are decoded and re-encoded as PNG first, with transparency
// flattened onto white.
type Image struct {
	logger *slog.Logger
}

func NewImage(logger *slog.Logger) *Image {
	if logger == nil {
		logger = slog.Default()
	}
	return &Image{logger: logger}
}

func (e *Image) Name() convert.Strategy { return convert.StrategyImage }
func (e *Image) Available() bool        { return true }

// direct lists the extensions pdfcpu imports as-is.
var direct = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".tif": true, ".tiff": true}

func (e *Image) Convert(ctx context.Context, in, out string) error {
	src := in
	if !direct[docpipe.Ext(in)] {
		png, err := transcodePNG(in)
		if err != nil {
			return fmt.Errorf("image: %w", err)
		}
		defer os.Remove(png)
		src = png
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// pdfcpu appends to an existing output, so import into a fresh file.
	tmp, err := tempSibling(out)
	if err != nil {
		return fmt.Errorf("image: %w", err)
	}
	os.Remove(tmp)
	defer os.Remove(tmp)

	conf := model.NewDefaultConfiguration()
	imp := pdfcpu.DefaultImportConfig()
	if err := api.ImportImagesFile([]string{src}, tmp, imp, conf); err != nil {
		return fmt.Errorf("image: import: %w", err)
	}
	return place(tmp, out)
}

func transcodePNG(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	img, format, err := image.Decode(f)
	if err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}

	b := img.Bounds()
	flat := image.NewRGBA(b)
	draw.Draw(flat, b, &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(flat, b, img, b.Min, draw.Over)

	tmp, err := os.CreateTemp("", "topdf-img-*.png")
	if err != nil {
		return "", err
	}
	if err := png.Encode(tmp, flat); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("encode %s as png: %w", format, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}
