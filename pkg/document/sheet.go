package document

import (
	"context"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"github.com/recera/flipview/pkg/flipbook"
)

// DefaultBleed is the opacity of the next page showing through paper
const DefaultBleed = 0.10

// SheetOptions tune RenderSheetWith
type SheetOptions struct {
	// NumPages bounds the bleed pass; the last page has nothing behind it
	NumPages int
	// Bleed is the opacity of the mirrored next page multiplied over each
	// face. Zero disables it.
	Bleed float64
}

// RenderSheet composes both faces of sheet side by side, each pageWidth
// wide. Blank faces are white and never reach src. Faces render
// concurrently.
func RenderSheet(ctx context.Context, src flipbook.DocumentSource, sheet flipbook.Sheet, pageWidth int) (image.Image, error) {
	return RenderSheetWith(ctx, src, sheet, pageWidth, SheetOptions{})
}

// RenderSheetWith is RenderSheet with a bleed pass: page p+1 shows through
// face p, mirrored, at opts.Bleed opacity.
func RenderSheetWith(ctx context.Context, src flipbook.DocumentSource, sheet flipbook.Sheet, pageWidth int, opts SheetOptions) (image.Image, error) {
	if pageWidth <= 0 {
		pageWidth = int(math.Round(sheet.Width))
	}
	if pageWidth <= 0 {
		pageWidth = 600
	}

	var faces, behind [2]image.Image
	render := func(ctx context.Context, page int, into *image.Image) func() error {
		return func() error {
			img, err := src.RenderPage(ctx, page, pageWidth)
			if err != nil {
				return err
			}
			*into = ScaleToWidth(img, pageWidth)
			return nil
		}
	}
	g, gctx := errgroup.WithContext(ctx)
	for i, page := range [2]int{sheet.Left, sheet.Right} {
		if page == flipbook.Blank {
			continue
		}
		g.Go(render(gctx, page, &faces[i]))
		if opts.Bleed > 0 && page < opts.NumPages {
			g.Go(render(gctx, page+1, &behind[i]))
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	height := 0
	for _, f := range faces {
		if f != nil && f.Bounds().Dy() > height {
			height = f.Bounds().Dy()
		}
	}
	if height == 0 {
		aspect := 1.414
		if sheet.Width > 0 && sheet.Height > 0 {
			aspect = sheet.Height / sheet.Width
		}
		height = int(math.Round(float64(pageWidth) * aspect))
	}

	canvas := image.NewRGBA(image.Rect(0, 0, 2*pageWidth, height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	for i, f := range faces {
		if f == nil {
			continue
		}
		b := f.Bounds()
		dst := image.Rect(i*pageWidth, 0, i*pageWidth+b.Dx(), b.Dy())
		draw.Draw(canvas, dst, f, b.Min, draw.Over)
		if behind[i] != nil {
			bleed(canvas, dst, behind[i], opts.Bleed)
		}
	}
	return canvas, nil
}

// bleed multiplies a horizontally mirrored copy of page over r at opacity
func bleed(canvas *image.RGBA, r image.Rectangle, page image.Image, opacity float64) {
	pb := page.Bounds()
	back := image.NewRGBA(image.Rect(0, 0, pb.Dx(), pb.Dy()))
	draw.Draw(back, back.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(back, back.Bounds(), page, pb.Min, draw.Over)

	a := uint32(math.Round(math.Min(opacity, 1) * 255))
	w := r.Dx()
	for y := r.Min.Y; y < r.Max.Y && y-r.Min.Y < pb.Dy(); y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			mx := w - 1 - (x - r.Min.X)
			if mx >= pb.Dx() {
				continue
			}
			d := canvas.PixOffset(x, y)
			s := back.PixOffset(mx, y-r.Min.Y)
			for c := 0; c < 3; c++ {
				v := uint32(canvas.Pix[d+c])
				m := uint32(back.Pix[s+c])
				canvas.Pix[d+c] = uint8((v*(255*255-a*(255-m)) + 255*255/2) / (255 * 255))
			}
		}
	}
}
