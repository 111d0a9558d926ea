package app

import (
	"fmt"
	"image"
	"image/draw"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"golang.org/x/image/font"
)

const (
	dpi      float64 = 72
	fontSize float64 = 12
)

type annotateLayout struct {
	RowHeight   int
	LaneGap     int
	Width       int
	LanesHeight int
}

type Annotator struct {
	context *freetype.Context
}

// NewAnnotator loads a TTF font from disk and prepares the drawing
// context. The font is not bundled: point -font at any monospaced TTF.
func NewAnnotator(fontPath string) (*Annotator, error) {
	fontBytes, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("reading font '%s': %w", fontPath, err)
	}

	parsedFont, err := freetype.ParseFont(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	context := freetype.NewContext()
	context.SetDPI(dpi)
	context.SetFont(parsedFont)
	context.SetFontSize(fontSize)
	context.SetSrc(image.White)
	context.SetHinting(font.HintingFull)

	return &Annotator{context: context}, nil
}

func (a *Annotator) Annotate(img *image.RGBA, tl *TimelineData, layout annotateLayout) error {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	ops := []struct {
		msg string
		fn  func(*image.RGBA, *TimelineData, annotateLayout) error
	}{
		{"drawing channel labels", a.drawLabels},
		{"drawing time scale", a.drawTimeScale},
		{"drawing legend", a.drawLegend},
	}
	for _, op := range ops {
		if err := op.fn(img, tl, layout); err != nil {
			return fmt.Errorf("%s: %w", op.msg, err)
		}
	}

	return nil
}

func (a *Annotator) drawLabels(img *image.RGBA, tl *TimelineData, layout annotateLayout) error {
	for i, lane := range tl.Lanes {
		y := topBorder + i*(layout.RowHeight+layout.LaneGap) + layout.RowHeight/2 + int(fontSize)/2

		label := fmt.Sprintf("%s %s", a.humanHz(float64(lane.Frequency)), lane.Label)
		if len(label) > 24 {
			label = label[:24]
		}

		pt := freetype.Pt(5, y)
		if _, err := a.context.DrawString(label, pt); err != nil {
			return err
		}
	}
	return nil
}

func (a *Annotator) drawTimeScale(img *image.RGBA, tl *TimelineData, layout annotateLayout) error {
	count := layout.Width / 150
	if count == 0 {
		count = 1
	}
	secsPerLabel := int64(tl.Duration().Seconds()) / int64(count)
	pxPerLabel := layout.Width / count

	for si := 0; si < count; si++ {
		px := leftBorder + si*pxPerLabel

		var str string
		if si == 0 {
			str = tl.Start.Local().Format("15:04:05")
		} else {
			point := tl.Start.Add(time.Duration(secsPerLabel*int64(si)) * time.Second)
			str = point.Local().Format("15:04:05")
		}

		// guideline through the lanes on the exact time
		for y := topBorder; y < topBorder+layout.LanesHeight; y += 3 {
			img.Set(px, y, gridColor)
		}

		pt := freetype.Pt(px+3, topBorder+layout.LanesHeight+20)
		if _, err := a.context.DrawString(str, pt); err != nil {
			return err
		}
	}
	return nil
}

func (a *Annotator) drawLegend(img *image.RGBA, tl *TimelineData, layout annotateLayout) error {
	statuses := make([]string, 0, len(statusColors))
	for status := range statusColors {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)

	x := leftBorder
	y := topBorder + layout.LanesHeight + 45
	for _, status := range statuses {
		swatch := image.Rect(x, y-10, x+12, y+2)
		draw.Draw(img, swatch, image.NewUniform(statusColor(status)), image.Point{}, draw.Src)

		pt := freetype.Pt(x+16, y)
		if _, err := a.context.DrawString(status, pt); err != nil {
			return err
		}
		x += 16 + 9*len(status) + 20
	}

	info := fmt.Sprintf("%s .. %s (%s)",
		tl.Start.Local().Format(time.DateTime),
		tl.End.Local().Format(time.DateTime),
		tl.Duration().Round(time.Second))
	pt := freetype.Pt(5, 20)
	_, err := a.context.DrawString(info, pt)
	return err
}

func (a *Annotator) humanHz(hz float64) string {
	fract, suffix := humanize.ComputeSI(hz)
	return fmt.Sprintf("%0.3f %sHz", fract, suffix)
}
