package app

import (
	"fmt"
	"image"
	"image/draw"
)

const (
	laneGap = 2

	// Border sizes in pixels
	topBorder    = 30
	leftBorder   = 180
	bottomBorder = 60
	rightBorder  = 20
)

// RenderConfig holds the timeline visualization options.
type RenderConfig struct {
	Width         int
	RowHeight     int
	FontPath      string
	NoAnnotations bool
}

// TimelineRenderer draws one colored row per channel, left to right in
// time, one segment per recorded state.
type TimelineRenderer struct {
	config RenderConfig
}

func NewTimelineRenderer(config RenderConfig) *TimelineRenderer {
	return &TimelineRenderer{config: config}
}

// Render creates the activity map image with annotations.
func (r *TimelineRenderer) Render(tl *TimelineData) (*image.RGBA, error) {
	lanesHeight := len(tl.Lanes) * (r.config.RowHeight + laneGap)

	fullWidth := r.config.Width + leftBorder + rightBorder
	fullHeight := lanesHeight + topBorder + bottomBorder

	img := image.NewRGBA(image.Rect(0, 0, fullWidth, fullHeight))
	draw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, draw.Src)

	r.renderLanes(img, tl)

	if !r.config.NoAnnotations {
		ann, err := NewAnnotator(r.config.FontPath)
		if err != nil {
			return nil, fmt.Errorf("creating annotator: %w", err)
		}

		if err = ann.Annotate(img, tl, annotateLayout{
			RowHeight:   r.config.RowHeight,
			LaneGap:     laneGap,
			Width:       r.config.Width,
			LanesHeight: lanesHeight,
		}); err != nil {
			return nil, fmt.Errorf("drawing annotations: %w", err)
		}
	}

	return img, nil
}

func (r *TimelineRenderer) renderLanes(img *image.RGBA, tl *TimelineData) {
	span := tl.Duration().Seconds()
	if span <= 0 {
		span = 1
	}

	for i, lane := range tl.Lanes {
		y0 := topBorder + i*(r.config.RowHeight+laneGap)
		rect := image.Rect(leftBorder, y0, leftBorder+r.config.Width, y0+r.config.RowHeight)

		draw.Draw(img, rect, image.NewUniform(laneIdleColor), image.Point{}, draw.Src)

		for _, seg := range lane.Segments {
			x0 := leftBorder + int(seg.Start.Sub(tl.Start).Seconds()/span*float64(r.config.Width))
			x1 := leftBorder + int(seg.End.Sub(tl.Start).Seconds()/span*float64(r.config.Width))
			if x1 <= x0 {
				x1 = x0 + 1 // a state shorter than a pixel still shows
			}

			segRect := image.Rect(x0, y0, x1, y0+r.config.RowHeight)
			draw.Draw(img, segRect.Intersect(rect), image.NewUniform(statusColor(seg.Status)), image.Point{}, draw.Src)
		}
	}
}
