package app

import "image/color"

var (
	backgroundColor = color.RGBA{16, 16, 16, 255}
	laneIdleColor   = color.RGBA{36, 36, 36, 255}
	gridColor       = color.RGBA{64, 64, 64, 255}

	statusColors = map[string]color.RGBA{
		"IDLE":         {36, 36, 36, 255},
		"ACTIVE":       {64, 200, 64, 255},
		"DWELL":        {190, 190, 48, 255},
		"HOLD":         {64, 128, 220, 255},
		"FORCE_ACTIVE": {220, 128, 32, 255},
	}
)

func statusColor(status string) color.RGBA {
	if c, ok := statusColors[status]; ok {
		return c
	}
	return laneIdleColor
}
