package app

import (
	"context"
	"fmt"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"time"

	"github.com/radiowatch/chanscan/internal/storage"
)

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if _, err := os.Stat(config.DBPath); err != nil && os.IsNotExist(err) {
		return fmt.Errorf("database file '%s' does not exist: %w", config.DBPath, err)
	}

	store, err := storage.New(config.DBPath)
	if err != nil {
		return fmt.Errorf("opening session database: %w", err)
	}
	defer store.Close()

	session, err := store.Session(config.SessionID)
	if err != nil {
		return fmt.Errorf("reading session %d: %w", config.SessionID, err)
	}
	if session == nil {
		return fmt.Errorf("session %d not found in '%s'", config.SessionID, config.DBPath)
	}

	logger.Info("reading channel events",
		slog.Int64("session", session.ID),
		slog.String("start", session.StartTime.Local().Format(time.DateTime)))

	events, err := store.ChannelEvents(config.SessionID)
	if err != nil {
		return fmt.Errorf("reading channel events: %w", err)
	}

	tl, err := NewTimelineData(events)
	if err != nil {
		return err
	}

	logger.Info("rendering activity map",
		slog.Group("image",
			slog.String("destination", config.OutputFile),
			slog.String("format", string(config.Format)),
			slog.Int("channels", len(tl.Lanes)),
			slog.String("span", tl.Duration().Round(time.Second).String()),
		))

	renderer := NewTimelineRenderer(RenderConfig{
		Width:         config.Width,
		RowHeight:     config.RowHeight,
		FontPath:      config.FontPath,
		NoAnnotations: config.NoAnnotations,
	})

	img, err := renderer.Render(tl)
	if err != nil {
		return fmt.Errorf("rendering activity map: %w", err)
	}

	out, err := os.Create(config.OutputFile)
	if err != nil {
		return err
	}
	defer out.Close()

	switch config.Format {
	case ImagePNG:
		err = png.Encode(out, img)

	case ImageJPEG:
		err = jpeg.Encode(out, img, &jpeg.Options{
			Quality: 98,
		})
	}
	return err
}
