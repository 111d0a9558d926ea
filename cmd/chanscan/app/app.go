package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/radiowatch/chanscan/internal/coord"
	"github.com/radiowatch/chanscan/internal/server"
	"github.com/radiowatch/chanscan/internal/storage"
	"github.com/radiowatch/chanscan/internal/worker"
)

// startableWorker is a worker the app starts itself; the coordinator
// only sees the message-level Worker interface.
type startableWorker interface {
	worker.Worker
	Start(ctx context.Context) error
}

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	channels, err := config.BuildChannels()
	if err != nil {
		return fmt.Errorf("building channel table: %w", err)
	}

	options := []func(*coord.Coordinator){coord.WithLogger(logger)}

	if config.Storage.DataDirectory != "" {
		store, err := createStorage(&config.Storage)
		if err != nil {
			return fmt.Errorf("creating storage: %w", err)
		}
		defer store.Close()

		options = append(options, coord.WithStore(store))
	}

	coordinator := coord.New(config.Scanner.coordConfig(), channels, options...)

	workers, err := createWorkers(config.Receivers, logger)
	if err != nil {
		return fmt.Errorf("creating receivers: %w", err)
	}
	if len(workers) == 0 {
		return fmt.Errorf("no receivers enabled in configuration")
	}

	for _, w := range workers {
		if err = w.Start(ctx); err != nil {
			return fmt.Errorf("starting receiver %s: %w", w.ID(), err)
		}
		defer w.Close()

		coordinator.AddWorker(w)
	}

	runners := 1
	errc := make(chan error, 2)

	go func() { errc <- coordinator.Run(ctx) }()

	if config.Control.Listen != "" {
		srv := server.New(config.Control, coordinator, server.WithLogger(logger))
		runners++
		go func() { errc <- srv.Run(ctx) }()
	}

	// The first failure stops everything; a clean shutdown drains both.
	var firstErr error
	for i := 0; i < runners; i++ {
		if err := <-errc; err != nil && firstErr == nil {
			firstErr = err
			cancel()
		}
	}
	return firstErr
}

func createWorkers(config []ReceiverConfig, logger *slog.Logger) ([]startableWorker, error) {
	var workers []startableWorker
	for _, receiverConfig := range config {
		if !receiverConfig.Enabled {
			continue
		}
		if receiverConfig.Name == "" {
			return nil, fmt.Errorf("creating receiver: no name")
		}

		switch receiverConfig.Type {
		case ReceiverExec:
			if receiverConfig.Exec.Command == "" {
				return nil, fmt.Errorf("creating receiver %s: no command", receiverConfig.Name)
			}
			workers = append(workers, worker.NewProc(receiverConfig.Name, receiverConfig.Exec, worker.WithLogger(logger)))

		case ReceiverSim:
			workers = append(workers, worker.NewSim(receiverConfig.Name, receiverConfig.Sim.simConfig()))

		default:
			return nil, fmt.Errorf("creating receiver: unknown type '%s'", receiverConfig.Type)
		}
	}

	return workers, nil
}

func createStorage(config *StorageConfig) (*storage.Store, error) {
	stat, err := os.Stat(config.DataDirectory)
	if err != nil {
		return nil, fmt.Errorf("storage directory '%s': %w", config.DataDirectory, err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("invalid storage directory '%s'", config.DataDirectory)
	}

	dbPath := filepath.Join(config.DataDirectory,
		fmt.Sprintf("scan_session_%s.sqlite", time.Now().UTC().Format("20060102_150405")))

	return storage.New(dbPath)
}
