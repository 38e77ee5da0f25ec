package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/krishan2005op/safe-track-go/common/logger"
	"github.com/krishan2005op/safe-track-go/internal/config"
	"github.com/krishan2005op/safe-track-go/internal/service"

	"go.uber.org/zap"
)

func main() {
	// 1. load config
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. logger
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "safe-track")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. service
	trackService, err := service.NewTrackService(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to create safe-track service", zap.Error(err))
	}

	// 4. run until signalled
	serviceErrChan := make(chan error, 1)
	go func() {
		serviceErrChan <- trackService.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down",
			zap.String("signal", sig.String()),
		)
		cancel()
		if err := <-serviceErrChan; err != nil {
			log.Error("Service stopped with error", zap.Error(err))
		}
	case err := <-serviceErrChan:
		if err != nil {
			log.Error("Service error", zap.Error(err))
		}
	}

	// 5. drain notifications and close backends
	_ = trackService.Stop()
	log.Info("safe-track service stopped")
}
