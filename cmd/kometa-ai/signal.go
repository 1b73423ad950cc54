package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tikibozo/kometa-ai/pkg/lifecycle"
)

// shutdownTimeout bounds how long a SIGINT/SIGTERM waits for the scheduler
// loop's current run to notice cancellation before the process exits.
const shutdownTimeout = 30 * time.Second

// setupSignalHandling triggers lc's shutdown on SIGINT/SIGTERM, mirroring
// herald's cmd/server signal wiring but routed through the lifecycle
// coordinator instead of a bare channel receive.
func setupSignalHandling(lc *lifecycle.Coordinator, logger *slog.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received termination signal, shutting down", "signal", sig)
		if err := lc.Shutdown(shutdownTimeout); err != nil {
			logger.Error("shutdown did not complete cleanly", "error", err)
		}
	}()
}
