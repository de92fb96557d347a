// Command ipcount compares the exact number of distinct client addresses in
// an access log with the HyperLogLog estimate, and times both.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/kwertop/hllcount/internal/log"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := BuildRootCmd().ExecuteContext(ctx); err != nil {
		logger, _ := log.New(os.Stderr, "error")
		logger.Error().Err(err).Msg("ipcount failed")
		cancel()
		os.Exit(1)
	}
}
