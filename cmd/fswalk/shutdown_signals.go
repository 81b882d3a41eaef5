package main

import (
	"context"

	"fswalk/internal/logging"
)

// cancelOnSignal cancels the run when the first signal arrives on r.signals.
// The listener ends with ctx; later signals are left to signal.Stop, so a
// second interrupt does not cut the bounded server shutdown short.
func (r runner) cancelOnSignal(ctx context.Context, logger *logging.Logger, cancel context.CancelFunc) {
	if r.signals == nil {
		return
	}
	go func() {
		select {
		case <-ctx.Done():
		case sig, ok := <-r.signals:
			if !ok {
				return
			}
			fields := map[string]string{"timeout": shutdownTimeout.String()}
			if sig != nil {
				fields["signal"] = sig.String()
			}
			logger.Info("shutdown signal received", fields)
			cancel()
		}
	}()
}
