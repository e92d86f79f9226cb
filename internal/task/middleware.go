package task

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Logging returns middleware that logs the start and outcome of every
// execution with the task name and elapsed time.
func Logging(logger *slog.Logger) Middleware {
	return func(name string, next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, args json.RawMessage) (any, error) {
			start := time.Now()
			logger.Info("task started", "task", name)

			result, err := next.Handle(ctx, args)
			if err != nil {
				logger.Error("task failed",
					"task", name,
					"elapsed", time.Since(start),
					"error", err)
				return nil, err
			}

			logger.Info("task succeeded", "task", name, "elapsed", time.Since(start))
			return result, nil
		})
	}
}
