package persistence

import (
	"context"
	"log/slog"

	"github.com/skobkin/execlink/internal/bus"
	"github.com/skobkin/execlink/internal/connectors"
)

// trimEvery bounds how often the history is trimmed to its configured size.
const trimEvery = 64

// StartHistoryProjection persists every decoded output message published on
// the bus. maxEntries <= 0 keeps the history unbounded.
func StartHistoryProjection(ctx context.Context, b bus.MessageBus, queue *WriterQueue, repo *LogRepo, maxEntries int, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default().With("component", "persistence")
	}
	sub := b.Subscribe(connectors.TopicLogMessage)

	if maxEntries > 0 {
		queue.Enqueue("trim_output_log", func(writeCtx context.Context) error {
			_, err := repo.Trim(writeCtx, maxEntries)
			return err
		})
	}

	go func() {
		defer b.Unsubscribe(sub, connectors.TopicLogMessage)

		inserted := 0
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-sub:
				if !ok {
					return
				}
				msg, ok := raw.(connectors.LogMessage)
				if !ok {
					continue
				}
				entry := LogEntryFromMessage(msg)
				queue.Enqueue("insert_output_log", func(writeCtx context.Context) error {
					_, err := repo.Insert(writeCtx, entry)
					return err
				})

				inserted++
				if maxEntries <= 0 || inserted%trimEvery != 0 {
					continue
				}
				queue.Enqueue("trim_output_log", func(writeCtx context.Context) error {
					n, err := repo.Trim(writeCtx, maxEntries)
					if err == nil && n > 0 {
						logger.Debug("trimmed output history", "removed", n)
					}
					return err
				})
			}
		}
	}()
}
