package sender

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"botflow/internal/domain"
	"botflow/internal/metrics"
)

// DefaultChunkSize bounds how many batchable tasks hit a frontend at once.
const DefaultChunkSize = 30

// Batcher accumulates the outbound tasks produced during one dispatch
// step and flushes them exactly once: batchable tasks first, in chunks of
// concurrent sends, then the ordered tasks strictly sequentially.
type Batcher struct {
	client    *Client
	directory Directory
	logger    *slog.Logger
	metrics   *metrics.Collector
	chunkSize int

	ordered   []domain.OutboundTask
	batchable []domain.OutboundTask
}

// NewBatcher creates a batcher for a single dispatch step.
func NewBatcher(client *Client, directory Directory, chunkSize int, m *metrics.Collector, logger *slog.Logger) *Batcher {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Batcher{
		client:    client,
		directory: directory,
		logger:    logger,
		metrics:   m,
		chunkSize: chunkSize,
	}
}

// Add snapshots a payload as an ordered task.
func (b *Batcher) Add(service string, payload *domain.Request) {
	b.ordered = append(b.ordered, domain.NewOutboundTask(service, payload, false))
}

// AddBatch snapshots a payload as a batchable task.
func (b *Batcher) AddBatch(service string, payload *domain.Request) {
	b.batchable = append(b.batchable, domain.NewOutboundTask(service, payload, true))
}

// Empty reports whether any tasks are queued.
func (b *Batcher) Empty() bool {
	return len(b.ordered) == 0 && len(b.batchable) == 0
}

// Flush drains the batcher. Individual send failures are logged and never
// abort the remaining sends.
func (b *Batcher) Flush(ctx context.Context) {
	// Batchable tasks go out chunk by chunk; sends inside a chunk run
	// concurrently, chunks themselves keep enqueue order.
	for start := 0; start < len(b.batchable); start += b.chunkSize {
		end := start + b.chunkSize
		if end > len(b.batchable) {
			end = len(b.batchable)
		}
		chunk := b.batchable[start:end]

		var wg sync.WaitGroup
		for i := range chunk {
			wg.Add(1)
			go func(task domain.OutboundTask) {
				defer wg.Done()
				b.send(ctx, task)
			}(chunk[i])
		}
		wg.Wait()
	}

	// Ordered tasks are sent strictly in enqueue order.
	for _, task := range b.ordered {
		b.send(ctx, task)
	}

	b.ordered = nil
	b.batchable = nil
}

func (b *Batcher) send(ctx context.Context, task domain.OutboundTask) {
	url, err := b.directory.URL(ctx, task.Service)
	if err != nil {
		b.logger.Error("outbound task has no endpoint", "service", task.Service, "error", err)
		b.metrics.TaskSent(false)
		return
	}
	status, body, err := b.client.Post(ctx, url, task.Payload)
	if err != nil {
		b.logger.Error("outbound task failed", "service", task.Service, "error", err)
		b.metrics.TaskSent(false)
		return
	}
	if status != http.StatusOK {
		b.logger.Error("outbound task rejected",
			"service", task.Service,
			"status", status,
			"chat", task.Payload.Chat.ChatID,
			"body", string(body),
		)
		b.metrics.TaskSent(false)
		return
	}
	b.metrics.TaskSent(true)
}
