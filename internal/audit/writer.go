package audit

import (
	"context"
	"log/slog"
	"sync"
)

// DefaultBufferSize is the capacity of the Writer queue.
const DefaultBufferSize = 256

// Writer records access logs asynchronously. Entries are queued on a
// buffered channel and written serially by a single goroutine; when the
// queue is full the entry is dropped and a warning logged, so request
// handlers never block on SQLite.
type Writer struct {
	repo   Repository
	logger *slog.Logger
	ch     chan *AccessLog

	wg        sync.WaitGroup
	closeOnce sync.Once
	done      chan struct{}
}

// NewWriter creates a Writer. Call Run to start draining and Close to stop.
func NewWriter(repo Repository, bufferSize int, logger *slog.Logger) *Writer {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Writer{
		repo:   repo,
		logger: logger,
		ch:     make(chan *AccessLog, bufferSize),
		done:   make(chan struct{}),
	}
}

// Record enqueues an entry. It never blocks.
func (w *Writer) Record(entry *AccessLog) {
	if w == nil || entry == nil {
		return
	}
	select {
	case <-w.done:
		return
	default:
	}

	select {
	case w.ch <- entry:
	default:
		w.logger.Warn("access log queue full, dropping entry",
			"action", entry.Action,
			"username", entry.Username,
		)
	}
}

// Start launches the drain goroutine. It stops after ctx is cancelled or
// Close is called, writing whatever is still queued. Entries recorded after
// ctx is cancelled are refused, so callers that record during shutdown
// should pass a context that outlives it and rely on Close.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.drain(ctx)
	}()
}

func (w *Writer) drain(ctx context.Context) {
	for {
		select {
		case entry := <-w.ch:
			w.write(entry)
		case <-ctx.Done():
			w.closeOnce.Do(func() { close(w.done) })
			w.flush()
			return
		case <-w.done:
			w.flush()
			return
		}
	}
}

func (w *Writer) flush() {
	for {
		select {
		case entry := <-w.ch:
			w.write(entry)
		default:
			return
		}
	}
}

func (w *Writer) write(entry *AccessLog) {
	// Detached from request contexts, which are usually gone by now.
	if err := w.repo.Create(context.Background(), entry); err != nil {
		w.logger.Error("access log write failed",
			"action", entry.Action,
			"username", entry.Username,
			"error", err,
		)
	}
}

// Close stops accepting entries, flushes the queue and waits for the drain
// goroutine to exit.
func (w *Writer) Close() {
	w.closeOnce.Do(func() { close(w.done) })
	w.wg.Wait()
}
