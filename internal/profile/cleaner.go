package profile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/invis/backend/internal/storage"
)

// CleanerConfig controls the concurrency characteristics of the cleaner.
type CleanerConfig struct {
	QueueSize int
	Workers   int
	Timeout   time.Duration
}

// Cleaner deletes replaced pictures from the object store in the background.
type Cleaner struct {
	store   storage.ObjectStore
	logger  *slog.Logger
	timeout time.Duration

	jobs   chan string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

var errCleanerClosed = errors.New("picture cleaner closed")

// NewCleaner starts cfg.Workers goroutines draining deletions.
func NewCleaner(store storage.ObjectStore, cfg CleanerConfig, logger *slog.Logger) *Cleaner {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Cleaner{
		store:   store,
		logger:  logger,
		timeout: cfg.Timeout,
		jobs:    make(chan string, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	c.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go c.worker()
	}

	return c
}

// Enqueue schedules deletion of key. It blocks while the queue is full.
func (c *Cleaner) Enqueue(ctx context.Context, key string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return errCleanerClosed
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return errCleanerClosed
	case c.jobs <- key:
		return nil
	}
}

// Shutdown stops accepting work and waits for queued deletions to finish.
func (c *Cleaner) Shutdown(ctx context.Context) error {
	c.once.Do(c.cancel)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (c *Cleaner) worker() {
	defer c.wg.Done()

	for {
		select {
		case key := <-c.jobs:
			c.delete(key)
		case <-c.ctx.Done():
			c.drain()
			return
		}
	}
}

// drain deletes whatever is still queued once shutdown has begun.
func (c *Cleaner) drain() {
	for {
		select {
		case key := <-c.jobs:
			c.delete(key)
		default:
			return
		}
	}
}

func (c *Cleaner) delete(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err := c.store.Delete(ctx, key); err != nil {
		c.logger.Error("delete replaced picture", "key", key, "error", err)
		return
	}
	c.logger.Debug("deleted replaced picture", "key", key)
}
