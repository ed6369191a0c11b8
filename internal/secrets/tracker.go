package secrets

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quantleap/tradecrm/internal/models"
	"github.com/quantleap/tradecrm/pkg/logger"
	"github.com/quantleap/tradecrm/pkg/metrics"
)

const (
	defaultQueueCapacity = 5000
	defaultFlushSize     = 50
	defaultCloseGrace    = 5 * time.Second
)

// UsageTracker decouples "record a use" from "persist a use" with a bounded
// multi-producer, single-consumer queue. Usage counts are best-effort
// telemetry, not a billing ledger: under extreme load the oldest pending
// entries are dropped rather than blocking the request path.
type UsageTracker struct {
	db    *gorm.DB
	queue chan string
	log   *zap.Logger

	flushSize  int
	closeGrace time.Duration

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

// TrackerOption customises the usage tracker.
type TrackerOption func(*trackerConfig)

type trackerConfig struct {
	capacity   int
	flushSize  int
	closeGrace time.Duration
}

// WithQueueCapacity overrides the bounded queue size.
func WithQueueCapacity(n int) TrackerOption {
	return func(cfg *trackerConfig) {
		if n > 0 {
			cfg.capacity = n
		}
	}
}

// WithFlushSize overrides how many entries accumulate before a flush.
func WithFlushSize(n int) TrackerOption {
	return func(cfg *trackerConfig) {
		if n > 0 {
			cfg.flushSize = n
		}
	}
}

// WithCloseGrace overrides how long Close waits for in-flight work.
func WithCloseGrace(d time.Duration) TrackerOption {
	return func(cfg *trackerConfig) {
		if d > 0 {
			cfg.closeGrace = d
		}
	}
}

// NewUsageTracker constructs the tracker and starts its consumer goroutine.
func NewUsageTracker(db *gorm.DB, opts ...TrackerOption) (*UsageTracker, error) {
	if db == nil {
		return nil, errors.New("usage tracker: db is required")
	}

	cfg := trackerConfig{
		capacity:   defaultQueueCapacity,
		flushSize:  defaultFlushSize,
		closeGrace: defaultCloseGrace,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	t := &UsageTracker{
		db:         db,
		queue:      make(chan string, cfg.capacity),
		log:        logger.WithModule("secrets.tracker"),
		flushSize:  cfg.flushSize,
		closeGrace: cfg.closeGrace,
		closed:     make(chan struct{}),
		done:       make(chan struct{}),
	}

	go t.consume()
	return t, nil
}

// Track enqueues one use of the secret without blocking. When the queue is
// full the oldest pending entry is discarded to make room.
func (t *UsageTracker) Track(secretID string) {
	if secretID == "" {
		return
	}
	select {
	case <-t.closed:
		return
	default:
	}

	select {
	case t.queue <- secretID:
		return
	default:
	}

	// Queue full: drop the oldest entry, then retry once. If a concurrent
	// producer won the freed slot the new entry is dropped instead.
	select {
	case <-t.queue:
		metrics.SecretUsageDropped.Inc()
	default:
	}
	select {
	case t.queue <- secretID:
	default:
		metrics.SecretUsageDropped.Inc()
	}
}

// Close stops intake, gives in-flight processing a bounded grace period to
// finish, then abandons it. The queue channel is never closed: a producer
// racing the shutdown signal just writes into the buffer, which the consumer
// drains on its way out, so Track can never panic on a closed channel.
func (t *UsageTracker) Close() {
	t.closeOnce.Do(func() {
		close(t.closed)

		select {
		case <-t.done:
		case <-time.After(t.closeGrace):
			t.log.Warn("usage tracker close grace elapsed; abandoning in-flight batch")
		}
	})
}

// consume drains the queue, flushing every flushSize accumulated entries and
// once more on shutdown.
func (t *UsageTracker) consume() {
	defer close(t.done)

	batch := make([]string, 0, t.flushSize)
	for {
		select {
		case id := <-t.queue:
			batch = append(batch, id)
			if len(batch) >= t.flushSize {
				t.flush(batch)
				batch = batch[:0]
			}
		case <-t.closed:
			for {
				select {
				case id := <-t.queue:
					batch = append(batch, id)
				default:
					if len(batch) > 0 {
						t.flush(batch)
					}
					return
				}
			}
		}
	}
}

// flush coalesces repeated uses of the same secret into one read-modify-write
// and applies one increment per original occurrence. Failures are logged and
// swallowed; they must never take the consumer loop down.
func (t *UsageTracker) flush(batch []string) {
	counts := make(map[string]int64, len(batch))
	for _, id := range batch {
		counts[id]++
	}

	ctx := context.Background()
	result := "ok"
	for id, n := range counts {
		if err := t.applyUses(ctx, id, n); err != nil {
			result = "error"
			t.log.Error("persist secret usage",
				zap.String("secret_id", id),
				zap.Int64("uses", n),
				zap.Error(err),
			)
		}
	}
	metrics.SecretUsageFlushes.WithLabelValues(result).Observe(float64(len(batch)))
}

func (t *UsageTracker) applyUses(ctx context.Context, secretID string, n int64) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var secret models.AffiliateSecret
		err := tx.Take(&secret, "id = ?", secretID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil // secret deleted since the use was recorded
		}
		if err != nil {
			return err
		}

		if !secret.IsActive || secret.IsExpired(time.Now()) {
			return nil
		}

		return tx.Model(&secret).
			Update("used_count", gorm.Expr("used_count + ?", n)).Error
	})
}
