package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quantleap/tradecrm/internal/cache"
	"github.com/quantleap/tradecrm/internal/models"
	"github.com/quantleap/tradecrm/pkg/logger"
	"github.com/quantleap/tradecrm/pkg/metrics"
)

const (
	defaultInterval   = 5 * time.Second
	defaultBatchSize  = 20
	defaultLockTTL    = 30 * time.Second
	defaultMaxRetries = 10
	lockName          = "outbox"

	// partitionLease is how long a partitioned worker keeps its randomly
	// assigned partition before rolling a new one.
	partitionLease = time.Hour
)

// WorkerConfig tunes the background dispatcher.
type WorkerConfig struct {
	Interval   time.Duration
	BatchSize  int
	LockTTL    time.Duration
	MaxRetries int

	// Partitioned switches the worker from the single-global-lock strategy
	// to partition ownership: the worker processes only messages in a
	// randomly assigned partition and skips lock acquisition entirely.
	Partitioned bool
}

// Worker drains unprocessed outbox messages and dispatches them to the
// publisher. Exactly one of two coordination strategies applies per worker:
// a global distributed lock, or partition ownership.
type Worker struct {
	db        *gorm.DB
	lock      *cache.DistributedLock
	publisher Publisher
	cfg       WorkerConfig
	log       *zap.Logger
	now       func() time.Time

	ownerToken string

	partition         int
	partitionAssigned time.Time
}

// NewWorker constructs an outbox worker. The lock may be nil only for
// partitioned workers.
func NewWorker(db *gorm.DB, lock *cache.DistributedLock, publisher Publisher, cfg WorkerConfig) (*Worker, error) {
	if db == nil {
		return nil, errors.New("outbox worker: db is required")
	}
	if publisher == nil {
		return nil, errors.New("outbox worker: publisher is required")
	}
	if !cfg.Partitioned && lock == nil {
		return nil, errors.New("outbox worker: lock is required unless partitioned")
	}

	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}

	return &Worker{
		db:         db,
		lock:       lock,
		publisher:  publisher,
		cfg:        cfg,
		log:        logger.WithModule("outbox.worker"),
		now:        time.Now,
		ownerToken: uuid.NewString(),
	}, nil
}

// Run polls until the context is cancelled. In-flight batch processing is not
// preempted mid-message: a message being dispatched completes or fails before
// cancellation takes effect.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.log.Info("outbox worker started",
		zap.Duration("interval", w.cfg.Interval),
		zap.Int("batch_size", w.cfg.BatchSize),
		zap.Bool("partitioned", w.cfg.Partitioned),
	)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("outbox worker stopped")
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				w.log.Error("outbox cycle failed", zap.Error(err))
			}
		}
	}
}

// RunOnce executes a single processing cycle. Exposed for tests and for
// draining during graceful shutdown.
func (w *Worker) RunOnce(ctx context.Context) error {
	if w.cfg.Partitioned {
		return w.processBatch(ctx, w.currentPartition())
	}

	acquired, err := w.lock.TryAcquire(ctx, lockName, w.ownerToken, w.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("outbox worker: acquire lock: %w", err)
	}
	if !acquired {
		metrics.OutboxLockContention.Inc()
		return nil
	}
	defer func() {
		if err := w.lock.Release(ctx, lockName, w.ownerToken); err != nil {
			w.log.Warn("release outbox lock", zap.Error(err))
		}
	}()

	return w.processBatch(ctx, -1)
}

// currentPartition returns the worker's assigned partition, rolling a new
// random assignment once the lease lapses.
func (w *Worker) currentPartition() int {
	now := w.now()
	if w.partitionAssigned.IsZero() || now.Sub(w.partitionAssigned) >= partitionLease {
		w.partition = rand.Intn(NumPartitions)
		w.partitionAssigned = now
		w.log.Info("assigned outbox partition", zap.Int("partition", w.partition))
	}
	return w.partition
}

// processBatch handles up to BatchSize unprocessed messages, oldest first.
// partition < 0 means "all partitions" (global-lock strategy).
func (w *Worker) processBatch(ctx context.Context, partition int) error {
	query := w.db.WithContext(ctx).
		Where("processed_at IS NULL").
		Order("created_at ASC").
		Limit(w.cfg.BatchSize)
	if partition >= 0 {
		query = query.Where("partition_no = ?", partition)
	}

	var messages []models.OutboxMessage
	if err := query.Find(&messages).Error; err != nil {
		return fmt.Errorf("outbox worker: load batch: %w", err)
	}

	for i := range messages {
		// A poisoned message must not block the rest of the batch; every
		// failure is recorded on the row and the loop moves on.
		w.processMessage(ctx, &messages[i])
	}
	return nil
}

func (w *Worker) processMessage(ctx context.Context, msg *models.OutboxMessage) {
	evt, err := resolveType(msg.Type)
	if err != nil {
		w.markFailed(ctx, msg, err)
		return
	}

	if err := json.Unmarshal(msg.Content, evt); err != nil {
		w.markFailed(ctx, msg, fmt.Errorf("outbox: deserialize %s: %w", msg.Type, err))
		return
	}

	if err := w.publisher.Publish(ctx, evt); err != nil {
		w.markFailed(ctx, msg, err)
		return
	}

	now := w.now()
	update := map[string]any{"processed_at": now, "error": ""}
	if err := w.db.WithContext(ctx).Model(msg).Updates(update).Error; err != nil {
		w.log.Error("mark outbox message processed", zap.String("id", msg.ID), zap.Error(err))
		return
	}
	metrics.OutboxMessages.WithLabelValues("processed").Inc()
}

// markFailed records the failure and increments the retry count, leaving the
// message eligible for the next cycle. Once the retry budget is exhausted the
// message is parked: processed_at is set so it leaves the work queue, but the
// error is retained for operator inspection.
func (w *Worker) markFailed(ctx context.Context, msg *models.OutboxMessage, cause error) {
	msg.RetryCount++

	update := map[string]any{
		"retry_count": msg.RetryCount,
		"error":       cause.Error(),
	}

	result := "failed"
	if msg.RetryCount >= w.cfg.MaxRetries {
		update["processed_at"] = w.now()
		result = "dead_lettered"
		w.log.Error("outbox message dead-lettered",
			zap.String("id", msg.ID),
			zap.String("type", msg.Type),
			zap.Int("retries", msg.RetryCount),
			zap.Error(cause),
		)
	} else {
		w.log.Warn("outbox message failed",
			zap.String("id", msg.ID),
			zap.String("type", msg.Type),
			zap.Int("retries", msg.RetryCount),
			zap.Error(cause),
		)
	}

	if err := w.db.WithContext(ctx).Model(msg).Updates(update).Error; err != nil {
		w.log.Error("record outbox failure", zap.String("id", msg.ID), zap.Error(err))
		return
	}
	metrics.OutboxMessages.WithLabelValues(result).Inc()
}
