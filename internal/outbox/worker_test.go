package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/quantleap/tradecrm/internal/cache"
	testutil "github.com/quantleap/tradecrm/internal/database/testutil"
	"github.com/quantleap/tradecrm/internal/events"
	"github.com/quantleap/tradecrm/internal/models"
)

// recordingPublisher captures delivered events and optionally fails.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) delivered() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.events...)
}

func setupWorker(t *testing.T, publisher Publisher, cfg WorkerConfig) (*Worker, *gorm.DB) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	lock, err := cache.NewDistributedLock(cache.NewDatabaseStore(db))
	require.NoError(t, err)

	worker, err := NewWorker(db, lock, publisher, cfg)
	require.NoError(t, err)
	return worker, db
}

func stageEvent(t *testing.T, db *gorm.DB, evt events.Event) {
	t.Helper()
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return Stage(tx, evt)
	}))
}

func TestWorkerProcessesStagedMessages(t *testing.T) {
	publisher := &recordingPublisher{}
	worker, db := setupWorker(t, publisher, WorkerConfig{})
	ctx := context.Background()

	stageEvent(t, db, events.PermissionGranted{Base: events.NewBase(), UserID: "u1", PermissionID: "p1"})
	stageEvent(t, db, events.SecretDeactivated{Base: events.NewBase(), SecretID: "s1", AffiliateID: "a1"})

	require.NoError(t, worker.RunOnce(ctx))

	delivered := publisher.delivered()
	require.Len(t, delivered, 2)

	var granted *events.PermissionGranted
	for _, evt := range delivered {
		if g, ok := evt.(*events.PermissionGranted); ok {
			granted = g
		}
	}
	require.NotNil(t, granted)
	require.Equal(t, "u1", granted.UserID)

	var pending int64
	require.NoError(t, db.Model(&models.OutboxMessage{}).Where("processed_at IS NULL").Count(&pending).Error)
	require.Zero(t, pending)

	// A second cycle finds nothing to do and redelivers nothing.
	require.NoError(t, worker.RunOnce(ctx))
	require.Len(t, publisher.delivered(), 2)
}

func TestWorkerRetriesFailedMessages(t *testing.T) {
	publisher := &recordingPublisher{err: errors.New("downstream unavailable")}
	worker, db := setupWorker(t, publisher, WorkerConfig{MaxRetries: 3})
	ctx := context.Background()

	stageEvent(t, db, events.PermissionGranted{Base: events.NewBase(), UserID: "u1", PermissionID: "p1"})

	require.NoError(t, worker.RunOnce(ctx))

	var msg models.OutboxMessage
	require.NoError(t, db.Take(&msg).Error)
	require.Equal(t, 1, msg.RetryCount)
	require.Contains(t, msg.Error, "downstream unavailable")
	require.Nil(t, msg.ProcessedAt)

	// Recovery: the next cycle succeeds and clears the recorded error.
	publisher.err = nil
	require.NoError(t, worker.RunOnce(ctx))

	require.NoError(t, db.Take(&msg).Error)
	require.NotNil(t, msg.ProcessedAt)
	require.Empty(t, msg.Error)
}

func TestWorkerDeadLettersAfterRetryBudget(t *testing.T) {
	publisher := &recordingPublisher{err: errors.New("poison")}
	worker, db := setupWorker(t, publisher, WorkerConfig{MaxRetries: 2})
	ctx := context.Background()

	stageEvent(t, db, events.PermissionGranted{Base: events.NewBase(), UserID: "u1", PermissionID: "p1"})

	require.NoError(t, worker.RunOnce(ctx))
	require.NoError(t, worker.RunOnce(ctx))

	var msg models.OutboxMessage
	require.NoError(t, db.Take(&msg).Error)
	require.Equal(t, 2, msg.RetryCount)
	require.NotNil(t, msg.ProcessedAt) // parked, no longer eligible
	require.Contains(t, msg.Error, "poison")
}

func TestWorkerParksUnknownEventType(t *testing.T) {
	publisher := &recordingPublisher{}
	worker, db := setupWorker(t, publisher, WorkerConfig{MaxRetries: 1})
	ctx := context.Background()

	row := models.OutboxMessage{
		ID:            "11111111-1111-1111-1111-111111111111",
		AggregateID:   "u1",
		AggregateType: "user",
		Type:          "legacy.removed",
		Content:       []byte(`{}`),
	}
	require.NoError(t, db.Create(&row).Error)

	require.NoError(t, worker.RunOnce(ctx))

	var msg models.OutboxMessage
	require.NoError(t, db.Take(&msg).Error)
	require.NotNil(t, msg.ProcessedAt)
	require.Contains(t, msg.Error, "unknown event type")
	require.Empty(t, publisher.delivered())
}

func TestWorkerSkipsWhenLockHeld(t *testing.T) {
	publisher := &recordingPublisher{}
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := cache.NewDatabaseStore(db)
	lock, err := cache.NewDistributedLock(store)
	require.NoError(t, err)

	worker, err := NewWorker(db, lock, publisher, WorkerConfig{})
	require.NoError(t, err)

	ctx := context.Background()
	stageEvent(t, db, events.PermissionGranted{Base: events.NewBase(), UserID: "u1", PermissionID: "p1"})

	// Another instance holds the global lock.
	held, err := lock.TryAcquire(ctx, "outbox", "other-instance", time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	require.NoError(t, worker.RunOnce(ctx))
	require.Empty(t, publisher.delivered())

	require.NoError(t, lock.Release(ctx, "outbox", "other-instance"))
	require.NoError(t, worker.RunOnce(ctx))
	require.Len(t, publisher.delivered(), 1)
}

func TestPartitionedWorkerProcessesOwnPartitionOnly(t *testing.T) {
	publisher := &recordingPublisher{}
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	worker, err := NewWorker(db, nil, publisher, WorkerConfig{Partitioned: true})
	require.NoError(t, err)

	ctx := context.Background()
	stageEvent(t, db, events.PermissionGranted{Base: events.NewBase(), UserID: "u1", PermissionID: "p1"})
	stageEvent(t, db, events.PermissionGranted{Base: events.NewBase(), UserID: "another-user", PermissionID: "p1"})

	require.NoError(t, worker.RunOnce(ctx))

	partition := worker.currentPartition()
	var leftover []models.OutboxMessage
	require.NoError(t, db.Where("processed_at IS NULL").Find(&leftover).Error)
	for _, msg := range leftover {
		require.NotEqual(t, partition, msg.Partition)
	}
}

func TestWorkerBatchSizeLimit(t *testing.T) {
	publisher := &recordingPublisher{}
	worker, db := setupWorker(t, publisher, WorkerConfig{BatchSize: 2})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		stageEvent(t, db, events.PermissionGranted{Base: events.NewBase(), UserID: "u1", PermissionID: "p1"})
	}

	require.NoError(t, worker.RunOnce(ctx))
	require.Len(t, publisher.delivered(), 2)

	require.NoError(t, worker.RunOnce(ctx))
	require.NoError(t, worker.RunOnce(ctx))
	require.Len(t, publisher.delivered(), 5)
}
