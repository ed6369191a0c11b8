package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"

	"gorm.io/gorm"

	"github.com/quantleap/tradecrm/internal/events"
	"github.com/quantleap/tradecrm/internal/models"
)

// NumPartitions fixes how aggregate ids are spread across partitioned
// workers. Writers and workers must agree on this value; changing it
// reshuffles pending messages across partitions.
const NumPartitions = 8

// Stage serializes domain events into outbox rows using the supplied
// transaction handle. Calling it inside the same gorm transaction as the
// business mutation is what guarantees at-least-once delivery without a
// dual-write race.
func Stage(tx *gorm.DB, evts ...events.Event) error {
	if tx == nil {
		return errors.New("outbox: transaction handle is required")
	}

	for _, evt := range evts {
		if evt == nil {
			continue
		}

		content, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("outbox: marshal %s: %w", evt.EventType(), err)
		}

		record := models.OutboxMessage{
			ID:            evt.EventID(),
			AggregateID:   evt.AggregateID(),
			AggregateType: evt.AggregateType(),
			Type:          evt.EventType(),
			Content:       content,
			Partition:     partitionFor(evt.AggregateID()),
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("outbox: stage %s: %w", evt.EventType(), err)
		}
	}

	return nil
}

func partitionFor(aggregateID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(aggregateID))
	return int(h.Sum32() % NumPartitions)
}
