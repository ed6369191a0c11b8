package outbox

import (
	"fmt"
	"sync"

	"github.com/quantleap/tradecrm/internal/events"
)

// factory builds a fresh zero event for deserialization.
type factory func() events.Event

var typeRegistry = struct {
	mu        sync.RWMutex
	factories map[string]factory
}{factories: make(map[string]factory)}

// RegisterType associates a stored type name with an event constructor so
// the worker can rehydrate message payloads.
func RegisterType(name string, fn factory) {
	typeRegistry.mu.Lock()
	defer typeRegistry.mu.Unlock()
	typeRegistry.factories[name] = fn
}

// resolveType returns a zero event for the stored name. An unknown name is a
// permanent failure: the message will never deserialize until an operator
// intervenes, so the worker marks it instead of retrying forever.
func resolveType(name string) (events.Event, error) {
	typeRegistry.mu.RLock()
	fn, ok := typeRegistry.factories[name]
	typeRegistry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("outbox: unknown event type %q", name)
	}
	return fn(), nil
}

func init() {
	RegisterType(events.TypePermissionGranted, func() events.Event { return &events.PermissionGranted{} })
	RegisterType(events.TypePermissionRevoked, func() events.Event { return &events.PermissionRevoked{} })
	RegisterType(events.TypeSecretCreated, func() events.Event { return &events.SecretCreated{} })
	RegisterType(events.TypeSecretDeactivated, func() events.Event { return &events.SecretDeactivated{} })
	RegisterType(events.TypeSecretReactivated, func() events.Event { return &events.SecretReactivated{} })
	RegisterType(events.TypeSecretExpirationSet, func() events.Event { return &events.SecretExpirationReplaced{} })
}
