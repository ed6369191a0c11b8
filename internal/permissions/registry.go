package permissions

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/quantleap/tradecrm/internal/models"
)

// Descriptor declares a permission next to the operations it guards. The
// compiled registry is the single source of truth for the catalog; Sync
// reconciles it against persisted state at startup.
type Descriptor struct {
	Section     string
	Title       string
	ActionType  string
	Order       int
	Description string

	// AllowedRoles lists the roles granted this permission by default.
	AllowedRoles []string
}

// Key returns the canonical lowercase identity key of the descriptor.
func (d *Descriptor) Key() string {
	return models.PermissionKey(d.Section, d.Title, d.ActionType)
}

type descriptorRegistry struct {
	mu     sync.RWMutex
	byKey  map[string]*Descriptor
	orders map[int]string
}

var globalRegistry = &descriptorRegistry{
	byKey:  make(map[string]*Descriptor),
	orders: make(map[int]string),
}

var (
	errNilDescriptor  = errors.New("permission: nil descriptor")
	errEmptyIdentity  = errors.New("permission: section, title and action type are required")
	errDuplicateKey   = errors.New("permission: already registered")
	errDuplicateOrder = errors.New("permission: order already in use")
	errNegativeOrder  = errors.New("permission: order must not be negative")
)

// Register adds a permission descriptor to the global registry.
func Register(desc *Descriptor) error {
	if desc == nil {
		return errNilDescriptor
	}

	def := cloneDescriptor(desc)
	def.Section = strings.TrimSpace(def.Section)
	def.Title = strings.TrimSpace(def.Title)
	def.ActionType = strings.TrimSpace(def.ActionType)

	if def.Section == "" || def.Title == "" || def.ActionType == "" {
		return errEmptyIdentity
	}
	if def.Order < 0 {
		return errNegativeOrder
	}

	roles := make([]string, 0, len(def.AllowedRoles))
	seen := make(map[string]struct{}, len(def.AllowedRoles))
	for _, role := range def.AllowedRoles {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		lower := strings.ToLower(role)
		if _, exists := seen[lower]; exists {
			continue
		}
		seen[lower] = struct{}{}
		roles = append(roles, role)
	}
	def.AllowedRoles = roles

	key := def.Key()

	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()

	if _, exists := globalRegistry.byKey[key]; exists {
		return fmt.Errorf("%w: %s", errDuplicateKey, key)
	}
	if holder, exists := globalRegistry.orders[def.Order]; exists {
		return fmt.Errorf("%w: %d held by %s", errDuplicateOrder, def.Order, holder)
	}

	globalRegistry.byKey[key] = def
	globalRegistry.orders[def.Order] = key
	return nil
}

// MustRegister registers a descriptor and panics on conflict. Used by the
// compiled catalog declarations where a conflict is a programming error.
func MustRegister(desc *Descriptor) {
	if err := Register(desc); err != nil {
		panic(err)
	}
}

// Get returns a copy of the descriptor matching the identity triple.
func Get(section, title, actionType string) (*Descriptor, bool) {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	desc, ok := globalRegistry.byKey[models.PermissionKey(section, title, actionType)]
	if !ok {
		return nil, false
	}
	return cloneDescriptor(desc), true
}

// All returns every registered descriptor sorted by ascending order.
func All() []*Descriptor {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	out := make([]*Descriptor, 0, len(globalRegistry.byKey))
	for _, desc := range globalRegistry.byKey {
		out = append(out, cloneDescriptor(desc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func cloneDescriptor(desc *Descriptor) *Descriptor {
	if desc == nil {
		return nil
	}

	cp := *desc
	if len(desc.AllowedRoles) > 0 {
		cp.AllowedRoles = append([]string(nil), desc.AllowedRoles...)
	}
	return &cp
}

// reset clears registry entries. Intended for testing only.
func reset() {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	globalRegistry.byKey = make(map[string]*Descriptor)
	globalRegistry.orders = make(map[int]string)
}

// remove drops a single descriptor. Intended for testing only.
func remove(section, title, actionType string) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()

	key := models.PermissionKey(section, title, actionType)
	if desc, ok := globalRegistry.byKey[key]; ok {
		delete(globalRegistry.orders, desc.Order)
		delete(globalRegistry.byKey, key)
	}
}
