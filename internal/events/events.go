package events

import (
	"time"

	"github.com/google/uuid"
)

// Event is a domain event raised by an aggregate mutation. Events are
// serialized into the outbox within the mutating transaction and dispatched
// asynchronously, at least once, by the background worker.
type Event interface {
	EventID() string
	EventType() string
	AggregateID() string
	AggregateType() string
}

// Base carries the identity fields shared by all domain events.
type Base struct {
	ID         string    `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewBase stamps a fresh event identity.
func NewBase() Base {
	return Base{ID: uuid.NewString(), OccurredAt: time.Now().UTC()}
}

// EventID implements Event.
func (b Base) EventID() string { return b.ID }

// Event type names as stored on outbox rows. Renaming one orphans any
// unprocessed rows carrying the old name, so treat these as wire constants.
const (
	TypePermissionGranted   = "permission.granted"
	TypePermissionRevoked   = "permission.revoked"
	TypeSecretCreated       = "secret.created"
	TypeSecretDeactivated   = "secret.deactivated"
	TypeSecretReactivated   = "secret.reactivated"
	TypeSecretExpirationSet = "secret.expiration_replaced"
)

// PermissionGranted records an explicit per-user grant.
type PermissionGranted struct {
	Base
	UserID       string     `json:"user_id"`
	PermissionID string     `json:"permission_id"`
	Section      string     `json:"section"`
	Title        string     `json:"title"`
	ActionType   string     `json:"action_type"`
	GrantedBy    string     `json:"granted_by"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

func (e PermissionGranted) EventType() string     { return TypePermissionGranted }
func (e PermissionGranted) AggregateID() string   { return e.UserID }
func (e PermissionGranted) AggregateType() string { return "user" }

// PermissionRevoked records the removal of a per-user grant.
type PermissionRevoked struct {
	Base
	UserID       string `json:"user_id"`
	PermissionID string `json:"permission_id"`
	RevokedBy    string `json:"revoked_by"`
}

func (e PermissionRevoked) EventType() string     { return TypePermissionRevoked }
func (e PermissionRevoked) AggregateID() string   { return e.UserID }
func (e PermissionRevoked) AggregateType() string { return "user" }

// SecretCreated records issuance of an affiliate API secret.
type SecretCreated struct {
	Base
	SecretID    string    `json:"secret_id"`
	AffiliateID string    `json:"affiliate_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (e SecretCreated) EventType() string     { return TypeSecretCreated }
func (e SecretCreated) AggregateID() string   { return e.SecretID }
func (e SecretCreated) AggregateType() string { return "affiliate_secret" }

// SecretDeactivated records a secret being switched off.
type SecretDeactivated struct {
	Base
	SecretID    string `json:"secret_id"`
	AffiliateID string `json:"affiliate_id"`
}

func (e SecretDeactivated) EventType() string     { return TypeSecretDeactivated }
func (e SecretDeactivated) AggregateID() string   { return e.SecretID }
func (e SecretDeactivated) AggregateType() string { return "affiliate_secret" }

// SecretReactivated records a secret being switched back on.
type SecretReactivated struct {
	Base
	SecretID    string `json:"secret_id"`
	AffiliateID string `json:"affiliate_id"`
}

func (e SecretReactivated) EventType() string     { return TypeSecretReactivated }
func (e SecretReactivated) AggregateID() string   { return e.SecretID }
func (e SecretReactivated) AggregateType() string { return "affiliate_secret" }

// SecretExpirationReplaced records a secret's expiration date change.
type SecretExpirationReplaced struct {
	Base
	SecretID    string    `json:"secret_id"`
	AffiliateID string    `json:"affiliate_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (e SecretExpirationReplaced) EventType() string     { return TypeSecretExpirationSet }
func (e SecretExpirationReplaced) AggregateID() string   { return e.SecretID }
func (e SecretExpirationReplaced) AggregateType() string { return "affiliate_secret" }
