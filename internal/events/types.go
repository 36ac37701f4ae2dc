package events

import (
	"time"

	"github.com/Nabil201-ctrl/Healify-sub000/internal/domain"
)

const (
	TypeChatRequested         = "chat.message.requested.v1"
	TypeContextRequested      = "health.context.requested.v1"
	TypeContextReplied        = "health.context.replied.v1"
	TypeContextChanged        = "health.context.changed.v1"
	TypeHealthSynced          = "health.telemetry.synced.v1"
	TypeNotificationRequested = "notify.requested.v1"
	TypeTokensInvalidated     = "notify.tokens.invalidated.v1"
)

// ChatRequestedV1 is the inbound chat turn enqueued by the API.
type ChatRequestedV1 struct {
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (ChatRequestedV1) EventType() string { return TypeChatRequested }

// ContextRequestV1 asks the health process for a user's snapshot.
type ContextRequestV1 struct {
	UserID string `json:"userId"`
}

func (ContextRequestV1) EventType() string { return TypeContextRequested }

// ContextReplyV1 answers a ContextRequestV1. Context is nil when the user has
// no telemetry.
type ContextReplyV1 struct {
	UserID  string                 `json:"userId"`
	Context *domain.HealthSnapshot `json:"context"`
}

func (ContextReplyV1) EventType() string { return TypeContextReplied }

// ContextChangedV1 is pushed whenever a sync produces a new snapshot.
type ContextChangedV1 struct {
	UserID    string                 `json:"userId"`
	Type      string                 `json:"type"`
	Data      *domain.HealthSnapshot `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

func (ContextChangedV1) EventType() string { return TypeContextChanged }

// HealthSyncV1 carries one telemetry reading from a device.
type HealthSyncV1 struct {
	UserID     string    `json:"userId"`
	HeartRate  *float64  `json:"heartRate,omitempty"`
	Steps      *int      `json:"steps,omitempty"`
	SleepHours *float64  `json:"sleep,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func (HealthSyncV1) EventType() string { return TypeHealthSynced }

// NotificationRequestedV1 asks the notifier to deliver a typed notification.
// Tokens, when set, bypass the user's registered devices.
type NotificationRequestedV1 struct {
	UserID string            `json:"userId,omitempty"`
	Tokens []string          `json:"tokens,omitempty"`
	Email  string            `json:"email,omitempty"`
	Type   string            `json:"type"`
	Data   map[string]string `json:"data,omitempty"`
}

func (NotificationRequestedV1) EventType() string { return TypeNotificationRequested }

// TokensInvalidatedV1 reports push tokens the provider rejected for good.
type TokensInvalidatedV1 struct {
	UserID string   `json:"userId"`
	Tokens []string `json:"tokens"`
}

func (TokensInvalidatedV1) EventType() string { return TypeTokensInvalidated }
