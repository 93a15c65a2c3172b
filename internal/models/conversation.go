package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ConversationTurn is one append-only chat message. History order is
// CreatedAt, then ID.
type ConversationTurn struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	SessionKey string    `gorm:"size:255;not null;index:idx_turn_session_created,priority:1" json:"session"`
	Role       Role      `gorm:"size:16;not null" json:"role"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	CreatedAt  time.Time `gorm:"not null;index;index:idx_turn_session_created,priority:2" json:"created_at"`
}

func (ConversationTurn) TableName() string { return "conversation_turns" }

// SessionActivity reports the most recent turn of a session.
type SessionActivity struct {
	SessionKey string    `json:"session"`
	LastTurnAt time.Time `json:"last_turn_at"`
	Turns      int64     `json:"turns"`
}

type SweepResult struct {
	SessionsDeleted int64             `json:"sessions_deleted"`
	TurnsDeleted    int64             `json:"turns_deleted"`
	Sessions        []SessionActivity `json:"sessions,omitempty"`
	DryRun          bool              `json:"dry_run"`
}
