package domain

import (
	"time"

	"gorm.io/datatypes"
)

// HandoffKind names an asynchronous step of the resume pipeline.
type HandoffKind string

const (
	// HandoffConversion submits a voice answer to the audio conversion service.
	HandoffConversion HandoffKind = "conversion"
	// HandoffTranscription translates converted audio into the experience answer.
	HandoffTranscription HandoffKind = "transcription"
	// HandoffGeneration composes the resume with the language model.
	HandoffGeneration HandoffKind = "generation"
	// HandoffRendering renders, archives and sends the resume document.
	HandoffRendering HandoffKind = "rendering"
	// HandoffDelivery emails the approved resume to the operator.
	HandoffDelivery HandoffKind = "delivery"
)

// UserFacing reports whether the user waits on this kind and should be told
// when it fails for good.
func (k HandoffKind) UserFacing() bool { return k != HandoffDelivery }

// Handoff statuses.
const (
	HandoffPending = "pending"
	HandoffRunning = "running"
	HandoffDone    = "done"
	HandoffFailed  = "failed"
	HandoffSkipped = "skipped"
)

// Handoff is a persisted intent to run one pipeline step for one record
// session (outbox row). The unique (session_id, kind) pair makes each kind
// run at most once per conversation.
type Handoff struct {
	ID            string         `json:"id"              gorm:"type:char(36);primaryKey"`
	RecordID      int64          `json:"record_id"       gorm:"not null;index"`
	SessionID     string         `json:"session_id"      gorm:"type:char(36);not null;uniqueIndex:ux_handoff_session_kind,priority:1"`
	Kind          HandoffKind    `json:"kind"            gorm:"type:varchar(32);not null;uniqueIndex:ux_handoff_session_kind,priority:2"`
	Payload       datatypes.JSON `json:"payload,omitempty" swaggertype:"object"`
	Status        string         `json:"status"          gorm:"type:varchar(16);not null;index:idx_handoff_due,priority:1"`
	Attempts      int            `json:"attempts"        gorm:"not null;default:0"`
	NextAttemptAt time.Time      `json:"next_attempt_at" gorm:"not null;index:idx_handoff_due,priority:2"`
	LockedUntil   *time.Time     `json:"locked_until,omitempty"`
	LastError     string         `json:"last_error,omitempty" gorm:"type:text"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// TableName returns the database table name for Handoff.
func (Handoff) TableName() string { return "handoffs" }
