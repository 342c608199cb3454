// Package domain defines the persistence models for the resume intake bot.
// These types are mapped with GORM and shared across the repository, service
// and HTTP layers.
package domain

import "time"

// Transcription states of an IntakeRecord. An empty value means the
// experience answer was typed and no transcription is involved.
const (
	TranscriptionNone    = ""
	TranscriptionPending = "pending"
	TranscriptionDone    = "done"
	TranscriptionFailed  = "failed"
)

// IntakeRecord is the persisted conversation state of one chat user.
//
// Fields:
//   - ID: chat identifier assigned by the transport (not auto-incremented).
//   - SessionID: regenerated on every (re)creation; scopes handoff intents.
//   - Step: cursor into the scripted question sequence.
//   - Language: locale code chosen at creation; immutable afterwards.
//   - Name / PhoneNumber / Age: write-once scalar answers.
//   - Experience: typed answer or the translated transcription.
//   - TranscriptionStatus: "pending" while a voice answer is being transcribed.
//   - PhotoPath: object key of the uploaded photo, nil when declined.
//   - ResumeMarkdown / ResumeHTML: generated resume; presence blocks regeneration.
//   - DocumentSentAt: set once the rendered PDF reached the chat.
//   - Approved: explicit user confirmation; triggers delivery.
type IntakeRecord struct {
	ID                  int64      `json:"id"                   gorm:"primaryKey;autoIncrement:false"`
	SessionID           string     `json:"session_id"           gorm:"type:char(36);not null;index"`
	Step                int        `json:"step"                 gorm:"not null;default:0"`
	Language            string     `json:"language"             gorm:"type:varchar(8);not null"`
	Name                *string    `json:"name,omitempty"       gorm:"type:varchar(255)"`
	PhoneNumber         *string    `json:"phone_number,omitempty" gorm:"type:varchar(64)"`
	Age                 *int       `json:"age,omitempty"`
	Experience          *string    `json:"experience,omitempty" gorm:"type:text"`
	TranscriptionStatus string     `json:"transcription_status,omitempty" gorm:"type:varchar(16);not null;default:''"`
	PhotoPath           *string    `json:"photo_path,omitempty" gorm:"type:varchar(255)"`
	ResumeMarkdown      *string    `json:"resume_markdown,omitempty" gorm:"type:text"`
	ResumeHTML          *string    `json:"resume_html,omitempty" gorm:"type:text"`
	DocumentSentAt      *time.Time `json:"document_sent_at,omitempty"`
	Approved            bool       `json:"approved"             gorm:"not null;default:false"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// TableName returns the database table name for IntakeRecord.
func (IntakeRecord) TableName() string { return "users" }

// HasResume reports whether a resume was already generated for the record.
func (r *IntakeRecord) HasResume() bool {
	return (r.ResumeHTML != nil && *r.ResumeHTML != "") ||
		(r.ResumeMarkdown != nil && *r.ResumeMarkdown != "")
}

// HasExperience reports whether a usable experience answer is stored.
func (r *IntakeRecord) HasExperience() bool {
	return r.Experience != nil && *r.Experience != "" && r.TranscriptionStatus != TranscriptionPending
}

// DisplayName returns the collected name or an empty string.
func (r *IntakeRecord) DisplayName() string {
	if r.Name == nil {
		return ""
	}
	return *r.Name
}
