// Package services – conversation steps
//
// The intake conversation is a fixed sequence of questions. Each Step names
// the answer it collects, and the transitions table states which event kinds
// a step accepts and how an accepted answer becomes record fields. A step
// missing from the table is the unhandled-step condition.
package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/resume-intake-bot/internal/domain"
)

// Step is the record cursor into the question sequence.
type Step int

const (
	StepName Step = iota
	StepPhone
	StepAge
	StepExperience
	StepPhoto
	// StepGenerating is terminal for the conversation; the pipeline takes over.
	StepGenerating
)

func (s Step) String() string {
	switch s {
	case StepName:
		return "name"
	case StepPhone:
		return "phone"
	case StepAge:
		return "age"
	case StepExperience:
		return "experience"
	case StepPhoto:
		return "photo"
	case StepGenerating:
		return "generating"
	}
	return "step-" + strconv.Itoa(int(s))
}

// EventKind classifies inbound chat events.
type EventKind string

const (
	EventText     EventKind = "text"
	EventVoice    EventKind = "voice"
	EventPhoto    EventKind = "photo"
	EventCommand  EventKind = "command"
	EventCallback EventKind = "callback"
)

// Event is a transport-neutral inbound chat update.
type Event struct {
	UpdateID int64
	ChatID   int64
	Kind     EventKind
	// Text holds the message text, or the command name without slash.
	Text string
	// FileID references the voice note or the largest photo size.
	FileID       string
	CallbackID   string
	CallbackData string
}

// answer is what a transition produced from an accepted event.
type answer struct {
	fields map[string]any
	// interp is interpolated into the next prompt.
	interp string
	// handoff persists a follow-up intent in the step write's transaction
	// and returns its id for starting after commit.
	handoff func(ctx context.Context, tx *gorm.DB) (string, error)
}

type transition struct {
	accepts []EventKind
	apply   func(ctx context.Context, s *IntakeService, rec *domain.IntakeRecord, ev Event) (answer, error)
}

func (t transition) allows(k EventKind) bool {
	for _, a := range t.accepts {
		if a == k {
			return true
		}
	}
	return false
}

// MaxAgeDefault bounds accepted ages when the service is not configured.
const MaxAgeDefault = 130

var transitions = map[Step]transition{
	StepName: {
		accepts: []EventKind{EventText},
		apply: func(_ context.Context, _ *IntakeService, _ *domain.IntakeRecord, ev Event) (answer, error) {
			name := strings.TrimSpace(ev.Text)
			return answer{fields: map[string]any{"name": name}, interp: name}, nil
		},
	},
	StepPhone: {
		accepts: []EventKind{EventText},
		apply: func(_ context.Context, _ *IntakeService, _ *domain.IntakeRecord, ev Event) (answer, error) {
			return answer{fields: map[string]any{"phone_number": strings.TrimSpace(ev.Text)}}, nil
		},
	},
	StepAge: {
		accepts: []EventKind{EventText},
		apply: func(_ context.Context, s *IntakeService, _ *domain.IntakeRecord, ev Event) (answer, error) {
			age, err := parseAge(ev.Text, s.maxAge())
			if err != nil {
				return answer{}, err
			}
			return answer{fields: map[string]any{"age": age}}, nil
		},
	},
	StepExperience: {
		accepts: []EventKind{EventText, EventVoice},
		apply: func(_ context.Context, s *IntakeService, rec *domain.IntakeRecord, ev Event) (answer, error) {
			if ev.Kind == EventText {
				return answer{fields: map[string]any{"experience": strings.TrimSpace(ev.Text)}}, nil
			}
			fileID := ev.FileID
			return answer{
				fields: map[string]any{"transcription_status": domain.TranscriptionPending},
				handoff: func(ctx context.Context, tx *gorm.DB) (string, error) {
					return s.Pipeline.QueueConversion(ctx, tx, rec, fileID)
				},
			}, nil
		},
	},
	StepPhoto: {
		accepts: []EventKind{EventText, EventPhoto},
		apply: func(ctx context.Context, s *IntakeService, rec *domain.IntakeRecord, ev Event) (answer, error) {
			if ev.Kind == EventText {
				if !strings.EqualFold(strings.TrimSpace(ev.Text), "no") {
					return answer{}, ErrUnexpectedInput
				}
				return answer{fields: map[string]any{"photo_path": nil}}, nil
			}
			key, err := s.storePhoto(ctx, rec.ID, ev.FileID)
			if err != nil {
				return answer{}, err
			}
			return answer{fields: map[string]any{"photo_path": key}}, nil
		},
	},
}

// parseAge accepts a whole number in [1, max].
func parseAge(text string, max int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || n < 1 || n > max {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAge, text)
	}
	return n, nil
}

// PhotoKey is the object key of a user's photo in the images bucket.
func PhotoKey(chatID int64) string { return strconv.FormatInt(chatID, 10) + ".jpg" }
