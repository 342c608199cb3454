// Package services defines the business logic of the resume intake bot: the
// conversation state machine, the handoff dispatcher and its runners, and the
// operator read model. This file centralizes service-level error values so
// that callers can branch on them with errors.Is.
//
// Translation into chat replies or HTTP status codes is performed by the
// caller (state machine reply path or HTTP handlers).
package services

import "errors"

// Conversation errors.
var (
	// ErrUnhandledStep indicates a record whose step has no transition.
	ErrUnhandledStep = errors.New("unhandled step")

	// ErrUnexpectedInput is returned when the event kind is not accepted by
	// the current step (e.g. a photo while the name is expected).
	ErrUnexpectedInput = errors.New("unexpected input for step")

	// ErrInvalidAge is returned when the age answer is not a whole number
	// within the accepted range.
	ErrInvalidAge = errors.New("age must be a whole number")

	// ErrUnknownLanguage is returned for a language code outside the catalogue.
	ErrUnknownLanguage = errors.New("unknown language")

	// ErrNotReady is returned when an approval arrives before a resume exists
	// or after it was already approved.
	ErrNotReady = errors.New("record not ready for approval")
)

// Handoff errors.
var (
	// ErrRecordNotFound indicates that the intake record does not exist.
	ErrRecordNotFound = errors.New("record not found")

	// ErrHandoffNotFound indicates the handoff intent does not exist or is
	// not in a state that allows the requested operation.
	ErrHandoffNotFound = errors.New("handoff not found")

	// ErrSessionChanged is returned by runners when the record was restarted
	// after the intent was enqueued. The intent is completed without effect.
	ErrSessionChanged = errors.New("record session changed")

	// ErrEmptyCompletion is returned when the language model produced no text.
	ErrEmptyCompletion = errors.New("empty completion")

	// ErrBadPayload is returned for malformed conversion callbacks.
	ErrBadPayload = errors.New("malformed callback payload")
)
