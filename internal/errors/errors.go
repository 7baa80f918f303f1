// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

// ErrAlreadyDispatched is returned when a campaign recipient already has a message.
var ErrAlreadyDispatched = errors.New("recipient already dispatched for this campaign")

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
	CampaignID string
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %s not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id string) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// NotFoundError covers every other missing record.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func NewNotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// ConfigError means the workspace cannot send: no sender, credential or number.
type ConfigError struct {
	WorkspaceID string
	Reason      string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("workspace %s not configured for sending: %s", e.WorkspaceID, e.Reason)
}

func NewConfigError(workspaceID, reason string) error {
	return &ConfigError{WorkspaceID: workspaceID, Reason: reason}
}

// RateLimitExceeded is expected and non-retryable until the next day.
type RateLimitExceeded struct {
	SenderID string
	Day      string
	Limit    int
}

func (e *RateLimitExceeded) Error() string {
	return fmt.Sprintf("daily send limit of %d reached for sender %s on %s", e.Limit, e.SenderID, e.Day)
}

func NewRateLimitExceeded(senderID, day string, limit int) error {
	return &RateLimitExceeded{SenderID: senderID, Day: day, Limit: limit}
}

// ProviderError wraps a network failure or a non-2xx provider response.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s provider error: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s provider error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func NewProviderError(provider string, statusCode int, body string) error {
	return &ProviderError{Provider: provider, StatusCode: statusCode, Body: body}
}

func WrapProviderError(provider string, err error) error {
	return &ProviderError{Provider: provider, Err: err}
}

// AuthError rejects a webhook or caller without side effects.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "authentication failed: " + e.Reason
}

func NewAuthError(reason string) error {
	return &AuthError{Reason: reason}
}

// DuplicateEvent marks an idempotent no-op. It is not a failure.
type DuplicateEvent struct {
	ExternalID string
	Reason     string
}

func (e *DuplicateEvent) Error() string {
	return fmt.Sprintf("duplicate event for %s: %s", e.ExternalID, e.Reason)
}

func NewDuplicateEvent(externalID, reason string) error {
	return &DuplicateEvent{ExternalID: externalID, Reason: reason}
}

// ValidationError is a malformed request or payload.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// InvalidTransition is returned when a campaign command does not apply to its current status.
type InvalidTransition struct {
	CampaignID string
	From       string
	To         string
}

func (e *InvalidTransition) Error() string {
	return fmt.Sprintf("campaign %s cannot move from %s to %s", e.CampaignID, e.From, e.To)
}

func NewInvalidTransition(id, from, to string) error {
	return &InvalidTransition{CampaignID: id, From: from, To: to}
}

// Is* helpers keep call sites short.

func IsRateLimited(err error) bool {
	var e *RateLimitExceeded
	return errors.As(err, &e)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	var cnf *ErrCampaignNotFound
	return errors.As(err, &nf) || errors.As(err, &cnf)
}
