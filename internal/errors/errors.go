package appErrors

import (
	"errors"
	"fmt"
)

// ErrTargetNotFound is returned when no target owns a tracking token.
var ErrTargetNotFound = errors.New("target not found")

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

type ErrTemplateNotFound struct {
	TemplateID int
}

func (e *ErrTemplateNotFound) Error() string {
	return fmt.Sprintf("template with ID %d not found", e.TemplateID)
}

func NewTemplateNotFound(id int) error {
	return &ErrTemplateNotFound{TemplateID: id}
}

// ValidationError represents client input issues on administrative operations.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func NewValidation(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// InvalidTransitionError is returned when a campaign status change is not allowed.
type InvalidTransitionError struct {
	CampaignID int
	From       string
	To         string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("campaign %d cannot move from %s to %s", e.CampaignID, e.From, e.To)
}

// DispatchError wraps a delivery channel failure. The target stays unsent.
type DispatchError struct {
	TargetID int
	Timeout  bool
	Err      error
}

func (e *DispatchError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("dispatch to target %d timed out: %v", e.TargetID, e.Err)
	}
	return fmt.Sprintf("dispatch to target %d failed: %v", e.TargetID, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is any of the not-found errors.
func IsNotFound(err error) bool {
	var c *ErrCampaignNotFound
	var t *ErrTemplateNotFound
	return errors.Is(err, ErrTargetNotFound) || errors.As(err, &c) || errors.As(err, &t)
}
