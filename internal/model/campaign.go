package model

import (
	"fmt"
	"time"
)

type CampaignKind string

const (
	KindPhishing CampaignKind = "phishing"
	KindAd       CampaignKind = "ad"
)

func ParseCampaignKind(s string) (CampaignKind, error) {
	switch CampaignKind(s) {
	case KindPhishing, KindAd:
		return CampaignKind(s), nil
	}
	return "", fmt.Errorf("unknown campaign kind %q", s)
}

type CampaignStatus string

const (
	StatusDraft     CampaignStatus = "draft"
	StatusScheduled CampaignStatus = "scheduled"
	StatusActive    CampaignStatus = "active"
	StatusPaused    CampaignStatus = "paused"
	StatusCompleted CampaignStatus = "completed"
)

func ParseCampaignStatus(s string) (CampaignStatus, error) {
	switch CampaignStatus(s) {
	case StatusDraft, StatusScheduled, StatusActive, StatusPaused, StatusCompleted:
		return CampaignStatus(s), nil
	}
	return "", fmt.Errorf("unknown campaign status %q", s)
}

// CanTransition reports whether a campaign may move from s to next.
func (s CampaignStatus) CanTransition(next CampaignStatus) bool {
	switch s {
	case StatusDraft:
		return next == StatusScheduled || next == StatusActive
	case StatusScheduled:
		return next == StatusActive || next == StatusDraft
	case StatusActive:
		return next == StatusPaused || next == StatusCompleted
	case StatusPaused:
		return next == StatusActive || next == StatusCompleted
	case StatusCompleted:
		return false
	default:
		return false
	}
}

// Editable reports whether recipients can still be added or removed.
func (s CampaignStatus) Editable() bool {
	return s == StatusDraft || s == StatusScheduled
}

// Counters are only ever advanced by a winning target flag transition.
type Counters struct {
	Sent      int `db:"sent_count" json:"sent"`
	Opened    int `db:"opened_count" json:"opened"`
	Clicked   int `db:"clicked_count" json:"clicked"`
	Submitted int `db:"submitted_count" json:"submitted"`
}

func (c Counters) Add(o Counters) Counters {
	return Counters{
		Sent:      c.Sent + o.Sent,
		Opened:    c.Opened + o.Opened,
		Clicked:   c.Clicked + o.Clicked,
		Submitted: c.Submitted + o.Submitted,
	}
}

type Campaign struct {
	ID                  int            `db:"id" json:"id"`
	Name                string         `db:"name" json:"name"`
	Kind                CampaignKind   `db:"kind" json:"kind"`
	Status              CampaignStatus `db:"status" json:"status"`
	TemplateID          int            `db:"template_id" json:"template_id"`
	RemediationModuleID *int           `db:"remediation_module_id" json:"remediation_module_id,omitempty"`
	ScheduledAt         *time.Time     `db:"scheduled_at" json:"scheduled_at,omitempty"`
	Counters            Counters       `json:"counters"`
	CreatedAt           time.Time      `db:"created_at" json:"created_at"`
	StartedAt           *time.Time     `db:"started_at" json:"started_at,omitempty"`
	CompletedAt         *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	UpdatedAt           *time.Time     `db:"updated_at" json:"updated_at,omitempty"`
}
