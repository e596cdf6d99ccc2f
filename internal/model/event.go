package model

import "time"

type EventKind string

const (
	EventSent      EventKind = "sent"
	EventOpened    EventKind = "opened"
	EventClicked   EventKind = "clicked"
	EventSubmitted EventKind = "submitted"
)

// Outcome is the result of an attempted one-way flag transition.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeIgnored   Outcome = "ignored"
)

// ClickMeta is captured on the clicked transition only.
type ClickMeta struct {
	IP        string
	UserAgent string
}

// Transition describes the target touched by a RecordEvent call.
type Transition struct {
	Outcome      Outcome
	Event        EventKind
	Token        string
	TargetID     int
	CampaignID   int
	UserID       int
	CampaignKind CampaignKind
	At           time.Time
}

// RemediationTask is the payload published on the remediation topic.
type RemediationTask struct {
	Token      string    `json:"token"`
	TargetID   int       `json:"target_id"`
	CampaignID int       `json:"campaign_id"`
	UserID     int       `json:"user_id"`
	ClickedAt  time.Time `json:"clicked_at"`
}

// DispatchJob is the payload published on the campaign dispatch topic.
type DispatchJob struct {
	CampaignID int `json:"campaign_id"`
}
