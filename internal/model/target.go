package model

import "time"

type Target struct {
	ID             int        `db:"id" json:"id"`
	CampaignID     int        `db:"campaign_id" json:"campaign_id"`
	UserID         int        `db:"user_id" json:"user_id"`
	Token          string     `db:"token" json:"-"`
	Sent           bool       `db:"sent" json:"sent"`
	SentAt         *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	Opened         bool       `db:"opened" json:"opened"`
	OpenedAt       *time.Time `db:"opened_at" json:"opened_at,omitempty"`
	Clicked        bool       `db:"clicked" json:"clicked"`
	ClickedAt      *time.Time `db:"clicked_at" json:"clicked_at,omitempty"`
	Submitted      bool       `db:"submitted" json:"submitted"`
	SubmittedAt    *time.Time `db:"submitted_at" json:"submitted_at,omitempty"`
	ClickIP        string     `db:"click_ip" json:"click_ip,omitempty"`
	ClickUserAgent string     `db:"click_user_agent" json:"click_user_agent,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// Flag returns the current value of the flag backing event e.
func (t *Target) Flag(e EventKind) bool {
	switch e {
	case EventSent:
		return t.Sent
	case EventOpened:
		return t.Opened
	case EventClicked:
		return t.Clicked
	case EventSubmitted:
		return t.Submitted
	}
	return false
}
