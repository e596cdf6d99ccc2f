package model

import "time"

type Template struct {
	ID        int          `db:"id" json:"id"`
	Name      string       `db:"name" json:"name"`
	Kind      CampaignKind `db:"kind" json:"kind"`
	Category  string       `db:"category" json:"category"`
	Subject   string       `db:"subject" json:"subject"`
	BodyHTML  string       `db:"body_html" json:"body_html"`
	ActionURL string       `db:"action_url" json:"action_url"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
}

// Message is a rendered, instrumented message ready for a delivery channel.
type Message struct {
	To       string `json:"to"`
	ToName   string `json:"to_name"`
	Subject  string `json:"subject"`
	HTML     string `json:"html"`
	PixelURL string `json:"pixel_url"`
	ClickURL string `json:"click_url"`
}

// Notification is a remediation notice for a recipient or an administrator.
type Notification struct {
	To      string
	ToName  string
	Subject string
	Text    string
	HTML    string
}
