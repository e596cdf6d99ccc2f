package model

// Rates are percentages derived from Counters. The denominator for open,
// click and submit rates is the confirmed sent count.
type Rates struct {
	OpenRate        float64 `json:"open_rate"`
	ClickRate       float64 `json:"click_rate"`
	ClickToOpenRate float64 `json:"click_to_open_rate"`
	SubmitRate      float64 `json:"submit_rate"`
}
