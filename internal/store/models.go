package store

import "time"

// Seller is one row of the sales-representative directory. Codes come from
// the ERP; Name is the canonical display form used to scope dataset queries
// (e.g. "V.vp - Renata Rodrigues").
type Seller struct {
	Code int    `json:"slp_code"`
	Name string `json:"slp_name"`
}

type PitchUsage struct {
	PitchID    string    `json:"pitch_id"`
	CardCode   string    `json:"card_code"`
	TargetSKU  string    `json:"target_sku"`
	PitchText  string    `json:"pitch_text"`
	UserID     string    `json:"user_id"`
	CreatedAt  time.Time `json:"created_at"`
	Feedback   string    `json:"feedback"`
	FeedbackBy string    `json:"feedback_by"`
}
