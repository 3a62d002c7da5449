package audit

import "time"

// TimelineFilters narrows the security event listing.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	UserID   string
	Action   string
	Severity Severity
	Page     int
	PageSize int
}

// TimelineRow is one stored event as returned to reviewers.
type TimelineRow struct {
	ID          string    `json:"id"`
	At          time.Time `json:"at"`
	UserID      string    `json:"user_id,omitempty"`
	Action      string    `json:"action"`
	Resource    string    `json:"resource"`
	ResourceID  string    `json:"resource_id,omitempty"`
	Severity    Severity  `json:"severity"`
	Description string    `json:"description"`
	Metadata    Metadata  `json:"metadata,omitempty"`
}

// PagingInfo menyimpan metadata pagination sederhana.
type PagingInfo struct {
	Page     int  `json:"page"`
	HasNext  bool `json:"has_next"`
	PageSize int  `json:"page_size"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}
