package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User represents a registered user
type User struct {
	ID           int64           `json:"id"`
	Email        string          `json:"email"`
	PasswordHash string          `json:"-"`
	Name         string          `json:"name"`
	Balance      decimal.Decimal `json:"balance"`
	Lat          *float64        `json:"lat,omitempty"`
	Lng          *float64        `json:"lng,omitempty"`
	PushToken    string          `json:"-"`
	IsPushOn     bool            `json:"is_push_on"`
	IsAdmin      bool            `json:"is_admin"`
	IsSubscribed bool            `json:"is_subscribed"`
	CreatedAt    time.Time       `json:"created_at"`
}

// HasLocation reports whether the user has a location on record. Users
// without one are excluded from radius queries.
func (u *User) HasLocation() bool {
	return u.Lat != nil && u.Lng != nil
}

// Alert represents a location-tagged distress broadcast
type Alert struct {
	ID             uuid.UUID `json:"id"`
	UserID         int64     `json:"user_id"`
	Lat            float64   `json:"lat"`
	Lng            float64   `json:"lng"`
	LocationString string    `json:"location_string"`
	CreatedAt      time.Time `json:"created_at"`

	// Creator display fields, joined in on reads
	UserName     string `json:"user_name,omitempty"`
	ProfilePhoto string `json:"profile_photo,omitempty"`
}

// FootageSubmission represents a responder's footage upload for an alert.
// At most one submission exists per (alert, responder) pair.
type FootageSubmission struct {
	ID              uuid.UUID `json:"id"`
	AlertID         uuid.UUID `json:"alert_id"`
	ResponderID     int64     `json:"responder_id"`
	VideoURL        string    `json:"video_url"`
	DurationSeconds float64   `json:"duration_seconds"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

// Withdrawal represents a balance withdrawal transaction
type Withdrawal struct {
	ID        uuid.UUID       `json:"id"`
	UserID    int64           `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Fee       decimal.Decimal `json:"fee"`
	Total     decimal.Decimal `json:"total"`
	Method    string          `json:"method"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// Balance represents a user's current balance and lifetime withdrawn total
type Balance struct {
	Current   decimal.Decimal `json:"current"`
	Withdrawn decimal.Decimal `json:"withdrawn"`
}

// Settings holds the admin-tunable runtime configuration
type Settings struct {
	MaxResponders    int             `json:"max_responders"`
	PaymentPerUpload decimal.Decimal `json:"payment_per_upload"`
}

// Submission statuses. A rejected submission is terminal; it does not
// become eligible if the cap is raised later.
const (
	SubmissionAccepted = "ACCEPTED"
	SubmissionRejected = "REJECTED"
)

// Withdrawal methods
const (
	MethodInstant  = "instant"
	MethodStandard = "standard"
)

// Withdrawal statuses. The paid transition is driven by the external
// payout provider, not by this service.
const (
	WithdrawalUnpaid = "UNPAID"
	WithdrawalPaid   = "PAID"
)

// AlertVisibilityWindow bounds how long an alert shows up in recent
// queries. Alerts past the window are excluded, not deleted.
const AlertVisibilityWindow = 24 * time.Hour

// MinFootageSeconds is the shortest footage that qualifies for payment.
const MinFootageSeconds = 60.0

// FreeTrialDays is the length of the free trial counted from account creation.
const FreeTrialDays = 7
