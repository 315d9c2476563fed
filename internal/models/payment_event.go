package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Payment event sources.
const (
	PaymentSourceWebhook  = "webhook"
	PaymentSourceCallback = "callback"
)

// EventPayload is the raw notification kept with an outbox row.
type EventPayload json.RawMessage

// Value stores the payload verbatim, defaulting to an empty object.
func (p EventPayload) Value() (driver.Value, error) {
	if len(p) == 0 {
		return []byte("{}"), nil
	}
	return []byte(p), nil
}

// Scan copies the stored payload.
func (p *EventPayload) Scan(value interface{}) error {
	var raw json.RawMessage
	if err := scanJSON(value, &raw, "EventPayload"); err != nil {
		return err
	}
	*p = EventPayload(raw)
	return nil
}

// MarshalJSON emits the payload as embedded JSON.
func (p EventPayload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("{}"), nil
	}
	return []byte(p), nil
}

// PaymentEvent is an outbox row: one per gateway reference. Projecting it into a
// transaction and entitlement is idempotent and can be retried until ProcessedAt is set.
type PaymentEvent struct {
	Ref         string       `db:"ref" json:"ref"`
	Source      string       `db:"source" json:"source"`
	Status      string       `db:"status" json:"status"`
	Amount      float64      `db:"amount" json:"amount"`
	Currency    string       `db:"currency" json:"currency"`
	Payload     EventPayload `db:"payload" json:"payload"`
	Attempts    int          `db:"attempts" json:"attempts"`
	LastError   *string      `db:"last_error" json:"last_error,omitempty"`
	ProcessedAt *time.Time   `db:"processed_at" json:"processed_at,omitempty"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
}

// Processed reports whether the event has been projected.
func (e *PaymentEvent) Processed() bool {
	return e.ProcessedAt != nil
}

// PaymentCallback is the normalised payment notification fed to the purchase handler.
// UserID and CourseID are the metadata echoed by the gateway.
type PaymentCallback struct {
	TxRef    string  `json:"tx_ref" validate:"required"`
	Status   string  `json:"status" validate:"required"`
	Amount   float64 `json:"amount" validate:"gte=0"`
	Currency string  `json:"currency"`
	UserID   string  `json:"user_id"`
	CourseID string  `json:"course_id"`
}

// PurchaseResult reports what a payment notification produced.
type PurchaseResult struct {
	TxRef             string `json:"tx_ref"`
	UserID            string `json:"user_id"`
	CourseID          string `json:"course_id"`
	Status            string `json:"status"`
	Granted           bool   `json:"granted"`
	DuplicatePurchase bool   `json:"duplicate_purchase"`
	AlreadyRecorded   bool   `json:"already_recorded"`
	// AwaitingConfirmation is set when the gateway has not yet confirmed a client-reported payment.
	AwaitingConfirmation bool         `json:"awaiting_confirmation"`
	Entitlement          *Entitlement `json:"entitlement,omitempty"`
}

// ReplaySummary reports a pass over unprocessed payment events.
type ReplaySummary struct {
	Scanned   int      `json:"scanned"`
	Processed int      `json:"processed"`
	Failed    int      `json:"failed"`
	FailedRef []string `json:"failed_refs,omitempty"`
}
