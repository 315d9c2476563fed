package models

import "time"

// CheckoutStatus tracks a checkout session.
type CheckoutStatus string

const (
	CheckoutPending   CheckoutStatus = "pending"
	CheckoutCompleted CheckoutStatus = "completed"
	CheckoutCancelled CheckoutStatus = "cancelled"
)

// CheckoutRefPrefix prefixes references minted for the gateway.
const CheckoutRefPrefix = "cm_"

// CheckoutSession is what the user was asked to pay, captured server-side when
// checkout starts. It is the source of truth when the payment comes back.
type CheckoutSession struct {
	Ref       string         `db:"ref" json:"ref"`
	UserID    string         `db:"user_id" json:"user_id"`
	CourseID  string         `db:"course_id" json:"course_id"`
	Amount    float64        `db:"amount" json:"amount"`
	Currency  string         `db:"currency" json:"currency"`
	Status    CheckoutStatus `db:"status" json:"status"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
}

// CheckoutRequest starts a purchase.
type CheckoutRequest struct {
	CourseID string `json:"course_id" validate:"required"`
}

// CheckoutCustomer is passed to the gateway widget.
type CheckoutCustomer struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// CheckoutMeta is echoed back by the gateway.
type CheckoutMeta struct {
	UserID   string `json:"user_id"`
	CourseID string `json:"course_id"`
}

// CheckoutInit is the payload a client hands to the gateway widget.
type CheckoutInit struct {
	TxRef       string           `json:"tx_ref"`
	Amount      float64          `json:"amount"`
	Currency    string           `json:"currency"`
	Customer    CheckoutCustomer `json:"customer"`
	Meta        CheckoutMeta     `json:"meta"`
	PublicKey   string           `json:"public_key"`
	RedirectURL string           `json:"redirect_url,omitempty"`
	Title       string           `json:"title"`
}
