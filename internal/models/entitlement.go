package models

import "time"

// Entitlement records that a user has paid access to a course. At most one
// exists per (user, course).
type Entitlement struct {
	UserID         string    `db:"user_id" json:"user_id"`
	CourseID       string    `db:"course_id" json:"course_id"`
	PurchasedAt    time.Time `db:"purchased_at" json:"purchased_at"`
	TransactionRef string    `db:"transaction_ref" json:"transaction_ref"`
}

// OwnedCourse is an entitlement joined with its course. Course fields are nil when
// the course has since been deleted.
type OwnedCourse struct {
	Entitlement
	CourseTitle *string `db:"course_title" json:"course_title,omitempty"`
	Category    *string `db:"course_category" json:"category,omitempty"`
}

// Manual grants use this reference prefix instead of a gateway reference.
const ManualRefPrefix = "manual_"

// GrantEntitlementRequest is the admin payload for a manual grant.
type GrantEntitlementRequest struct {
	UserID   string `json:"user_id" validate:"required"`
	CourseID string `json:"course_id" validate:"required"`
}
