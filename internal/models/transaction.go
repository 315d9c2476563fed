package models

import "time"

// Transaction statuses recorded from gateway callbacks.
const (
	TransactionSuccessful = "successful"
	TransactionPending    = "pending"
	TransactionFailed     = "failed"
	TransactionCancelled  = "cancelled"
	TransactionManual     = "manual"
)

// Transaction is the audit record of one payment attempt, keyed by gateway reference.
type Transaction struct {
	Ref       string    `db:"ref" json:"ref"`
	CourseID  string    `db:"course_id" json:"course_id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Amount    float64   `db:"amount" json:"amount"`
	Currency  string    `db:"currency" json:"currency"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// TransactionView adds the course title for reporting. It is nil for deleted courses.
type TransactionView struct {
	Transaction
	CourseTitle *string `db:"course_title" json:"course_title,omitempty"`
}

// TransactionFilter narrows admin transaction listings.
type TransactionFilter struct {
	UserID   string
	CourseID string
	Status   string
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

// Export formats for transaction reports.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

// ExportFile is a rendered report ready to be sent to the client.
type ExportFile struct {
	FileName    string
	ContentType string
	Body        []byte
}
