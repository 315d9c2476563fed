package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedEvent is returned for webhook bodies that cannot be interpreted.
var ErrMalformedEvent = errors.New("malformed payment event")

// WebhookEvent is the gateway notification body.
type WebhookEvent struct {
	Event string      `json:"event"`
	Data  WebhookData `json:"data"`
}

// WebhookData carries the charge itself.
type WebhookData struct {
	ID       json.RawMessage `json:"id"`
	TxRef    string          `json:"tx_ref"`
	Status   string          `json:"status"`
	Amount   json.Number     `json:"amount"`
	Currency string          `json:"currency"`
	Customer struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"customer"`
	Meta Meta `json:"meta"`
}

// Meta is the metadata attached at checkout and echoed back by the gateway.
type Meta struct {
	UserID   string `json:"user_id"`
	CourseID string `json:"course_id"`
}

// ParseEvent decodes and sanity-checks a webhook body.
func ParseEvent(body []byte) (*WebhookEvent, error) {
	var evt WebhookEvent
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.UseNumber()
	if err := dec.Decode(&evt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	evt.Data.TxRef = strings.TrimSpace(evt.Data.TxRef)
	if evt.Data.TxRef == "" {
		return nil, fmt.Errorf("%w: tx_ref missing", ErrMalformedEvent)
	}
	if evt.Data.Status == "" {
		return nil, fmt.Errorf("%w: status missing", ErrMalformedEvent)
	}
	if _, err := evt.AmountValue(); err != nil {
		return nil, err
	}
	return &evt, nil
}

// AmountValue returns the charged amount, treating an absent amount as zero.
func (e *WebhookEvent) AmountValue() (float64, error) {
	if e.Data.Amount == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(string(e.Data.Amount), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q", ErrMalformedEvent, e.Data.Amount)
	}
	return v, nil
}

// IsSuccessStatus reports whether a gateway status means the charge went through.
func IsSuccessStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "successful", "success", "completed":
		return true
	default:
		return false
	}
}

// NormalizeStatus lowercases a gateway status and folds the success aliases into "successful".
func NormalizeStatus(status string) string {
	if IsSuccessStatus(status) {
		return "successful"
	}
	s := strings.ToLower(strings.TrimSpace(status))
	if s == "" {
		return "unknown"
	}
	return s
}
