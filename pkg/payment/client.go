package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrTransactionNotFound is returned when the gateway has no record of a reference.
var ErrTransactionNotFound = errors.New("transaction not found at gateway")

// Verification is the gateway's own view of a charge.
type Verification struct {
	TxRef    string
	Status   string
	Amount   float64
	Currency string
}

// Client talks to the gateway's REST API.
type Client struct {
	baseURL   string
	secretKey string
	http      *http.Client
}

// NewClient builds a gateway client. A nil httpClient gets a client with the given timeout.
func NewClient(baseURL, secretKey string, timeout time.Duration, httpClient *http.Client) *Client {
	if httpClient == nil {
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		http:      httpClient,
	}
}

type verifyResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		TxRef    string      `json:"tx_ref"`
		Status   string      `json:"status"`
		Amount   json.Number `json:"amount"`
		Currency string      `json:"currency"`
	} `json:"data"`
}

// VerifyByReference fetches the charge identified by txRef.
func (c *Client) VerifyByReference(ctx context.Context, txRef string) (*Verification, error) {
	endpoint := fmt.Sprintf("%s/transactions/verify_by_reference?tx_ref=%s", c.baseURL, url.QueryEscape(txRef))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verify transaction: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read verify response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrTransactionNotFound
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("verify transaction: gateway returned %d", resp.StatusCode)
	}

	var parsed verifyResponse
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.UseNumber()
	if err := dec.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode verify response: %w", err)
	}
	if !strings.EqualFold(parsed.Status, "success") {
		return nil, fmt.Errorf("verify transaction: %s", parsed.Message)
	}

	amount, err := parsed.Data.Amount.Float64()
	if err != nil && parsed.Data.Amount != "" {
		return nil, fmt.Errorf("decode verify amount: %w", err)
	}

	return &Verification{
		TxRef:    parsed.Data.TxRef,
		Status:   parsed.Data.Status,
		Amount:   amount,
		Currency: strings.ToUpper(parsed.Data.Currency),
	}, nil
}
