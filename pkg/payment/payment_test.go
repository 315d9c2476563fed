package payment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifierHMAC(t *testing.T) {
	body := []byte(`{"event":"charge.completed"}`)
	v := NewVerifier("", "signing-secret")

	require.NoError(t, v.Verify("", SignHex("signing-secret", body), body))
	require.NoError(t, v.Verify("", "sha256="+SignHex("signing-secret", body), body))
	assert.ErrorIs(t, v.Verify("", SignHex("other", body), body), ErrSignatureInvalid)
	assert.ErrorIs(t, v.Verify("", "not-hex", body), ErrSignatureInvalid)
	assert.ErrorIs(t, v.Verify("", "", body), ErrSignatureMissing)
}

func TestVerifierSharedHash(t *testing.T) {
	v := NewVerifier("hash-123", "")

	require.NoError(t, v.Verify("hash-123", "", nil))
	assert.ErrorIs(t, v.Verify("hash-124", "", nil), ErrSignatureInvalid)
	assert.ErrorIs(t, v.Verify("", "", nil), ErrSignatureMissing)
	// a signature cannot be checked without a signing secret
	assert.ErrorIs(t, v.Verify("", "abcd", nil), ErrSignatureInvalid)
}

func TestVerifierNotConfigured(t *testing.T) {
	assert.ErrorIs(t, NewVerifier("", "").Verify("x", "y", nil), ErrVerifierNotConfigured)
}

func TestParseEvent(t *testing.T) {
	body := []byte(`{"event":"charge.completed","data":{"id":4421,"tx_ref":" cm_abc ","status":"successful","amount":49.99,"currency":"USD","customer":{"email":"a@b.c"},"meta":{"user_id":"u-1","course_id":"c-1"}}}`)
	evt, err := ParseEvent(body)
	require.NoError(t, err)
	assert.Equal(t, "cm_abc", evt.Data.TxRef)
	assert.Equal(t, "u-1", evt.Data.Meta.UserID)
	assert.Equal(t, "c-1", evt.Data.Meta.CourseID)
	amount, err := evt.AmountValue()
	require.NoError(t, err)
	assert.InDelta(t, 49.99, amount, 0.0001)

	_, err = ParseEvent([]byte(`{"data":{"status":"successful"}}`))
	assert.ErrorIs(t, err, ErrMalformedEvent)
	_, err = ParseEvent([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedEvent)
	_, err = ParseEvent([]byte(`{"data":{"tx_ref":"x","status":"successful","amount":"abc"}}`))
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestStatusHelpers(t *testing.T) {
	for _, s := range []string{"successful", "SUCCESS", " completed "} {
		assert.True(t, IsSuccessStatus(s), s)
		assert.Equal(t, "successful", NormalizeStatus(s))
	}
	for _, s := range []string{"pending", "failed", "cancelled", ""} {
		assert.False(t, IsSuccessStatus(s), s)
	}
	assert.Equal(t, "failed", NormalizeStatus("FAILED"))
	assert.Equal(t, "unknown", NormalizeStatus(""))
}

func TestClientVerifyByReference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transactions/verify_by_reference", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		switch r.URL.Query().Get("tx_ref") {
		case "cm_ok":
			_, _ = w.Write([]byte(`{"status":"success","data":{"tx_ref":"cm_ok","status":"successful","amount":"25.50","currency":"usd"}}`))
		case "cm_missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", "sk_test", time.Second, nil)

	v, err := client.VerifyByReference(context.Background(), "cm_ok")
	require.NoError(t, err)
	assert.Equal(t, "successful", v.Status)
	assert.InDelta(t, 25.50, v.Amount, 0.0001)
	assert.Equal(t, "USD", v.Currency)

	_, err = client.VerifyByReference(context.Background(), "cm_missing")
	assert.ErrorIs(t, err, ErrTransactionNotFound)

	_, err = client.VerifyByReference(context.Background(), "cm_boom")
	assert.Error(t, err)
}
