package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignedURLSignerGenerateAndParse(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, expiresAt, err := signer.Generate("res-1", "resources/2024/05/abcd1234-notes.pdf")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.False(t, expiresAt.IsZero())

	subject, key, err := signer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "res-1", subject)
	assert.Equal(t, "resources/2024/05/abcd1234-notes.pdf", key)
}

func TestSignedURLSignerExpired(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Minute)
	token, _, err := signer.Generate("res-1", "a.pdf")
	require.NoError(t, err)

	signer.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, _, err = signer.Parse(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestSignedURLSignerTampered(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, _, err := signer.Generate("res-1", "a.pdf")
	require.NoError(t, err)

	other := NewSignedURLSigner("other", time.Hour)
	_, _, err = other.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, _, err = signer.Parse("res-1.123.abc")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSignedURLSignerRequiresSecret(t *testing.T) {
	_, _, err := NewSignedURLSigner("", time.Hour).Generate("res-1", "a.pdf")
	assert.Error(t, err)
}

func TestURLResolver(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	resolver := NewURLResolver(signer, "https://api.example.com/")

	url, err := resolver.Resolve("res-1", "https://cdn.example.com/video.mp4")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/video.mp4", url)

	url, err = resolver.Resolve("res-1", LocalURI("resources/2024/05/x-a.pdf"))
	require.NoError(t, err)
	assert.Contains(t, url, "https://api.example.com/files/res-1.")

	_, err = resolver.Resolve("res-1", "ftp://host/file")
	assert.ErrorIs(t, err, ErrUnsupportedScheme)

	_, err = resolver.Resolve("res-1", "local://")
	assert.ErrorIs(t, err, ErrInvalidPath)
}
