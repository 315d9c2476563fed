package storage

import (
	"errors"
	"fmt"
	"strings"
)

// LocalScheme prefixes storage URIs of objects kept in LocalStorage.
const LocalScheme = "local://"

// ErrUnsupportedScheme is returned for storage URIs that cannot be turned into a download link.
var ErrUnsupportedScheme = errors.New("unsupported storage uri scheme")

// LocalURI renders an object key as a storage URI.
func LocalURI(key string) string {
	return LocalScheme + key
}

// LocalKey extracts the object key from a local:// URI.
func LocalKey(uri string) (string, bool) {
	if !strings.HasPrefix(uri, LocalScheme) {
		return "", false
	}
	key := strings.TrimPrefix(uri, LocalScheme)
	return key, key != ""
}

// URLResolver turns storage URIs into links a client can download from.
type URLResolver struct {
	signer  *SignedURLSigner
	baseURL string
}

// NewURLResolver builds a resolver that serves local objects under baseURL + "/files/{token}".
func NewURLResolver(signer *SignedURLSigner, baseURL string) *URLResolver {
	return &URLResolver{signer: signer, baseURL: strings.TrimRight(baseURL, "/")}
}

// Resolve returns a download URL for uri. External http(s) links pass through untouched.
func (r *URLResolver) Resolve(subjectID, uri string) (string, error) {
	uri = strings.TrimSpace(uri)
	lower := strings.ToLower(uri)
	switch {
	case strings.HasPrefix(lower, "https://"), strings.HasPrefix(lower, "http://"):
		return uri, nil
	case strings.HasPrefix(lower, LocalScheme):
		key, ok := LocalKey(uri)
		if !ok {
			return "", fmt.Errorf("resolve %q: %w", uri, ErrInvalidPath)
		}
		token, _, err := r.signer.Generate(subjectID, key)
		if err != nil {
			return "", fmt.Errorf("sign download: %w", err)
		}
		return r.baseURL + "/files/" + token, nil
	default:
		return "", fmt.Errorf("resolve %q: %w", uri, ErrUnsupportedScheme)
	}
}
