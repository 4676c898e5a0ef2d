package blob

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// uriScheme prefixes every payload reference stored on a record. Records
// never embed binary content; they hold one of these URIs, resolved lazily.
const uriScheme = "blob://"

// Payloads is the payload-indirection facade over a blob Store. Keys are
// generated, never caller-chosen, so a record's payload reference is opaque.
type Payloads struct {
	store Store
}

// NewPayloads wraps a blob store.
func NewPayloads(store Store) *Payloads {
	return &Payloads{store: store}
}

// Backend exposes the wrapped store.
func (p *Payloads) Backend() Store { return p.store }

// Store writes the payload bytes and returns the URI to reference from a
// record. The suggested name is kept as the key's basename for operator
// readability; uniqueness comes from the generated prefix.
func (p *Payloads) Store(ctx context.Context, r io.Reader, suggestedName, contentType string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate payload key: %w", err)
	}
	name := sanitizeName(suggestedName)
	key := fmt.Sprintf("%s/%s/%s", time.Now().UTC().Format("2006/01/02"), id.String(), name)
	if _, err := p.store.Put(ctx, key, r, PutOptions{ContentType: contentType}); err != nil {
		return "", err
	}
	return uriScheme + key, nil
}

// IssueDownloadURL resolves a payload URI to a time-limited signed URL.
func (p *Payloads) IssueDownloadURL(ctx context.Context, uri string, ttl time.Duration) (string, error) {
	key, err := parseURI(uri)
	if err != nil {
		return "", err
	}
	return p.store.PresignURL(ctx, key, SignedURLOptions{Method: "GET", Expiry: ttl})
}

// Open returns the payload content for a URI.
func (p *Payloads) Open(ctx context.Context, uri string) (Info, io.ReadCloser, error) {
	key, err := parseURI(uri)
	if err != nil {
		return Info{}, nil, err
	}
	return p.store.Get(ctx, key)
}

// Delete removes the payload behind a URI. Deleting an absent payload is a
// no-op.
func (p *Payloads) Delete(ctx context.Context, uri string) error {
	key, err := parseURI(uri)
	if err != nil {
		return err
	}
	_, err = p.store.Delete(ctx, key)
	return err
}

func parseURI(uri string) (string, error) {
	if !strings.HasPrefix(uri, uriScheme) {
		return "", fmt.Errorf("invalid payload uri %q", uri)
	}
	key := strings.TrimPrefix(uri, uriScheme)
	if key == "" {
		return "", fmt.Errorf("invalid payload uri %q", uri)
	}
	return key, nil
}

func sanitizeName(name string) string {
	name = path.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == "/" {
		return "payload.bin"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
