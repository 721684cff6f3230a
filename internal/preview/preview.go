// Package preview keeps the temporary images shown while the classifier works.
//
// A preview is addressed by an opaque id and served under URLPrefix. Callers
// release a preview as soon as it is superseded; backends with expiry also
// drop previews that were never released.
package preview

import (
	"context"
	"errors"
	"strings"
)

// URLPrefix is the route previews are served from.
const URLPrefix = "/preview/"

// ErrNotFound is returned for unknown or released previews.
var ErrNotFound = errors.New("preview not found")

// Image is a stored preview.
type Image struct {
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// Store holds previews until they are released.
type Store interface {
	Put(ctx context.Context, img Image) (string, error)
	Get(ctx context.Context, id string) (*Image, error)
	Release(ctx context.Context, id string) error
}

// URL returns the path a preview id is served at.
func URL(id string) string {
	if id == "" {
		return ""
	}
	return URLPrefix + id
}

// IDFromURL is the inverse of URL.
func IDFromURL(u string) string {
	return strings.TrimPrefix(u, URLPrefix)
}
