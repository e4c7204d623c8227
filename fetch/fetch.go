// Package fetch downloads remote videos into local temp files.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

var ErrInvalidURL = errors.New("invalid video url")

// Fetcher downloads rawURL into dir and returns the local file path.
// The caller owns (and removes) the file.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, dir string) (string, error)
}

var directExt = map[string]bool{
	".mp4": true, ".m4v": true, ".mov": true, ".webm": true, ".mkv": true,
}

// ValidateURL accepts absolute http(s) URLs with a host.
func ValidateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q must be an absolute http(s) url", ErrInvalidURL, raw)
	}
	return nil
}

// IsDirectMedia reports whether the URL path ends in a video file extension.
func IsDirectMedia(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return directExt[strings.ToLower(path.Ext(u.Path))]
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// SourceName derives a short storage-safe name from the URL's last path
// segment, or its v= query parameter for watch pages.
func SourceName(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "video"
	}
	name := path.Base(u.Path)
	if v := u.Query().Get("v"); v != "" {
		name = v
	}
	return SafeName(name)
}

// SafeName strips the extension and replaces anything but letters, digits,
// '-' and '_'. The result is at most 64 bytes and never empty.
func SafeName(name string) string {
	name = strings.TrimSuffix(name, path.Ext(name))
	name = strings.Trim(unsafeName.ReplaceAllString(name, "_"), "_")
	if name == "" {
		return "video"
	}
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}

// Router sends direct media links to the HTTP fetcher and everything else
// (watch pages, shorts, ...) to yt-dlp.
type Router struct {
	direct Fetcher
	pages  Fetcher
}

func NewRouter(direct, pages Fetcher) *Router {
	return &Router{direct: direct, pages: pages}
}

func (r *Router) Fetch(ctx context.Context, rawURL, dir string) (string, error) {
	if err := ValidateURL(rawURL); err != nil {
		return "", err
	}
	if IsDirectMedia(rawURL) || r.pages == nil {
		return r.direct.Fetch(ctx, rawURL, dir)
	}
	return r.pages.Fetch(ctx, rawURL, dir)
}
