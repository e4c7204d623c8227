// Package storage keeps video objects under string keys on the local disk and
// publishes them through the API's /files route.
package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrInvalidKey     = errors.New("invalid object key")
	ErrBadSignature   = errors.New("invalid or expired signature")
)

const publicDir = ".public"

// Bucket is what the pipeline needs from object storage.
type Bucket interface {
	Put(ctx context.Context, key string, r io.Reader) (int64, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (int64, error)
	MakePublic(ctx context.Context, key string) (string, error)
	SignURL(method, key string, ttl time.Duration) (string, error)
}

// Local stores objects as files below BaseDir.
type Local struct {
	baseDir    string
	baseURL    string
	signingKey []byte
	now        func() time.Time
}

func NewLocal(baseDir, baseURL, signingKey string) (*Local, error) {
	if signingKey == "" {
		return nil, errors.New("storage signing key is required")
	}
	if err := os.MkdirAll(filepath.Join(baseDir, publicDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", baseDir, err)
	}
	return &Local{
		baseDir:    baseDir,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		signingKey: []byte(signingKey),
		now:        time.Now,
	}, nil
}

// CleanKey normalizes a key and rejects traversal or the internal marker dir.
func CleanKey(key string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned != key || cleaned == "." || strings.HasPrefix(cleaned, "../") || cleaned == ".." ||
		strings.HasPrefix(cleaned, publicDir) || strings.Contains(cleaned, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}

// Path returns the file backing key.
func (s *Local) Path(key string) (string, error) {
	k, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(k)), nil
}

// Put writes r to key through a temp file and a rename, so readers never see
// a partial object.
func (s *Local) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	p, err := s.Path(key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return 0, fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".put_*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp object: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, readerWithContext(ctx, r))
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("failed to write object %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return 0, fmt.Errorf("failed to commit object %s: %w", key, err)
	}
	return n, nil
}

func (s *Local) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := s.Path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Local) Stat(ctx context.Context, key string) (int64, error) {
	p, err := s.Path(key)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(p)
	if os.IsNotExist(err) || (err == nil && info.IsDir()) {
		return 0, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// MakePublic marks key as readable without a signature and returns its URL.
func (s *Local) MakePublic(ctx context.Context, key string) (string, error) {
	if _, err := s.Stat(ctx, key); err != nil {
		return "", err
	}
	key, _ = CleanKey(key)
	marker := filepath.Join(s.baseDir, publicDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(marker), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(marker, nil, 0644); err != nil {
		return "", fmt.Errorf("failed to mark %s public: %w", key, err)
	}
	return s.PublicURL(key), nil
}

// IsPublic reports whether MakePublic was called for key.
func (s *Local) IsPublic(key string) bool {
	k, err := CleanKey(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(filepath.Join(s.baseDir, publicDir, filepath.FromSlash(k)))
	return err == nil
}

func (s *Local) PublicURL(key string) string {
	return s.baseURL + "/files/" + key
}

// SignURL returns a time-limited URL: GET reads through /files, PUT uploads
// through /api/v1/uploads.
func (s *Local) SignURL(method, key string, ttl time.Duration) (string, error) {
	k, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	var route string
	switch method {
	case http.MethodGet:
		route = "/files/"
	case http.MethodPut:
		route = "/api/v1/uploads/"
	default:
		return "", fmt.Errorf("unsupported signed method %s", method)
	}
	expires := strconv.FormatInt(s.now().Add(ttl).Unix(), 10)
	q := url.Values{}
	q.Set("expires", expires)
	q.Set("signature", s.sign(method, k, expires))
	return s.baseURL + route + k + "?" + q.Encode(), nil
}

// Verify checks a signature produced by SignURL.
func (s *Local) Verify(method, key, expires, signature string) error {
	k, err := CleanKey(key)
	if err != nil {
		return err
	}
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil || s.now().Unix() > exp {
		return ErrBadSignature
	}
	want := s.sign(method, k, expires)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}

func (s *Local) sign(method, key, expires string) string {
	mac := hmac.New(sha256.New, s.signingKey)
	mac.Write([]byte(method + "\n" + key + "\n" + expires))
	return hex.EncodeToString(mac.Sum(nil))
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}
