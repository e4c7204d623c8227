package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// HTTP downloads a URL with a plain GET and enforces a size limit.
type HTTP struct {
	client  *http.Client
	maxSize int64
}

func NewHTTP(maxSize int64) *HTTP {
	return &HTTP{
		client: &http.Client{
			Timeout: 30 * time.Minute, // Videos can be large
		},
		maxSize: maxSize,
	}
}

func (d *HTTP) Fetch(ctx context.Context, rawURL, dir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download video: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download file, status: %s", resp.Status)
	}
	if d.maxSize > 0 && resp.ContentLength > d.maxSize {
		return "", fmt.Errorf("input file size %d exceeds limit of %d bytes", resp.ContentLength, d.maxSize)
	}

	tmpFile, err := os.CreateTemp(dir, "download_*.mp4")
	if err != nil {
		return "", err
	}
	fail := func(err error) (string, error) {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return "", err
	}

	// Use a LimitedReader to enforce max input size
	var body io.Reader = resp.Body
	if d.maxSize > 0 {
		body = &io.LimitedReader{R: resp.Body, N: d.maxSize + 1}
	}
	written, err := io.Copy(tmpFile, body)
	if err != nil {
		return fail(fmt.Errorf("failed to write downloaded file: %w", err))
	}
	if d.maxSize > 0 && written > d.maxSize {
		return fail(fmt.Errorf("input file size exceeds limit of %d bytes", d.maxSize))
	}
	// Need to close here to ensure data is flushed before ffmpeg reads it
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpFile.Name())
		return "", err
	}
	return tmpFile.Name(), nil
}
