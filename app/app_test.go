package app

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptcut/config"
	"promptcut/store"
)

func TestBaseURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8080", BaseURL(&config.Config{Port: "8080"}))
	assert.Equal(t, "https://cut.example.com", BaseURL(&config.Config{Port: "8080", BaseURL: "https://cut.example.com/"}))
}

func TestOpenStore(t *testing.T) {
	mem, err := OpenStore("")
	require.NoError(t, err)
	assert.IsType(t, &store.Memory{}, mem)

	db, err := OpenStore(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	assert.IsType(t, &store.Gorm{}, db)
	require.NoError(t, db.(io.Closer).Close())
}

func TestNewFetcherRejectsBadArgs(t *testing.T) {
	// sh stands in for the yt-dlp binary; only the args matter here.
	_, err := newFetcher(&config.Config{YtDlpBin: "sh", YtDlpArgs: `--cookies "unterminated`})
	assert.ErrorContains(t, err, "invalid YTDLP_ARGS")
}
