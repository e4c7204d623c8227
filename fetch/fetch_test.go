package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateURL(t *testing.T) {
	assert.NoError(t, ValidateURL("https://www.youtube.com/watch?v=abc"))
	assert.NoError(t, ValidateURL("http://cdn.example.com/v.mp4"))
	for _, bad := range []string{"", "ftp://x/y.mp4", "/local/file.mp4", "https://", "not a url"} {
		assert.ErrorIs(t, ValidateURL(bad), ErrInvalidURL, bad)
	}
}

func TestIsDirectMedia(t *testing.T) {
	assert.True(t, IsDirectMedia("https://cdn.example.com/a/b/clip.MP4?sig=1"))
	assert.True(t, IsDirectMedia("https://cdn.example.com/clip.webm"))
	assert.False(t, IsDirectMedia("https://www.youtube.com/watch?v=abc"))
	assert.False(t, IsDirectMedia("https://vimeo.com/12345"))
}

func TestSourceName(t *testing.T) {
	assert.Equal(t, "clip", SourceName("https://cdn.example.com/a/clip.mp4"))
	assert.Equal(t, "dQw4w9WgXcQ", SourceName("https://www.youtube.com/watch?v=dQw4w9WgXcQ"))
	assert.Equal(t, "my_holiday_2024", SourceName("https://e.com/my holiday (2024).mov"))
	assert.Equal(t, "video", SourceName("https://e.com/"))
	assert.Len(t, SourceName("https://e.com/"+strings.Repeat("a", 100)), 64)
}

func TestHTTPFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.mp4":
			w.Write([]byte("video-bytes"))
		case "/big.mp4":
			w.Write([]byte(strings.Repeat("x", 64)))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewHTTP(32)

	p, err := d.Fetch(context.Background(), srv.URL+"/ok.mp4", dir)
	require.NoError(t, err)
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", string(b))
	require.NoError(t, os.Remove(p))

	_, err = d.Fetch(context.Background(), srv.URL+"/big.mp4", dir)
	assert.ErrorContains(t, err, "exceeds limit")

	_, err = d.Fetch(context.Background(), srv.URL+"/missing.mp4", dir)
	assert.ErrorContains(t, err, "404")

	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries, "failed downloads must not leave files behind")
}

func TestYtDlpFetch(t *testing.T) {
	t.Run("finds the merged file", func(t *testing.T) {
		dir := t.TempDir()
		y := NewYtDlp("yt-dlp", []string{"--cookies", "c.txt"}, 100)
		var gotArgs []string
		y.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
			gotArgs = args
			out := args[indexOf(args, "-o")+1]
			return nil, os.WriteFile(strings.Replace(out, "%(ext)s", "mp4", 1), []byte("v"), 0644)
		}

		p, err := y.Fetch(context.Background(), "https://www.youtube.com/watch?v=abc", dir)
		require.NoError(t, err)
		assert.Equal(t, ".mp4", filepath.Ext(p))
		assert.Equal(t, "https://www.youtube.com/watch?v=abc", gotArgs[len(gotArgs)-1])
		assert.Contains(t, gotArgs, "--cookies")
		assert.Contains(t, gotArgs, "--max-filesize")
	})

	t.Run("failure cleans partial files", func(t *testing.T) {
		dir := t.TempDir()
		y := NewYtDlp("yt-dlp", nil, 0)
		y.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
			out := args[indexOf(args, "-o")+1]
			_ = os.WriteFile(strings.Replace(out, "%(ext)s", "mp4.part", 1), []byte("v"), 0644)
			return []byte("ERROR: Video unavailable"), errors.New("exit status 1")
		}

		_, err := y.Fetch(context.Background(), "https://www.youtube.com/watch?v=gone", dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Video unavailable")
		entries, _ := os.ReadDir(dir)
		assert.Empty(t, entries)
	})
}

type recordingFetcher struct{ calls []string }

func (r *recordingFetcher) Fetch(ctx context.Context, rawURL, dir string) (string, error) {
	r.calls = append(r.calls, rawURL)
	return "", nil
}

func TestRouter(t *testing.T) {
	direct, pages := &recordingFetcher{}, &recordingFetcher{}
	r := NewRouter(direct, pages)

	_, _ = r.Fetch(context.Background(), "https://cdn.example.com/v.mp4", "")
	_, _ = r.Fetch(context.Background(), "https://youtu.be/abc", "")
	_, err := r.Fetch(context.Background(), "file:///etc/passwd", "")

	assert.ErrorIs(t, err, ErrInvalidURL)
	assert.Equal(t, []string{"https://cdn.example.com/v.mp4"}, direct.calls)
	assert.Equal(t, []string{"https://youtu.be/abc"}, pages.calls)

	noPages := NewRouter(direct, nil)
	_, _ = noPages.Fetch(context.Background(), "https://youtu.be/xyz", "")
	assert.Len(t, direct.calls, 2)
}

func indexOf(args []string, s string) int {
	for i, a := range args {
		if a == s {
			return i
		}
	}
	return -1
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "holiday_clip", SafeName("holiday clip.MOV"))
	assert.Equal(t, "video", SafeName("..."))
	assert.Equal(t, "a-b_c", SafeName("a-b_c"))
}
