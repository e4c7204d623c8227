package fetch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"promptcut/logger"
)

const ytDlpFormat = "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best"

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// YtDlp downloads pages yt-dlp understands (YouTube, Vimeo, ...).
type YtDlp struct {
	bin     string
	args    []string
	maxSize int64
	run     runFunc
}

func NewYtDlp(bin string, extraArgs []string, maxSize int64) *YtDlp {
	return &YtDlp{bin: bin, args: extraArgs, maxSize: maxSize, run: execRun}
}

func (y *YtDlp) Fetch(ctx context.Context, rawURL, dir string) (string, error) {
	base := filepath.Join(dir, "ytdlp_"+uuid.NewString())
	args := []string{
		"-f", ytDlpFormat,
		"--merge-output-format", "mp4",
		"--no-playlist",
		"--quiet", "--no-warnings",
		"-o", base + ".%(ext)s",
	}
	if y.maxSize > 0 {
		args = append(args, "--max-filesize", strconv.FormatInt(y.maxSize, 10))
	}
	args = append(args, y.args...)
	args = append(args, rawURL)

	logger.Debugf("Running: %s %s", y.bin, strings.Join(args, " "))
	out, err := y.run(ctx, y.bin, args...)
	if err != nil {
		removeMatches(base)
		return "", fmt.Errorf("yt-dlp download failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	// yt-dlp picks the extension; find what it wrote.
	matches, _ := filepath.Glob(base + ".*")
	for _, m := range matches {
		switch strings.ToLower(filepath.Ext(m)) {
		case ".mp4", ".webm", ".mkv", ".mov":
			for _, other := range matches {
				if other != m {
					os.Remove(other)
				}
			}
			return m, nil
		}
	}
	removeMatches(base)
	return "", fmt.Errorf("yt-dlp finished but no video file was written for %s", rawURL)
}

func removeMatches(base string) {
	matches, _ := filepath.Glob(base + ".*")
	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			logger.Warnf("failed to remove partial download %s: %v", m, err)
		}
	}
}
