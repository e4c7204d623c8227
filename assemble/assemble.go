// Package assemble builds the edited video: it materializes the stored source
// locally, cuts the requested ranges and publishes the result.
package assemble

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"promptcut/ffmpeg"
	"promptcut/logger"
	"promptcut/segment"
	"promptcut/storage"
)

var (
	// ErrNoSegments means the cut list was empty: the model matched nothing.
	ErrNoSegments = errors.New("no matching segments")
	ErrStorage    = errors.New("storage failure")
	ErrCodec      = errors.New("codec failure")
)

// Codec is the subset of ffmpeg.Runner the assembler uses.
type Codec interface {
	Probe(ctx context.Context, path string) (ffmpeg.MediaInfo, error)
	Assemble(ctx context.Context, input string, cuts []segment.TimeRange, hasAudio bool, output string) (string, error)
}

type Assembler struct {
	bucket  storage.Bucket
	codec   Codec
	tempDir string
}

func New(bucket storage.Bucket, codec Codec, tempDir string) *Assembler {
	return &Assembler{bucket: bucket, codec: codec, tempDir: tempDir}
}

// Source is a local copy of a stored video. Close removes it.
type Source struct {
	Ref  string
	Path string
	Info ffmpeg.MediaInfo
}

// Close deletes the local copy.
func (s *Source) Close() error {
	if s == nil || s.Path == "" {
		return nil
	}
	if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Open copies ref into the temp dir and probes it. On error nothing is left behind.
func (a *Assembler) Open(ctx context.Context, ref string) (*Source, error) {
	rc, err := a.bucket.Get(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("%w: read source %s: %v", ErrStorage, ref, err)
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(a.tempDir, "source_*.mp4")
	if err != nil {
		return nil, fmt.Errorf("%w: create temp source: %v", ErrStorage, err)
	}
	src := &Source{Ref: ref, Path: tmp.Name()}

	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		a.release(src)
		return nil, fmt.Errorf("%w: copy source %s: %v", ErrStorage, ref, err)
	}
	if err := tmp.Close(); err != nil {
		a.release(src)
		return nil, fmt.Errorf("%w: flush source: %v", ErrStorage, err)
	}

	info, err := a.codec.Probe(ctx, src.Path)
	if err != nil {
		a.release(src)
		return nil, fmt.Errorf("%w: probe source: %v", ErrCodec, err)
	}
	src.Info = info
	return src, nil
}

// Assemble renders cuts from src into outputKey, makes it public and returns
// the public URL. An empty cut list returns ErrNoSegments.
func (a *Assembler) Assemble(ctx context.Context, src *Source, cuts []segment.TimeRange, outputKey string) (string, error) {
	if len(cuts) == 0 {
		return "", ErrNoSegments
	}

	out, err := os.CreateTemp(a.tempDir, "edited_*.mp4")
	if err != nil {
		return "", fmt.Errorf("%w: create temp output: %v", ErrStorage, err)
	}
	outPath := out.Name()
	out.Close()
	defer removeTemp(outPath)

	ffLog, err := a.codec.Assemble(ctx, src.Path, cuts, src.Info.HasAudio, outPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v: %s", ErrCodec, err, tail(ffLog, 400))
	}

	f, err := os.Open(outPath)
	if err != nil {
		return "", fmt.Errorf("%w: open output: %v", ErrCodec, err)
	}
	defer f.Close()

	if _, err := a.bucket.Put(ctx, outputKey, f); err != nil {
		return "", fmt.Errorf("%w: upload %s: %v", ErrStorage, outputKey, err)
	}
	publicURL, err := a.bucket.MakePublic(ctx, outputKey)
	if err != nil {
		return "", fmt.Errorf("%w: publish %s: %v", ErrStorage, outputKey, err)
	}
	return publicURL, nil
}

func (a *Assembler) release(src *Source) {
	if err := src.Close(); err != nil {
		logger.Warnf("failed to remove temp source %s: %v", src.Path, err)
	}
}

func removeTemp(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warnf("failed to remove temp file %s: %v", path, err)
	}
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
