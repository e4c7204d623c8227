package assemble

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptcut/ffmpeg"
	"promptcut/segment"
	"promptcut/storage"
)

type fakeCodec struct {
	info      ffmpeg.MediaInfo
	probeErr  error
	runErr    error
	gotCuts   []segment.TimeRange
	gotAudio  bool
	gotInput  string
	inputSeen bool
}

func (f *fakeCodec) Probe(ctx context.Context, path string) (ffmpeg.MediaInfo, error) {
	return f.info, f.probeErr
}

func (f *fakeCodec) Assemble(ctx context.Context, input string, cuts []segment.TimeRange, hasAudio bool, output string) (string, error) {
	f.gotCuts, f.gotAudio, f.gotInput = cuts, hasAudio, input
	_, err := os.Stat(input)
	f.inputSeen = err == nil
	if f.runErr != nil {
		_ = os.WriteFile(output, []byte("partial"), 0644)
		return "frame= 10 error: codec exploded", f.runErr
	}
	return "ok", os.WriteFile(output, []byte("edited"), 0644)
}

func setup(t *testing.T, codec *fakeCodec) (*Assembler, *storage.Local, string) {
	t.Helper()
	bucket, err := storage.NewLocal(t.TempDir(), "http://files.test", "k")
	require.NoError(t, err)
	_, err = bucket.Put(context.Background(), "uploads/src.mp4", strings.NewReader("source"))
	require.NoError(t, err)
	tmp := t.TempDir()
	return New(bucket, codec, tmp), bucket, tmp
}

func leftovers(t *testing.T, dir string) []string {
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestAssembleSuccess(t *testing.T) {
	codec := &fakeCodec{info: ffmpeg.MediaInfo{Duration: 100, HasAudio: true}}
	a, bucket, tmp := setup(t, codec)
	ctx := context.Background()

	src, err := a.Open(ctx, "uploads/src.mp4")
	require.NoError(t, err)
	assert.Equal(t, 100.0, src.Info.Duration)

	cuts := []segment.TimeRange{{Start: 4.5, End: 8}}
	url, err := a.Assemble(ctx, src, cuts, "edits/edited_j1.mp4")
	require.NoError(t, err)
	assert.Equal(t, "http://files.test/files/edits/edited_j1.mp4", url)
	assert.Equal(t, cuts, codec.gotCuts)
	assert.True(t, codec.gotAudio)
	assert.True(t, codec.inputSeen)
	assert.True(t, bucket.IsPublic("edits/edited_j1.mp4"))

	rc, err := bucket.Get(ctx, "edits/edited_j1.mp4")
	require.NoError(t, err)
	b, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "edited", string(b))

	require.NoError(t, src.Close())
	assert.Empty(t, leftovers(t, tmp))
}

func TestAssembleNoSegments(t *testing.T) {
	codec := &fakeCodec{info: ffmpeg.MediaInfo{Duration: 10}}
	a, _, tmp := setup(t, codec)

	src, err := a.Open(context.Background(), "uploads/src.mp4")
	require.NoError(t, err)
	defer src.Close()

	_, err = a.Assemble(context.Background(), src, nil, "edits/x.mp4")
	assert.ErrorIs(t, err, ErrNoSegments)
	_, err = a.Assemble(context.Background(), src, []segment.TimeRange{}, "edits/x.mp4")
	assert.ErrorIs(t, err, ErrNoSegments)
	assert.Nil(t, codec.gotCuts, "codec must not run for an empty cut list")
	assert.Len(t, leftovers(t, tmp), 1, "only the source copy remains")
}

func TestAssembleCodecFailureCleansUp(t *testing.T) {
	codec := &fakeCodec{info: ffmpeg.MediaInfo{Duration: 10}, runErr: errors.New("exit status 1")}
	a, bucket, tmp := setup(t, codec)

	src, err := a.Open(context.Background(), "uploads/src.mp4")
	require.NoError(t, err)

	_, err = a.Assemble(context.Background(), src, []segment.TimeRange{{Start: 1, End: 2}}, "edits/x.mp4")
	require.ErrorIs(t, err, ErrCodec)
	assert.Contains(t, err.Error(), "codec exploded")

	_, statErr := bucket.Stat(context.Background(), "edits/x.mp4")
	assert.ErrorIs(t, statErr, storage.ErrObjectNotFound)

	require.NoError(t, src.Close())
	assert.Empty(t, leftovers(t, tmp))
}

func TestOpenFailures(t *testing.T) {
	t.Run("missing object", func(t *testing.T) {
		a, _, tmp := setup(t, &fakeCodec{})
		_, err := a.Open(context.Background(), "uploads/none.mp4")
		assert.ErrorIs(t, err, ErrStorage)
		assert.Empty(t, leftovers(t, tmp))
	})

	t.Run("probe failure", func(t *testing.T) {
		a, _, tmp := setup(t, &fakeCodec{probeErr: errors.New("moov atom not found")})
		_, err := a.Open(context.Background(), "uploads/src.mp4")
		assert.ErrorIs(t, err, ErrCodec)
		assert.Empty(t, leftovers(t, tmp))
	})
}

func TestSourceCloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "s.mp4")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
	s := &Source{Path: p}
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
	var nilSource *Source
	assert.NoError(t, nilSource.Close())
}
