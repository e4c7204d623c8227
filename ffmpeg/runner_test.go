package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptcut/segment"
)

func TestBuildAssembleArgs(t *testing.T) {
	cuts := []segment.TimeRange{{Start: 0, End: 5}, {Start: 18, End: 20}}

	t.Run("with audio", func(t *testing.T) {
		args := BuildAssembleArgs("in.mp4", cuts, true, []string{"-preset", "veryfast"}, "out.mp4")
		graph := "[0:v]trim=start=0.000:end=5.000,setpts=PTS-STARTPTS[v0];" +
			"[0:a]atrim=start=0.000:end=5.000,asetpts=PTS-STARTPTS[a0];" +
			"[0:v]trim=start=18.000:end=20.000,setpts=PTS-STARTPTS[v1];" +
			"[0:a]atrim=start=18.000:end=20.000,asetpts=PTS-STARTPTS[a1];" +
			"[v0][a0][v1][a1]concat=n=2:v=1:a=1[outv][outa]"
		expected := []string{
			"-y", "-i", "in.mp4",
			"-filter_complex", graph,
			"-map", "[outv]",
			"-map", "[outa]", "-c:a", "aac",
			"-c:v", "libx264", "-pix_fmt", "yuv420p",
			"-preset", "veryfast",
			"-movflags", "+faststart", "out.mp4",
		}
		assert.Equal(t, expected, args)
	})

	t.Run("video only", func(t *testing.T) {
		args := BuildAssembleArgs("in.mp4", cuts[:1], false, nil, "out.mp4")
		assert.Equal(t, "[0:v]trim=start=0.000:end=5.000,setpts=PTS-STARTPTS[v0];[v0]concat=n=1:v=1:a=0[outv]", args[4])
		assert.NotContains(t, args, "[outa]")
		assert.NotContains(t, args, "aac")
		assert.Equal(t, "out.mp4", args[len(args)-1])
	})
}

func TestParseProbe(t *testing.T) {
	out := []byte(`{"streams":[{"codec_type":"video"},{"codec_type":"audio"}],"format":{"duration":"100.040000"}}`)
	info, err := parseProbe(out)
	require.NoError(t, err)
	assert.InDelta(t, 100.04, info.Duration, 1e-9)
	assert.True(t, info.HasAudio)

	info, err = parseProbe([]byte(`{"streams":[{"codec_type":"video"}],"format":{"duration":"12.5"}}`))
	require.NoError(t, err)
	assert.False(t, info.HasAudio)

	_, err = parseProbe([]byte(`{"format":{"duration":"N/A"}}`))
	assert.Error(t, err)

	_, err = parseProbe([]byte(`not json`))
	assert.Error(t, err)
}
