package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeAndConfigure(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		InitializeAndConfigure("info", "json")
	})

	InitializeAndConfigure("debug", "json")
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())

	buf.Reset()
	WithJob("job-1", "analyze").Info("claimed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "job-1", entry["job_id"])
	assert.Equal(t, "analyze", entry["stage"])
	assert.Equal(t, "claimed", entry["msg"])
}

func TestInvalidLevelKeepsInfo(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		InitializeAndConfigure("info", "json")
	})

	InitializeAndConfigure("loud", "text")
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
	assert.Contains(t, buf.String(), "Invalid log level 'loud'")
}
