package job

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionTableIsExhaustive(t *testing.T) {
	legal := map[string]State{
		key(StatePendingURL, EventDownloadDelivered): StateDownloading,
		key(StatePendingURL, EventEnqueueFailed):     StateFailed,
		key(StateDownloading, EventDownloadSucceeded): StatePending,
		key(StateDownloading, EventDownloadFailed):    StateFailed,
		key(StatePending, EventAnalyzeDelivered):      StateProcessing,
		key(StatePending, EventEnqueueFailed):         StateFailed,
		key(StateProcessing, EventAnalyzeSucceeded):   StateDone,
		key(StateProcessing, EventAnalyzeFailed):      StateFailed,
	}

	for _, s := range States {
		_, declared := transitions[s]
		assert.True(t, declared, "state %s missing from transition table", s)

		for _, ev := range Events {
			got, err := Next(s, ev)
			want, ok := legal[key(s, ev)]
			if ok {
				require.NoError(t, err, "%s on %s", ev, s)
				assert.Equal(t, want, got, "%s on %s", ev, s)
			} else {
				assert.ErrorIs(t, err, ErrIllegalTransition, "%s on %s should be illegal", ev, s)
			}
		}
	}
}

func TestTransitionsNeverRevisit(t *testing.T) {
	order := map[State]int{}
	for i, s := range States {
		order[s] = i
	}
	for from, edges := range transitions {
		for ev, to := range edges {
			assert.Greater(t, order[to], order[from], "%s on %s moves backwards to %s", ev, from, to)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range States {
		assert.Equal(t, s == StateDone || s == StateFailed, s.Terminal(), string(s))
		if s.Terminal() {
			assert.Empty(t, transitions[s])
		}
	}
}

func TestParseState(t *testing.T) {
	s, err := ParseState("PROCESSING")
	require.NoError(t, err)
	assert.Equal(t, StateProcessing, s)

	_, err = ParseState("PROCESSANDO")
	assert.Error(t, err)

	var decoded struct {
		State State `json:"state"`
	}
	assert.NoError(t, json.Unmarshal([]byte(`{"state":"DONE"}`), &decoded))
	assert.Equal(t, StateDone, decoded.State)
	assert.Error(t, json.Unmarshal([]byte(`{"state":"CONCLUIDO"}`), &decoded))
}

func key(s State, ev Event) string {
	return fmt.Sprintf("%s/%s", s, ev)
}
