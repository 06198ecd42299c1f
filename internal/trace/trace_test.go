package trace

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	events []string
}

func (r *recordingSink) Emit(level Level, event string, fields Fields) {
	r.events = append(r.events, event)
}

func TestEmitRoutesToInstalledSink(t *testing.T) {
	sink := &recordingSink{}
	Use(sink)
	defer Use(nil)

	Emit(Information, EventConnectionOpened, Fields{"endpoint": "h1"})
	require.Equal(t, []string{EventConnectionOpened}, sink.events)
}

func TestEmitIsNoopWithoutSink(t *testing.T) {
	Use(nil)
	require.NotPanics(t, func() {
		Emit(Error, EventExecutionFailed, Fields{})
	})
}
