package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSlogLogger(t *testing.T) {
	require := require.New(t)

	t.Setenv("ENV", "")

	var buf bytes.Buffer
	l := NewSlogWriter(&buf, InfoLevel, false)
	require.Equal(InfoLevel, l.Level())

	l.Debug("hidden")
	require.Zero(buf.Len())

	l.With("site", 1).Info("knob set", "name", "set_arm")

	var rec map[string]any
	require.NoError(json.Unmarshal(buf.Bytes(), &rec))
	require.Equal("knob set", rec["msg"])
	require.Equal("set_arm", rec["name"])
	require.EqualValues(1, rec["site"])
	require.Contains(rec, "ts")

	t.Run("child shares level", func(t *testing.T) {
		buf.Reset()
		child := l.With("uut", "acq2106_001")
		l.SetLevel(DebugLevel)
		require.Equal(DebugLevel, child.Level())
		child.Debug("visible")
		require.NotZero(buf.Len())
	})
}

func TestParseLevel(t *testing.T) {
	require := require.New(t)

	for name, want := range map[string]Level{
		"debug":   DebugLevel,
		"info":    InfoLevel,
		"warn":    WarnLevel,
		"warning": WarnLevel,
		"error":   ErrorLevel,
		"fatal":   FatalLevel,
	} {
		got, ok := ParseLevel(name)
		require.True(ok, name)
		require.Equal(want, got, name)
	}

	got, ok := ParseLevel("loud")
	require.False(ok)
	require.Equal(InfoLevel, got)
}

func TestMockLogger(t *testing.T) {
	m := NewMockLogger()
	m.On("Warn", "malformed status line", mock.Anything).Once()
	m.On("With", mock.Anything).Return(nil)

	m.With("site", 2).Warn("malformed status line", "line", "x")

	m.AssertExpectations(t)
}
