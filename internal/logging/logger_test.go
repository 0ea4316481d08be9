package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: LevelWarn, Output: &buf})

	l.Debug("should not appear")
	l.Info("should not appear either")
	l.Warn("warning line")
	l.Error("error line")

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "warning line")
	assert.Contains(t, out, "error line")
}

func TestComponentTag(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: LevelDebug, Output: &buf, Component: "broker"})

	l.Info("client attached")

	assert.Contains(t, buf.String(), "broker: client attached")
}

func TestWithCreatesScopedCopy(t *testing.T) {
	var buf bytes.Buffer
	base := New(&Config{Level: LevelDebug, Output: &buf})
	scoped := base.With("usbtransport")

	scoped.Info("endpoint claimed")
	base.Info("unscoped line")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require := assert.New(t)
	require.Len(lines, 2)
	require.Contains(lines[0], "usbtransport: endpoint claimed")
	require.NotContains(lines[1], "usbtransport")
}

func TestFieldFormatting(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: LevelDebug, Output: &buf})

	l.Info("ring overflow", "channel", 2, "lost", 17)

	assert.Contains(t, buf.String(), "ring overflow channel=2 lost=17")
}

func TestDefaultLoggerIsSingleton(t *testing.T) {
	a := Default()
	b := Default()
	assert.Same(t, a, b)
}
