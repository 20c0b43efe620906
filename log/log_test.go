package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTerminalHandlerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(NewLogger(NewTerminalHandlerWithLevel(&buf, LevelInfo, false)))

	Debug(Consensus, "should not appear")
	Info(Consensus, "block produced", "height", 12)

	out := buf.String()
	require.NotContains(t, out, "should not appear")
	require.Contains(t, out, "block produced")
	require.Contains(t, out, "height=12")
	require.True(t, strings.HasPrefix(out, "INFO "))
}

func TestModuleGating(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(NewLogger(NewTerminalHandlerWithLevel(&buf, LevelTrace, false)))
	DisableModule(VM)

	Debug(VM, "fuel exhausted")
	require.Empty(t, buf.String())

	EnableModule(VM)
	Debug(VM, "fuel exhausted")
	require.Contains(t, buf.String(), "fuel exhausted")
}
