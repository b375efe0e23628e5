package util

import (
	"bytes"
	"testing"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
)

func captureLog(t *testing.T) *bytes.Buffer {
	var buf bytes.Buffer
	prev := pterm.DefaultLogger.Writer
	pterm.DefaultLogger.Writer = &buf
	t.Cleanup(func() { pterm.DefaultLogger.Writer = prev })
	return &buf
}

func TestSessionLogTagsLines(t *testing.T) {
	buf := captureLog(t)

	ForSession("0123456789abcdef").Info("Buffering %d frames", 6)

	out := buf.String()
	assert.Contains(t, out, "Buffering 6 frames")
	assert.Contains(t, out, "session")
	assert.Contains(t, out, "01234567")
	assert.NotContains(t, out, "89abcdef")
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "01234567", ShortID("0123456789"))
	assert.Equal(t, "abc", ShortID("abc"))
	assert.Equal(t, "", ShortID(""))
}

func TestDebugHiddenUntilEnabled(t *testing.T) {
	buf := captureLog(t)
	prev := pterm.DefaultLogger.Level
	t.Cleanup(func() { pterm.DefaultLogger.Level = prev })

	pterm.DefaultLogger.Level = pterm.LogLevelInfo
	LogDebug("hidden")
	assert.Empty(t, buf.String())

	EnableDebug()
	LogDebug("shown %s", "now")
	assert.Contains(t, buf.String(), "shown now")
}
