package diag_test

import (
	"testing"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pjsaksa/femc-go/internal/diag"
)

func TestWarnWritesStructuredLine(t *testing.T) {
	var lines []string
	writer := logiface.WriterFunc[*stumpy.Event](func(e *stumpy.Event) error {
		lines = append(lines, string(e.Bytes()))
		return nil
	})

	logger := diag.New(stumpy.L.WithWriter(writer))
	logger.Warn("timer block allocation failed, trying to allocate 1 node", map[string]string{"component": "reactor"})

	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "timer block allocation failed")
	assert.Contains(t, lines[0], `"component":"reactor"`)
}

func TestNilLoggerIsSafeToUse(t *testing.T) {
	var logger *diag.Logger
	assert.NotPanics(t, func() {
		logger.Warn("ignored", nil)
		logger.Info("ignored", nil)
	})
}
