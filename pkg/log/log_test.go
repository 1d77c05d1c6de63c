package log

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFor(t *testing.T) {
	tt := []struct {
		verbosity int
		expected  logrus.Level
	}{
		{verbosity: 0, expected: logrus.InfoLevel},
		{verbosity: 1, expected: logrus.WarnLevel},
		{verbosity: 2, expected: logrus.DebugLevel},
		{verbosity: 5, expected: logrus.DebugLevel},
		{verbosity: 9, expected: logrus.TraceLevel},
		{verbosity: 12, expected: logrus.TraceLevel},
	}

	for _, tc := range tt {
		assert.Equal(t, tc.expected, levelFor(tc.verbosity), "verbosity %d", tc.verbosity)
	}
}

func TestConfigure(t *testing.T) {
	defer logrus.SetLevel(logrus.InfoLevel)

	require.NoError(t, Configure(&Config{Trace: true, Format: "json", Output: "stderr"}))
	assert.Equal(t, logrus.TraceLevel, logrus.GetLevel())

	err := Configure(&Config{Format: "xml", Output: "stderr"})
	assert.ErrorAs(t, err, &FormatError{})
	assert.Contains(t, err.Error(), "xml")

	assert.ErrorIs(t, Configure(&Config{Format: "text"}), ErrLogOutputRequired)
}

func TestLoggerContext(t *testing.T) {
	entry := logrus.WithField("instance", "vcp")
	ctx := WithLogger(context.Background(), entry)

	assert.Same(t, entry, GetLogger(ctx))
	assert.NotNil(t, GetLogger(context.Background()))
}
