package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("seqorch", "debug", ProfileStructured)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = NewLogger("seqorch", "WARN", ProfileConsole)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
}

func TestNewLogger_Invalid(t *testing.T) {
	_, err := NewLogger("seqorch", "loud", ProfileStructured)
	assert.Error(t, err)

	_, err = NewLogger("seqorch", "info", "fancy")
	assert.Error(t, err)
}

func TestConfigure(t *testing.T) {
	orig := CLILogger
	defer func() { CLILogger = orig }()

	require.NoError(t, Configure("seqorch", "error", ProfileConsole))
	assert.False(t, CLILogger.Core().Enabled(zapcore.WarnLevel))

	before := CLILogger
	assert.Error(t, Configure("seqorch", "nope", ProfileConsole))
	assert.Same(t, before, CLILogger)
}

func TestInitCLILogger(t *testing.T) {
	orig := CLILogger
	defer func() { CLILogger = orig }()

	InitCLILogger("test", false)
	assert.NotNil(t, CLILogger)
	assert.True(t, CLILogger.Core().Enabled(zapcore.InfoLevel))
}
