package app

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestGetLogger(t *testing.T) {
	modules["acp"] = "debug"
	initLogger()

	logger := GetLogger("acp")
	require.Equal(t, zerolog.DebugLevel, logger.GetLevel())

	// unknown modules fall back to the root logger level
	logger = GetLogger("unknown")
	require.Equal(t, Logger.GetLevel(), logger.GetLevel())
}
