package logger_test

import (
	"bytes"
	"testing"

	"github.com/TheAlpha16/powerctl-go/internal/logger"
	"github.com/stretchr/testify/assert"
)

func TestInitLevels(t *testing.T) {
	tests := []struct {
		name      string
		debug     bool
		verbose   bool
		wantDebug bool
		wantInfo  bool
	}{
		{"default", false, false, false, false},
		{"verbose", false, true, false, true},
		{"debug", true, false, true, true},
		{"debug wins", true, true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := logger.Init(&buf, tt.debug, tt.verbose, true)

			log.Debug().Msg("debug line")
			log.Info().Msg("info line")
			log.Warn().Msg("warn line")

			out := buf.String()
			assert.Equal(t, tt.wantDebug, bytes.Contains([]byte(out), []byte("debug line")))
			assert.Equal(t, tt.wantInfo, bytes.Contains([]byte(out), []byte("info line")))
			assert.Contains(t, out, "warn line")
		})
	}
}

func TestIsServiceFromEnv(t *testing.T) {
	t.Setenv("INVOCATION_ID", "abc123")
	assert.True(t, logger.IsService())
}
