package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{in: "debug", want: zapcore.DebugLevel},
		{in: " WARN ", want: zapcore.WarnLevel},
		{in: "", want: zapcore.InfoLevel},
		{in: "chatty", want: zapcore.InfoLevel},
	}
	for _, tt := range tests {
		logger, err := New(tt.in)
		if err != nil {
			t.Fatalf("New(%q): %v", tt.in, err)
		}
		if !logger.Core().Enabled(tt.want) {
			t.Errorf("New(%q): level %s disabled", tt.in, tt.want)
		}
		if tt.want > zapcore.DebugLevel && logger.Core().Enabled(tt.want-1) {
			t.Errorf("New(%q): level below %s enabled", tt.in, tt.want)
		}
	}
}
