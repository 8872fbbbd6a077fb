package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	for _, tc := range []struct {
		level, format string
		wantErr       bool
	}{
		{"info", "json", false},
		{"debug", "console", false},
		{"warn", "", false},
		{"loud", "json", true},
		{"info", "xml", true},
	} {
		log, err := New(tc.level, tc.format)
		if (err != nil) != tc.wantErr {
			t.Fatalf("New(%q, %q) err = %v, wantErr %v", tc.level, tc.format, err, tc.wantErr)
		}
		if err != nil {
			continue
		}
		lvl, _ := zapcore.ParseLevel(tc.level)
		if !log.Core().Enabled(lvl) || log.Core().Enabled(lvl-1) {
			t.Fatalf("New(%q, %q) enabled the wrong levels", tc.level, tc.format)
		}
	}
}
