package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		level     string
		wantDebug bool
		wantInfo  bool
	}{
		{level: "debug", wantDebug: true, wantInfo: true},
		{level: "info", wantInfo: true},
		{level: "warn"},
		{level: "bogus", wantInfo: true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			var logger Logger = New(&buf, tt.level)

			logger.Debug("debug message")
			logger.Info("info message", "package", "jq")
			logger.Warn("warn message")

			out := buf.String()
			if got := strings.Contains(out, "debug message"); got != tt.wantDebug {
				t.Errorf("debug logged = %v, want %v\n%s", got, tt.wantDebug, out)
			}
			if got := strings.Contains(out, "info message"); got != tt.wantInfo {
				t.Errorf("info logged = %v, want %v\n%s", got, tt.wantInfo, out)
			}
			if !strings.Contains(out, "warn message") {
				t.Errorf("warn should always be logged\n%s", out)
			}
			if !strings.Contains(out, "portabin") {
				t.Errorf("missing prefix\n%s", out)
			}
		})
	}
}

func TestOrNoop(t *testing.T) {
	if OrNoop(nil) == nil {
		t.Fatal("OrNoop(nil) returned nil")
	}
	// Must not panic.
	OrNoop(nil).Error("ignored", "k", "v")

	l := Noop()
	if OrNoop(l) != l {
		t.Error("OrNoop should return a non-nil logger unchanged")
	}
}
