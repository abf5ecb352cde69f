package debug

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
)

func TestLevelGating(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	Init(LevelInfo)
	defer Init(LevelOff)

	Info("info %d", 1)
	Live("live %d", 2)
	Trace("trace %d", 4)

	got := buf.String()
	if !strings.Contains(got, "info 1") {
		t.Errorf("expected info message, got %q", got)
	}
	if strings.Contains(got, "live 2") {
		t.Errorf("live message should be gated at level 1, got %q", got)
	}
	if strings.Contains(got, "trace 4") {
		t.Errorf("trace message should be gated at level 1, got %q", got)
	}
}

func TestLevelOffProducesNothing(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	Init(LevelOff)
	Info("hidden")
	Error(errors.New("hidden error"))

	if buf.Len() != 0 {
		t.Errorf("expected no output at level 0, got %q", buf.String())
	}
}

func TestTraceHelpers(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	Init(LevelTrace)
	defer Init(LevelOff)

	GPIO("WritePin", 17, true)
	Frame(0x3F5, []byte{0x01, 0xAB})
	Transition(true, "bus")

	got := buf.String()
	for _, want := range []string{"[GPIO] WritePin pin=17 value=true", "id=0x3F5 data=01 AB", "Headlights ON (bus)"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestIsEnabled(t *testing.T) {
	Init(LevelLive)
	defer Init(LevelOff)

	if !IsEnabled(LevelInfo) || !IsEnabled(LevelLive) {
		t.Error("levels up to Live should be enabled")
	}
	if IsEnabled(LevelVerbose) {
		t.Error("Verbose should not be enabled at Live")
	}
}
