package sysutil

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":     zerolog.TraceLevel,
		"debug":     zerolog.DebugLevel,
		"  DeBuG  ": zerolog.DebugLevel,
		"info":      zerolog.InfoLevel,
		"":          zerolog.InfoLevel,
		"warn":      zerolog.WarnLevel,
		"Warning":   zerolog.WarnLevel,
		"error":     zerolog.ErrorLevel,
		"fatal":     zerolog.FatalLevel,
		"panic":     zerolog.PanicLevel,
		"verbose":   zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v; want %v", in, got, want)
		}
	}
}

func TestSetLogLevel_SetsGlobal(t *testing.T) {
	orig := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(orig) })

	SetLogLevel("error")
	if zerolog.GlobalLevel() != zerolog.ErrorLevel {
		t.Fatalf("global level = %v", zerolog.GlobalLevel())
	}
}

func TestSetupLogger_JSONFields(t *testing.T) {
	orig, origLvl := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() { log.Logger = orig; zerolog.SetGlobalLevel(origLvl) })

	var buf bytes.Buffer
	SetupLogger(&buf, "warn", false, "chat", "inst-1")
	log.Info().Msg("dropped")
	log.Warn().Str("chat_id", "c1").Msg("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info line written at warn level: %s", out)
	}
	for _, want := range []string{`"service":"chat"`, `"instance":"inst-1"`, `"chat_id":"c1"`, `"time":`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %s", want, out)
		}
	}
}

func TestSetupLogger_Pretty(t *testing.T) {
	orig, origLvl := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() { log.Logger = orig; zerolog.SetGlobalLevel(origLvl) })

	var buf bytes.Buffer
	l := SetupLogger(&buf, "debug", true, "chat", "inst-2")
	l.Debug().Msg("hello console")
	if out := buf.String(); strings.HasPrefix(out, "{") || !strings.Contains(out, "hello console") {
		t.Fatalf("expected console output, got %q", out)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	cases := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{" ", "\t", "\n"}, ""},
		{[]string{"   ", "  v1.2.0  ", "dev"}, "  v1.2.0  "},
		{[]string{"v1.3.0", "dev"}, "v1.3.0"},
	}
	for _, tc := range cases {
		if got := FirstNonEmpty(tc.in...); got != tc.want {
			t.Errorf("FirstNonEmpty(%q) = %q; want %q", tc.in, got, tc.want)
		}
	}
}
