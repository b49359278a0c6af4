package engine

import (
	"testing"

	"github.com/loqalabs/loqa-voice/internal/config"
)

func TestNewSelectsEngine(t *testing.T) {
	cases := []struct {
		name    string
		cfg     config.VoiceConfig
		wantErr bool
	}{
		{"mock", config.VoiceConfig{Engine: "mock", MockPhrase: "hello"}, false},
		{"default is mock", config.VoiceConfig{}, false},
		{"exec", config.VoiceConfig{Engine: "exec", Command: "recognizer --model tiny"}, false},
		{"exec without command", config.VoiceConfig{Engine: "exec"}, true},
		{"bus without connection", config.VoiceConfig{Engine: "bus", Device: "kiosk-1"}, true},
		{"unknown", config.VoiceConfig{Engine: "browser"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eng, err := New(tc.cfg, nil, discardLogger())
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got engine %T", eng)
				}
				return
			}
			if err != nil || eng == nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
