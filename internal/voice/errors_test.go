package voice

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		code  string
		kind  ErrorKind
		fatal bool
	}{
		{CodeNotAllowed, KindPermissionDenied, true},
		{CodeServiceNotAllowed, KindPermissionDenied, true},
		{CodeAudioCapture, KindNoMicrophone, true},
		{CodeNetwork, KindNetwork, true},
		{CodeNoSpeech, KindNoSpeech, false},
		{CodeAborted, KindAborted, false},
		{"language-not-supported", KindUnknown, true},
		{"", KindUnknown, true},
	}
	for _, tc := range cases {
		got := Classify(tc.code)
		if got.Kind != tc.kind {
			t.Errorf("Classify(%q).Kind = %s, want %s", tc.code, got.Kind, tc.kind)
		}
		if got.Fatal() != tc.fatal {
			t.Errorf("Classify(%q).Fatal() = %v, want %v", tc.code, got.Fatal(), tc.fatal)
		}
		if got.Code != tc.code {
			t.Errorf("Classify(%q).Code = %q", tc.code, got.Code)
		}
	}
}

func TestUnknownErrorKeepsCode(t *testing.T) {
	err := Classify("bad-grammar")
	if err.Error() != "speech recognition error: bad-grammar" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestStartFaultUnwraps(t *testing.T) {
	wrapped := fmt.Errorf("engine start: %w", Classify(CodeNetwork))
	if got := startFault(wrapped); got.Kind != KindNetwork {
		t.Fatalf("expected network kind, got %s", got.Kind)
	}
	if got := startFault(errors.New("boom")); got.Kind != KindUnknown || got.Code != "boom" {
		t.Fatalf("unexpected fault %+v", got)
	}
}
