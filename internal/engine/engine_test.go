package engine

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-voice/internal/voice"
)

type event struct {
	kind    string
	capture uint64
	result  voice.ResultEvent
	code    string
}

func collect(e voice.Engine) chan event {
	ch := make(chan event, 32)
	e.Bind(voice.Handlers{
		OnStart:  func(c uint64) { ch <- event{kind: "start", capture: c} },
		OnResult: func(c uint64, ev voice.ResultEvent) { ch <- event{kind: "result", capture: c, result: ev} },
		OnError:  func(c uint64, code string) { ch <- event{kind: "error", capture: c, code: code} },
		OnEnd:    func(c uint64) { ch <- event{kind: "end", capture: c} },
	})
	return ch
}

func next(t *testing.T, ch chan event) event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for engine event")
		return event{}
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestMockPlaysPhrase(t *testing.T) {
	m := NewMock("find blue shoes", time.Millisecond)
	ch := collect(m)

	if err := m.Start(voice.CaptureOptions{Capture: 7, Continuous: true, Interim: true}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if ev := next(t, ch); ev.kind != "start" || ev.capture != 7 {
		t.Fatalf("expected start for capture 7, got %+v", ev)
	}
	var last voice.ResultEvent
	for i := 0; i < 3; i++ {
		ev := next(t, ch)
		if ev.kind != "result" || ev.capture != 7 {
			t.Fatalf("expected result for capture 7, got %+v", ev)
		}
		last = ev.result
	}
	if len(last.Results) != 1 || !last.Results[0].Final || last.Results[0].Transcript != "find blue shoes" {
		t.Fatalf("unexpected final result: %+v", last)
	}

	if err := m.Start(voice.CaptureOptions{}); err == nil {
		t.Fatal("expected already-started error")
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if ev := next(t, ch); ev.kind != "end" || ev.capture != 7 {
		t.Fatalf("expected end for capture 7, got %+v", ev)
	}
	if err := m.Stop(); !errors.Is(err, voice.ErrEngineStopped) {
		t.Fatalf("expected ErrEngineStopped, got %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := m.Start(voice.CaptureOptions{}); err == nil {
		t.Fatal("expected start after close to fail")
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recognizer.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestExecStreamsEvents(t *testing.T) {
	script := writeScript(t, `echo '{"type":"start"}'
echo 'not json'
echo '{"type":"result","result_index":0,"results":[{"transcript":"hello","final":false}]}'
echo '{"type":"result","result_index":0,"results":[{"transcript":"hello there","final":true}]}'
echo '{"type":"end"}'
`)
	e, err := NewExec(script, discardLogger())
	if err != nil {
		t.Fatalf("new exec: %v", err)
	}
	if !e.Supported() {
		t.Fatal("expected script to be supported")
	}
	ch := collect(e)
	if err := e.Start(voice.CaptureOptions{Capture: 3, Locale: "en-US", Continuous: true, Interim: true}); err != nil {
		t.Fatalf("start: %v", err)
	}

	want := []string{"start", "result", "result", "end"}
	var events []event
	for range want {
		events = append(events, next(t, ch))
	}
	for i, kind := range want {
		if events[i].kind != kind || events[i].capture != 3 {
			t.Fatalf("event %d: expected %s for capture 3, got %+v", i, kind, events[i])
		}
	}
	if got := events[2].result.Results[0]; !got.Final || got.Transcript != "hello there" {
		t.Fatalf("unexpected final segment: %+v", got)
	}
	if err := e.Stop(); !errors.Is(err, voice.ErrEngineStopped) {
		t.Fatalf("expected engine already stopped after end, got %v", err)
	}
}

func TestExecFailureReportsRecognizerExit(t *testing.T) {
	e, err := NewExec(writeScript(t, "echo 'bad flag' >&2\nexit 3\n"), discardLogger())
	if err != nil {
		t.Fatalf("new exec: %v", err)
	}
	ch := collect(e)
	if err := e.Start(voice.CaptureOptions{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	ev := next(t, ch)
	if ev.kind != "error" || ev.code != CodeRecognizerExited {
		t.Fatalf("expected recognizer-exited error, got %+v", ev)
	}
	if fault := voice.Classify(ev.code); fault.Kind != voice.KindUnknown || !fault.Fatal() {
		t.Fatalf("expected a fatal unknown fault, got %+v", fault)
	}
	if ev := next(t, ch); ev.kind != "end" {
		t.Fatalf("expected end, got %+v", ev)
	}
}

func TestExecStopEndsCapture(t *testing.T) {
	e, err := NewExec(writeScript(t, "echo '{\"type\":\"start\"}'\nexec sleep 30\n"), discardLogger())
	if err != nil {
		t.Fatalf("new exec: %v", err)
	}
	ch := collect(e)
	if err := e.Start(voice.CaptureOptions{Capture: 1}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if ev := next(t, ch); ev.kind != "start" {
		t.Fatalf("expected start, got %+v", ev)
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if ev := next(t, ch); ev.kind != "end" || ev.capture != 1 {
		t.Fatalf("expected end for capture 1, got %+v", ev)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event after stop: %+v", ev)
	default:
	}
}

func TestExecUnsupportedCommand(t *testing.T) {
	e, err := NewExec("loqa-voice-missing-recognizer --model tiny", discardLogger())
	if err != nil {
		t.Fatalf("new exec: %v", err)
	}
	if e.Supported() {
		t.Fatal("expected missing command to be unsupported")
	}
	if _, err := NewExec("   ", discardLogger()); err == nil {
		t.Fatal("expected empty command to be rejected")
	}
}
