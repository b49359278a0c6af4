package capture

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-voice/internal/bus"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/engine"
	"github.com/loqalabs/loqa-voice/internal/eventstore"
	"github.com/loqalabs/loqa-voice/internal/natsserver"
	"github.com/loqalabs/loqa-voice/internal/protocol"
	"github.com/loqalabs/loqa-voice/internal/voice"
	"github.com/nats-io/nats.go"
)

const testPhrase = "find wireless headphones"

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type harness struct {
	svc    *Service
	client *bus.Client
	store  *eventstore.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, engine.NewMock(testPhrase, time.Millisecond))
}

func newHarnessWith(t *testing.T, eng voice.Engine) *harness {
	t.Helper()
	log := newLogger()
	ns, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, log)
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(ns.Shutdown)

	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{ns.ClientURL()}, ConnectTimeout: 2000}, "capture-test", log)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)

	store, err := eventstore.Open(context.Background(), config.EventStoreConfig{
		Path:          filepath.Join(t.TempDir(), "voice.db"),
		RetentionMode: "session",
		PrivacyScope:  "session",
	}, log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.VoiceConfig{
		Enabled:          true,
		Engine:           "mock",
		Device:           "kiosk-test",
		Locale:           "en-US",
		SilenceTimeoutMS: 2000,
		SettleDelayMS:    50,
	}
	svc := NewService(context.Background(), cfg, client, store, eng, log)
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	return &harness{svc: svc, client: client, store: store}
}

func subscribe(t *testing.T, client *bus.Client, subject string) chan *nats.Msg {
	t.Helper()
	ch := make(chan *nats.Msg, 64)
	if _, err := client.Conn().ChanSubscribe(subject, ch); err != nil {
		t.Fatalf("subscribe %s: %v", subject, err)
	}
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	return ch
}

func waitFor[T any](t *testing.T, ch chan *nats.Msg, match func(T) bool) T {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case msg := <-ch:
			var v T
			if err := json.Unmarshal(msg.Data, &v); err != nil {
				t.Fatalf("decode %s: %v", msg.Subject, err)
			}
			if match(v) {
				return v
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for message")
			return zero
		}
	}
}

func TestControlStartCapturesUtterance(t *testing.T) {
	h := newHarness(t)
	utterances := subscribe(t, h.client, protocol.SubjectVoiceUtterance)
	states := subscribe(t, h.client, protocol.SubjectVoiceState)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var reply protocol.ControlReply
	if err := h.client.RequestJSON(ctx, protocol.SubjectVoiceControlStart, protocol.ControlRequest{Source: "test"}, &reply); err != nil {
		t.Fatalf("start request: %v", err)
	}
	if !reply.OK || !reply.Status.Supported {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	u := waitFor(t, utterances, func(protocol.Utterance) bool { return true })
	if u.Text != testPhrase || u.SessionID == "" {
		t.Fatalf("unexpected utterance: %+v", u)
	}
	waitFor(t, states, func(s protocol.VoiceStatus) bool { return s.State == "idle" && s.SessionID == u.SessionID })

	select {
	case msg := <-utterances:
		t.Fatalf("utterance forwarded twice: %s", msg.Data)
	case <-time.After(100 * time.Millisecond):
	}

	h.svc.Close()
	events, err := h.store.ListSessionEvents(context.Background(), u.SessionID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	var kinds []string
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	want := []string{eventstore.KindStarted, eventstore.KindUtterance, eventstore.KindEnded}
	if strings.Join(kinds, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected timeline: %v", kinds)
	}
	sessions, err := h.store.ListSessions(context.Background(), 5)
	if err != nil || len(sessions) != 1 || sessions[0].DeviceID != "kiosk-test" {
		t.Fatalf("unexpected sessions: %+v %v", sessions, err)
	}
}

func TestControlStopIsIdempotent(t *testing.T) {
	h := newHarness(t)
	t.Cleanup(h.svc.Close)

	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		var reply protocol.ControlReply
		err := h.client.RequestJSON(ctx, protocol.SubjectVoiceControlStop, protocol.ControlRequest{}, &reply)
		cancel()
		if err != nil {
			t.Fatalf("stop request: %v", err)
		}
		if !reply.OK || reply.Status.State != "idle" || reply.Status.Error != nil {
			t.Fatalf("unexpected reply: %+v", reply)
		}
	}
}

func TestStreamAcceptsCommands(t *testing.T) {
	h := newHarness(t)
	t.Cleanup(h.svc.Close)

	srv := httptest.NewServer(h.svc.Hub())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var hello struct {
		Type string               `json:"type"`
		Data protocol.VoiceStatus `json:"data"`
	}
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if hello.Type != "status" || hello.Data.State != "idle" {
		t.Fatalf("unexpected hello frame: %+v", hello)
	}

	if err := conn.WriteJSON(map[string]string{"op": "start"}); err != nil {
		t.Fatalf("write command: %v", err)
	}
	for {
		var frame struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if frame.Type != "utterance" {
			continue
		}
		var u protocol.Utterance
		if err := json.Unmarshal(frame.Data, &u); err != nil {
			t.Fatalf("decode utterance: %v", err)
		}
		if u.Text != testPhrase {
			t.Fatalf("unexpected utterance: %+v", u)
		}
		return
	}
}

func TestDisabledServiceRepliesWithError(t *testing.T) {
	svc := NewService(context.Background(), config.VoiceConfig{Enabled: false}, nil, nil, nil, newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !svc.Healthy() {
		t.Fatal("disabled service should report healthy")
	}
	if st := svc.Status(); st.State != "idle" {
		t.Fatalf("expected idle status, got %+v", st)
	}
	svc.StartCapture()
	svc.Close()
}

func TestAssistantReplyIsRecorded(t *testing.T) {
	h := newHarness(t)
	t.Cleanup(h.svc.Close)
	if !h.svc.Healthy() {
		t.Fatal("expected healthy service")
	}

	reply := protocol.AssistantReply{SessionID: "session-7", Utterance: "hello", Response: "hi there", Timestamp: time.Now().UTC()}
	if err := h.client.PublishJSON(protocol.SubjectAssistantReply, reply); err != nil {
		t.Fatalf("publish reply: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		events, err := h.store.ListSessionEvents(context.Background(), "session-7", 10)
		if err != nil {
			t.Fatalf("list events: %v", err)
		}
		if len(events) == 1 {
			if events[0].Kind != eventstore.KindReply || !strings.Contains(string(events[0].Payload), "hi there") {
				t.Fatalf("unexpected event: %+v", events[0])
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("assistant reply was not recorded")
}

// controlledEngine wraps the mock engine so a test can fail the next start or
// hold the next stop until released.
type controlledEngine struct {
	*engine.Mock

	mu       sync.Mutex
	startErr error
	hold     chan struct{}
	stopping chan struct{}
}

func (e *controlledEngine) failStarts(err error) {
	e.mu.Lock()
	e.startErr = err
	e.mu.Unlock()
}

func (e *controlledEngine) holdNextStop() (entered, release chan struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopping = make(chan struct{})
	e.hold = make(chan struct{})
	return e.stopping, e.hold
}

func (e *controlledEngine) Start(opts voice.CaptureOptions) error {
	e.mu.Lock()
	err := e.startErr
	e.mu.Unlock()
	if err != nil {
		return err
	}
	return e.Mock.Start(opts)
}

func (e *controlledEngine) Stop() error {
	e.mu.Lock()
	hold, stopping := e.hold, e.stopping
	e.hold, e.stopping = nil, nil
	e.mu.Unlock()
	if hold != nil {
		close(stopping)
		<-hold
	}
	return e.Mock.Stop()
}

func timeline(t *testing.T, store *eventstore.Store, sessionID string) string {
	t.Helper()
	events, err := store.ListSessionEvents(context.Background(), sessionID, 20)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	var kinds []string
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	return strings.Join(kinds, ",")
}

func TestFailedStartErrorBelongsToNewSession(t *testing.T) {
	eng := &controlledEngine{Mock: engine.NewMock(testPhrase, time.Millisecond)}
	h := newHarnessWith(t, eng)
	utterances := subscribe(t, h.client, protocol.SubjectVoiceUtterance)
	states := subscribe(t, h.client, protocol.SubjectVoiceState)
	errs := subscribe(t, h.client, protocol.SubjectVoiceError)

	request := func() {
		t.Helper()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		var reply protocol.ControlReply
		if err := h.client.RequestJSON(ctx, protocol.SubjectVoiceControlStart, protocol.ControlRequest{Source: "test"}, &reply); err != nil {
			t.Fatalf("start request: %v", err)
		}
	}

	request()
	first := waitFor(t, utterances, func(protocol.Utterance) bool { return true }).SessionID
	waitFor(t, states, func(s protocol.VoiceStatus) bool { return s.State == "idle" && s.SessionID == first })

	eng.failStarts(voice.Classify(voice.CodeNotAllowed))
	request()
	fault := waitFor(t, errs, func(protocol.VoiceError) bool { return true })
	if fault.Kind != string(voice.KindPermissionDenied) {
		t.Fatalf("unexpected error: %+v", fault)
	}
	if fault.SessionID == "" || fault.SessionID == first {
		t.Fatalf("error attributed to %q, first session was %q", fault.SessionID, first)
	}

	h.svc.Close()
	want := strings.Join([]string{eventstore.KindStarted, eventstore.KindUtterance, eventstore.KindEnded}, ",")
	if got := timeline(t, h.store, first); got != want {
		t.Fatalf("first session timeline = %s, want %s", got, want)
	}
	if got := timeline(t, h.store, fault.SessionID); got != eventstore.KindError {
		t.Fatalf("failed session timeline = %s", got)
	}
	sessions, err := h.store.ListSessions(context.Background(), 10)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	for _, sess := range sessions {
		if sess.ID == fault.SessionID && sess.DeviceID != "kiosk-test" {
			t.Fatalf("failed session missing device: %+v", sess)
		}
	}
}

func TestCloseWaitsForControllerBeforeFlushing(t *testing.T) {
	eng := &controlledEngine{Mock: engine.NewMock(testPhrase, time.Hour)}
	h := newHarnessWith(t, eng)

	h.svc.StartCapture()
	deadline := time.Now().Add(2 * time.Second)
	for h.svc.Status().State != "listening" {
		if time.Now().After(deadline) {
			t.Fatal("capture never started listening")
		}
		time.Sleep(5 * time.Millisecond)
	}
	session := h.svc.Status().SessionID

	entered, release := eng.holdNextStop()
	go h.svc.StopCapture()
	<-entered

	closed := make(chan struct{})
	go func() {
		h.svc.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("close returned while the controller was still stopping")
	case <-time.After(100 * time.Millisecond):
	}
	close(release)
	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatal("close did not finish")
	}

	want := strings.Join([]string{eventstore.KindStarted, eventstore.KindEnded}, ",")
	if got := timeline(t, h.store, session); got != want {
		t.Fatalf("timeline = %s, want %s", got, want)
	}
}
