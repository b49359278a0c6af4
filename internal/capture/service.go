package capture

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-voice/internal/bus"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/eventstore"
	"github.com/loqalabs/loqa-voice/internal/protocol"
	"github.com/loqalabs/loqa-voice/internal/voice"
	"github.com/nats-io/nats.go"
)

const (
	recordQueueLen = 256
	closeTimeout   = 5 * time.Second
)

// Service exposes a voice controller on the bus and the WebSocket stream,
// and records each session's timeline.
type Service struct {
	cfg    config.VoiceConfig
	bus    *bus.Client
	store  *eventstore.Store
	engine voice.Engine
	logger *slog.Logger
	ctrl   *voice.Controller
	hub    *Hub
	subs   []*nats.Subscription
	want   int

	records chan eventstore.Event
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Touched only from controller callbacks, which run serially.
	lastSession string
	lastState   voice.State
}

func NewService(parent context.Context, cfg config.VoiceConfig, busClient *bus.Client, store *eventstore.Store, engine voice.Engine, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:     cfg,
		bus:     busClient,
		store:   store,
		engine:  engine,
		logger:  logger.With(slog.String("component", "capture")),
		records: make(chan eventstore.Event, recordQueueLen),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.hub = newHub(s.logger, s.StartCapture, s.StopCapture, func() Frame {
		return Frame{Type: "status", Data: s.Status()}
	})
	return s
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	s.ctrl = voice.New(s.engine, voice.Config{
		Locale:         s.cfg.Locale,
		SilenceTimeout: time.Duration(s.cfg.SilenceTimeoutMS) * time.Millisecond,
		SettleDelay:    time.Duration(s.cfg.SettleDelayMS) * time.Millisecond,
	}, voice.Callbacks{
		VoiceInput: s.onUtterance,
		Status:     s.onStatus,
		Error:      s.onError,
	}, s.logger)

	handlers := map[string]nats.MsgHandler{
		protocol.SubjectVoiceControlStart:  s.handleControl(s.StartCapture),
		protocol.SubjectVoiceControlStop:   s.handleControl(s.StopCapture),
		protocol.SubjectVoiceControlStatus: s.handleControl(nil),
	}
	if s.store.Enabled() {
		handlers[protocol.SubjectAssistantReply] = s.handleReply
	}
	s.want = len(handlers)
	for subject, handler := range handlers {
		sub, err := s.bus.Conn().Subscribe(subject, handler)
		if err != nil {
			s.unsubscribe()
			return err
		}
		s.subs = append(s.subs, sub)
	}

	if s.store.Enabled() {
		s.wg.Add(1)
		go s.recordLoop()
	}
	s.logger.Info("voice capture ready",
		slog.Bool("supported", s.ctrl.Supported()),
		slog.String("engine", s.cfg.Engine),
		slog.String("device", s.cfg.Device))
	return nil
}

func (s *Service) Close() {
	if s.ctrl != nil {
		s.ctrl.Close()
		// The final status must be queued before the recorder stops.
		select {
		case <-s.ctrl.Done():
		case <-time.After(closeTimeout):
			s.logger.Warn("voice controller did not close in time")
		}
	}
	s.unsubscribe()
	s.hub.Close()
	s.cancel()
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || (s.ctrl != nil && len(s.subs) == s.want)
}

func (s *Service) unsubscribe() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
}

// Hub serves the capture event stream.
func (s *Service) Hub() *Hub { return s.hub }

// StartCapture asks the controller to begin listening.
func (s *Service) StartCapture() {
	if s.ctrl != nil {
		s.ctrl.Start()
	}
}

// StopCapture asks the controller to stop listening.
func (s *Service) StopCapture() {
	if s.ctrl != nil {
		s.ctrl.Stop()
	}
}

// Status is the controller's latest status in wire form.
func (s *Service) Status() protocol.VoiceStatus {
	if s.ctrl == nil {
		return protocol.VoiceStatus{State: voice.StateIdle.String(), Timestamp: time.Now().UTC()}
	}
	return toWireStatus(s.ctrl.Status())
}

// Sessions lists recorded sessions, newest first.
func (s *Service) Sessions(ctx context.Context, limit int) ([]eventstore.Session, error) {
	return s.store.ListSessions(ctx, limit)
}

// SessionEvents returns the recorded timeline for one session.
func (s *Service) SessionEvents(ctx context.Context, sessionID string, limit int) ([]eventstore.Event, error) {
	return s.store.ListSessionEvents(ctx, sessionID, limit)
}

func (s *Service) handleControl(action func()) nats.MsgHandler {
	return func(msg *nats.Msg) {
		if action != nil {
			action()
		}
		reply := protocol.ControlReply{OK: s.ctrl != nil, Status: s.Status()}
		if s.ctrl == nil {
			reply.Error = "voice capture disabled"
		}
		if msg.Reply == "" {
			return
		}
		if err := bus.RespondJSON(msg, reply); err != nil {
			s.logger.Warn("failed to reply to control request", slogError(err))
		}
	}
}

// handleReply appends assistant answers to the timeline of the session that
// asked.
func (s *Service) handleReply(msg *nats.Msg) {
	var reply protocol.AssistantReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		s.logger.Debug("invalid assistant reply", slogError(err))
		return
	}
	if reply.SessionID == "" {
		return
	}
	s.record(eventstore.Event{SessionID: reply.SessionID, Kind: eventstore.KindReply, CreatedAt: reply.Timestamp}, reply)
}

func (s *Service) onStatus(st voice.Status) {
	wire := toWireStatus(st)
	if err := s.bus.PublishJSON(protocol.SubjectVoiceState, wire); err != nil {
		s.logger.Warn("failed to publish voice state", slogError(err))
	}
	s.hub.Broadcast(Frame{Type: "status", Data: wire})

	switch {
	case st.State == voice.StateListening && st.SessionID != s.lastSession:
		s.lastSession = st.SessionID
		s.record(eventstore.Event{SessionID: st.SessionID, Kind: eventstore.KindStarted}, map[string]string{
			"device": s.cfg.Device,
			"locale": s.cfg.Locale,
		})
	case st.State == voice.StateIdle && s.lastState != voice.StateIdle && st.SessionID != "":
		s.record(eventstore.Event{SessionID: st.SessionID, Kind: eventstore.KindEnded}, map[string]any{
			"transcript": st.Transcript.Text(),
		})
	}
	s.lastState = st.State
}

func (s *Service) onUtterance(u voice.Utterance) {
	wire := protocol.Utterance{SessionID: u.SessionID, Text: u.Text, Timestamp: u.At}
	if err := s.bus.PublishJSON(protocol.SubjectVoiceUtterance, wire); err != nil {
		s.logger.Warn("failed to publish utterance", slogError(err))
	}
	s.hub.Broadcast(Frame{Type: "utterance", Data: wire})
	s.record(eventstore.Event{SessionID: u.SessionID, Kind: eventstore.KindUtterance, CreatedAt: u.At}, wire)
}

func (s *Service) onError(sessionID string, e *voice.Error) {
	wire := toWireError(e, sessionID)
	if err := s.bus.PublishJSON(protocol.SubjectVoiceError, wire); err != nil {
		s.logger.Warn("failed to publish voice error", slogError(err))
	}
	s.hub.Broadcast(Frame{Type: "error", Data: wire})
	if wire.SessionID != "" {
		s.record(eventstore.Event{SessionID: wire.SessionID, Kind: eventstore.KindError}, wire)
	}
}

// record queues a timeline write. Writes never block the controller; when
// the queue is full the event is dropped.
func (s *Service) record(evt eventstore.Event, payload any) {
	if !s.store.Enabled() {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to encode session event", slogError(err))
		return
	}
	evt.Payload = data
	select {
	case s.records <- evt:
	default:
		s.logger.Warn("session event dropped", slog.String("kind", evt.Kind))
	}
}

func (s *Service) recordLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			s.flushRecords()
			return
		case evt := <-s.records:
			s.write(s.ctx, evt)
		}
	}
}

// flushRecords writes whatever is still queued at shutdown.
func (s *Service) flushRecords() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case evt := <-s.records:
			s.write(ctx, evt)
		default:
			return
		}
	}
}

func (s *Service) write(ctx context.Context, evt eventstore.Event) {
	// A session whose start failed is first seen through its error.
	if evt.Kind == eventstore.KindStarted || evt.Kind == eventstore.KindError {
		if err := s.store.AppendSession(ctx, eventstore.Session{
			ID:       evt.SessionID,
			DeviceID: s.cfg.Device,
			Locale:   s.cfg.Locale,
		}); err != nil {
			s.logger.Warn("failed to record session", slogError(err))
		}
	}
	if err := s.store.AppendEvent(ctx, evt); err != nil {
		s.logger.Warn("failed to record session event", slogError(err), slog.String("kind", evt.Kind))
	}
}

func toWireStatus(st voice.Status) protocol.VoiceStatus {
	wire := protocol.VoiceStatus{
		SessionID: st.SessionID,
		State:     st.State.String(),
		Final:     st.Transcript.Final,
		Interim:   st.Transcript.Interim,
		Supported: st.Supported,
		Timestamp: time.Now().UTC(),
	}
	if st.Err != nil {
		wire.Error = toWireError(st.Err, st.SessionID)
	}
	return wire
}

func toWireError(e *voice.Error, sessionID string) *protocol.VoiceError {
	return &protocol.VoiceError{
		SessionID: sessionID,
		Kind:      string(e.Kind),
		Code:      e.Code,
		Message:   e.Message(),
		Timestamp: time.Now().UTC(),
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
