package voice

import (
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultSilenceTimeout = 3 * time.Second
	DefaultSettleDelay    = time.Second
)

// Config tunes the controller. Zero durations fall back to the defaults.
type Config struct {
	Locale         string
	SilenceTimeout time.Duration
	SettleDelay    time.Duration
}

// Callbacks receive the controller's outputs. Any of them may be nil.
// They run on the controller's loop; calling Start or Stop from inside one
// is allowed and takes effect after the callback returns.
type Callbacks struct {
	VoiceInput func(Utterance)
	Status     func(Status)
	// Error receives the id of the listen session the failure belongs to.
	// It is empty when no session was ever started.
	Error func(sessionID string, err *Error)
}

// Controller drives one recognition engine across repeated listen cycles,
// turning its event stream into utterances. It is constructed once per mount
// and reused until Close.
type Controller struct {
	engine    Engine
	cfg       Config
	cb        Callbacks
	log       *slog.Logger
	metrics   *instruments
	loop      loop
	afterFunc afterFunc
	now       func() time.Time
	newID     func() string
	supported bool
	snapshot  atomic.Pointer[Status]
	done      chan struct{}

	// Owned by the loop.
	capture    uint64
	active     bool
	closed     bool
	state      State
	sessionID  string
	acc        Accumulator
	transcript Transcript
	fault      *Error
	silence    *pendingTimer
	settle     *pendingTimer
}

// New checks engine support once, binds its handlers once and returns an idle controller.
func New(engine Engine, cfg Config, cb Callbacks, logger *slog.Logger) *Controller {
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = DefaultSilenceTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	c := &Controller{
		engine:    engine,
		cfg:       cfg,
		cb:        cb,
		log:       logger.With(slog.String("component", "voice")),
		afterFunc: realAfterFunc,
		now:       time.Now,
		newID:     uuid.NewString,
		done:      make(chan struct{}),
	}
	c.loop.log = c.log

	metrics, err := newInstruments()
	if err != nil {
		c.log.Warn("failed to initialize metrics", slogError(err))
	}
	c.metrics = metrics

	c.supported = engine.Supported()
	if !c.supported {
		c.log.Warn("speech recognition not supported by engine")
	}
	engine.Bind(Handlers{
		OnStart:  func(capture uint64) { c.deliver("start", capture, c.handleStart) },
		OnResult: func(capture uint64, ev ResultEvent) { c.deliver("result", capture, func() { c.handleResult(ev) }) },
		OnError:  func(capture uint64, code string) { c.deliver("error", capture, func() { c.handleError(code) }) },
		OnEnd:    func(capture uint64) { c.deliver("end", capture, c.handleEnd) },
	})

	st := c.currentStatus()
	c.snapshot.Store(&st)
	return c
}

// Start begins a listening session. Failures are reported through the
// Error callback, never returned.
func (c *Controller) Start() { c.loop.post(c.start) }

// Stop ends any capture and returns to idle. Safe from any state, any number of times.
func (c *Controller) Stop() { c.loop.post(func() { c.stop("") }) }

// Close stops capture and releases the engine. The controller ignores all
// input afterwards. Close may return before the engine is released when
// another goroutine is running the controller; Done reports completion.
func (c *Controller) Close() { c.loop.post(c.close) }

// Done is closed once Close has finished and the last status was emitted.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Status returns the latest snapshot.
func (c *Controller) Status() Status { return *c.snapshot.Load() }

// Supported reports the result of the capability check.
func (c *Controller) Supported() bool { return c.supported }

func (c *Controller) start() {
	if c.closed {
		c.log.Debug("start ignored after close")
		return
	}
	if !c.supported {
		fault := &Error{Kind: KindUnsupported}
		c.fault = fault
		c.surface(fault)
		c.emitStatus()
		return
	}
	switch c.state {
	case StateProcessing:
		c.log.Debug("start ignored while utterance is settling", slog.String("session_id", c.sessionID))
		return
	case StateListening:
		c.teardown("", Classify(CodeAlreadyStarted), true)
		return
	}

	c.disarmTimers()
	c.acc.Reset()
	c.transcript = Transcript{}
	c.fault = nil
	c.sessionID = c.newID()

	c.capture++
	opts := CaptureOptions{Capture: c.capture, Locale: c.cfg.Locale, Continuous: true, Interim: true}
	if err := c.engine.Start(opts); err != nil {
		fault := startFault(err)
		c.state = StateIdle
		c.fault = fault
		c.surface(fault)
		c.emitStatus()
		return
	}
	c.active = true
	c.state = StateListening
	c.metrics.sessionStarted()
	c.armSilence()
	c.log.Info("listening started", slog.String("session_id", c.sessionID), slog.String("locale", opts.Locale))
	c.emitStatus()
}

func (c *Controller) stop(reason string) {
	c.teardown(reason, nil, true)
}

func (c *Controller) close() {
	if c.closed {
		return
	}
	c.teardown("", nil, true)
	c.closed = true
	if err := c.engine.Close(); err != nil {
		c.log.Warn("failed to close recognition engine", slogError(err))
	}
	close(c.done)
}

// teardown returns the controller to idle. A non-nil fault raised while
// listening passes through the error state and is surfaced on the way.
func (c *Controller) teardown(reason string, fault *Error, stopEngine bool) {
	c.disarmTimers()
	if stopEngine {
		c.stopEngine()
	}
	c.acc.Reset()
	c.transcript = Transcript{}

	if fault != nil && c.state == StateListening {
		c.state = StateError
		c.fault = fault
		c.emitStatus()
		c.surface(fault)
	} else {
		fault = nil
	}

	changed := c.state != StateIdle || c.fault != fault
	if reason != "" && c.state != StateIdle {
		c.metrics.autostop(reason)
		c.log.Info("listening ended", slog.String("session_id", c.sessionID), slog.String("reason", reason))
	}
	c.state = StateIdle
	c.fault = fault
	if changed {
		c.emitStatus()
	}
}

func (c *Controller) stopEngine() {
	if err := c.engine.Stop(); err != nil && !errors.Is(err, ErrEngineStopped) {
		c.log.Debug("engine stop failed", slogError(err))
	}
	c.active = false
}

// deliver queues an engine event. Events raised by any capture other than
// the latest one started are dropped.
func (c *Controller) deliver(event string, capture uint64, task func()) {
	c.loop.post(func() {
		if capture != c.capture {
			c.log.Debug("stale engine event dropped", slog.String("event", event), slog.Uint64("capture", capture))
			return
		}
		task()
	})
}

func (c *Controller) handleStart() {
	if c.closed {
		return
	}
	c.active = true
	if c.fault != nil {
		c.fault = nil
		c.emitStatus()
	}
}

func (c *Controller) handleResult(ev ResultEvent) {
	if c.closed || c.state != StateListening {
		c.log.Debug("result ignored", slog.String("state", c.state.String()))
		return
	}
	c.transcript = c.acc.Apply(ev)

	text := strings.TrimSpace(c.transcript.Final)
	if text == "" {
		c.armSilence()
		c.emitStatus()
		return
	}

	c.disarm(&c.silence)
	c.state = StateProcessing
	c.armSettle()
	c.emitStatus()

	c.metrics.utteranceForwarded()
	c.log.Info("utterance captured", slog.String("session_id", c.sessionID), slog.Int("chars", len(text)))
	if c.cb.VoiceInput != nil {
		c.cb.VoiceInput(Utterance{SessionID: c.sessionID, Text: text, At: c.now().UTC()})
	}
}

func (c *Controller) handleError(code string) {
	fault := Classify(code)
	if !fault.Fatal() {
		c.log.Debug("recognition code ignored", slog.String("code", code), slog.String("state", c.state.String()))
		return
	}
	if c.closed {
		return
	}
	switch c.state {
	case StateListening:
		c.teardown("error", fault, true)
	case StateProcessing:
		c.log.Warn("recognition error while settling", slog.String("code", code))
		c.teardown("error", nil, true)
	default:
		c.log.Debug("recognition error while idle", slog.String("code", code))
	}
}

func (c *Controller) handleEnd() {
	c.active = false
	if c.closed || c.state == StateIdle {
		return
	}
	c.teardown("ended", nil, false)
}

func (c *Controller) silenceElapsed(t *pendingTimer) {
	if c.silence != t {
		return
	}
	c.silence = nil
	if c.state != StateListening {
		return
	}
	c.teardown("silence", nil, true)
}

func (c *Controller) settleElapsed(t *pendingTimer) {
	if c.settle != t {
		return
	}
	c.settle = nil
	if c.state != StateProcessing {
		return
	}
	c.teardown("settle", nil, true)
}

func (c *Controller) armSilence() {
	c.silence.cancel()
	t := &pendingTimer{}
	t.handle = c.afterFunc(c.cfg.SilenceTimeout, func() {
		c.loop.post(func() { c.silenceElapsed(t) })
	})
	c.silence = t
}

func (c *Controller) armSettle() {
	c.settle.cancel()
	t := &pendingTimer{}
	t.handle = c.afterFunc(c.cfg.SettleDelay, func() {
		c.loop.post(func() { c.settleElapsed(t) })
	})
	c.settle = t
}

func (c *Controller) disarm(slot **pendingTimer) {
	(*slot).cancel()
	*slot = nil
}

func (c *Controller) disarmTimers() {
	c.disarm(&c.silence)
	c.disarm(&c.settle)
}

func (c *Controller) surface(fault *Error) {
	c.metrics.errorSurfaced(fault.Kind)
	c.log.Warn("recognition failed", slog.String("kind", string(fault.Kind)), slog.String("code", fault.Code))
	if c.cb.Error != nil {
		c.cb.Error(c.sessionID, fault)
	}
}

func (c *Controller) emitStatus() {
	st := c.currentStatus()
	c.snapshot.Store(&st)
	if c.cb.Status != nil {
		c.cb.Status(st)
	}
}

func (c *Controller) currentStatus() Status {
	return Status{
		SessionID:  c.sessionID,
		State:      c.state,
		Transcript: c.transcript,
		Err:        c.fault,
		Supported:  c.supported,
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
