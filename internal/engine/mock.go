package engine

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-voice/internal/voice"
)

// Mock plays back a fixed phrase word by word as if it were being spoken.
type Mock struct {
	phrase string
	step   time.Duration

	mu     sync.Mutex
	h      voice.Handlers
	run    *mockRun
	closed bool
}

type mockRun struct {
	capture uint64
	done    chan struct{}
}

func NewMock(phrase string, step time.Duration) *Mock {
	return &Mock{phrase: phrase, step: step}
}

func (m *Mock) Supported() bool { return true }

func (m *Mock) Bind(h voice.Handlers) {
	m.mu.Lock()
	m.h = h
	m.mu.Unlock()
}

func (m *Mock) Start(opts voice.CaptureOptions) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("mock engine closed")
	}
	if m.run != nil {
		m.mu.Unlock()
		return voice.Classify(voice.CodeAlreadyStarted)
	}
	run := &mockRun{capture: opts.Capture, done: make(chan struct{})}
	m.run = run
	m.mu.Unlock()

	go m.play(run)
	return nil
}

func (m *Mock) play(run *mockRun) {
	if !m.emit(run, func(h voice.Handlers) { h.OnStart(run.capture) }) {
		return
	}
	words := strings.Fields(m.phrase)
	for i := range words {
		select {
		case <-run.done:
			return
		case <-time.After(m.step):
		}
		seg := voice.Segment{Transcript: strings.Join(words[:i+1], " "), Final: i == len(words)-1}
		if !m.emit(run, func(h voice.Handlers) {
			h.OnResult(run.capture, voice.ResultEvent{ResultIndex: 0, Results: []voice.Segment{seg}})
		}) {
			return
		}
	}
}

// emit delivers an event if run is still the live capture. A Stop racing
// with emit is harmless: the event carries run's capture and the receiver
// drops it once a newer capture has started.
func (m *Mock) emit(run *mockRun, fn func(voice.Handlers)) bool {
	m.mu.Lock()
	live := m.run == run
	h := m.h
	m.mu.Unlock()
	if !live {
		return false
	}
	fn(h)
	return true
}

func (m *Mock) Stop() error {
	m.mu.Lock()
	run := m.run
	m.run = nil
	h := m.h
	m.mu.Unlock()
	if run == nil {
		return voice.ErrEngineStopped
	}
	close(run.done)
	h.OnEnd(run.capture)
	return nil
}

func (m *Mock) Close() error {
	err := m.Stop()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	if errors.Is(err, voice.ErrEngineStopped) {
		return nil
	}
	return err
}
