package voice

import "errors"

// ErrEngineStopped is returned by Engine.Stop when no capture is running.
var ErrEngineStopped = errors.New("recognition engine already stopped")

// Segment is one recognized span of speech.
type Segment struct {
	Transcript string `json:"transcript"`
	Final      bool   `json:"final"`
}

// ResultEvent carries the index-addressed result list for the current capture.
// ResultIndex is the lowest index that changed since the previous event.
type ResultEvent struct {
	ResultIndex int       `json:"result_index"`
	Results     []Segment `json:"results"`
}

// CaptureOptions configures a single capture run. Capture identifies the run;
// the engine passes it back with every event the run raises.
type CaptureOptions struct {
	Capture    uint64
	Locale     string
	Continuous bool
	Interim    bool
}

// Handlers is the listener table an engine delivers its events to. Every
// callback receives the Capture value of the run that raised the event.
type Handlers struct {
	OnStart  func(capture uint64)
	OnResult func(capture uint64, ev ResultEvent)
	OnError  func(capture uint64, code string)
	OnEnd    func(capture uint64)
}

// Engine abstracts a continuous speech-recognition backend.
//
// Bind is called exactly once, before any Start. Handlers may be invoked from
// any goroutine, including synchronously from inside Start or Stop, and must
// never be invoked while the engine holds its own locks. Events raised by a run
// carry that run's capture, so late events of a stopped run are recognisable.
type Engine interface {
	Supported() bool
	Bind(Handlers)
	Start(opts CaptureOptions) error
	Stop() error
	Close() error
}
