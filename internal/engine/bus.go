package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-voice/internal/bus"
	"github.com/loqalabs/loqa-voice/internal/protocol"
	"github.com/loqalabs/loqa-voice/internal/voice"
	"github.com/nats-io/nats.go"
)

const defaultSupportTimeout = 1500 * time.Millisecond

// Bus drives a recognizer running on another node, addressed by device ID.
// Each capture is tagged with a fresh capture ID; events for any other
// capture are dropped.
type Bus struct {
	client       *bus.Client
	device       string
	supportTimeout time.Duration
	log          *slog.Logger
	sub          *nats.Subscription

	mu      sync.Mutex
	h       voice.Handlers
	capture string
	token   uint64
}

func NewBus(client *bus.Client, device string, supportTimeout time.Duration, log *slog.Logger) (*Bus, error) {
	if device == "" {
		return nil, fmt.Errorf("bus engine requires a device id")
	}
	if supportTimeout <= 0 {
		supportTimeout = defaultSupportTimeout
	}
	b := &Bus{client: client, device: device, supportTimeout: supportTimeout, log: log.With(slog.String("device", device))}
	sub, err := client.Conn().Subscribe(protocol.EngineEventSubject(device), b.handleEvent)
	if err != nil {
		return nil, fmt.Errorf("subscribe engine events: %w", err)
	}
	b.sub = sub
	return b, nil
}

// Supported asks the remote engine whether it can capture speech.
func (b *Bus) Supported() bool {
	ctx, cancel := context.WithTimeout(context.Background(), b.supportTimeout)
	defer cancel()
	var reply protocol.EngineSupportReply
	if err := b.client.RequestJSON(ctx, protocol.EngineSupportSubject(b.device), struct{}{}, &reply); err != nil {
		b.log.Warn("engine support check failed", slog.String("error", err.Error()))
		return false
	}
	return reply.Supported
}

func (b *Bus) Bind(h voice.Handlers) {
	b.mu.Lock()
	b.h = h
	b.mu.Unlock()
}

func (b *Bus) Start(opts voice.CaptureOptions) error {
	b.mu.Lock()
	if b.capture != "" {
		b.mu.Unlock()
		return voice.Classify(voice.CodeAlreadyStarted)
	}
	id := uuid.NewString()
	b.capture = id
	b.token = opts.Capture
	b.mu.Unlock()

	err := b.client.PublishJSON(protocol.EngineControlSubject(b.device), protocol.EngineControl{
		Op:         protocol.EngineOpStart,
		CaptureID:  id,
		Locale:     opts.Locale,
		Continuous: opts.Continuous,
		Interim:    opts.Interim,
	})
	if err != nil {
		b.mu.Lock()
		if b.capture == id {
			b.capture = ""
		}
		b.mu.Unlock()
		return fmt.Errorf("%w: %v", voice.Classify(voice.CodeNetwork), err)
	}
	return nil
}

func (b *Bus) Stop() error {
	b.mu.Lock()
	id := b.capture
	token := b.token
	b.capture = ""
	h := b.h
	b.mu.Unlock()
	if id == "" {
		return voice.ErrEngineStopped
	}
	if err := b.client.PublishJSON(protocol.EngineControlSubject(b.device), protocol.EngineControl{
		Op:        protocol.EngineOpStop,
		CaptureID: id,
	}); err != nil {
		b.log.Warn("failed to publish engine stop", slog.String("error", err.Error()))
	}
	h.OnEnd(token)
	return nil
}

func (b *Bus) Close() error {
	_ = b.Stop()
	if b.sub != nil {
		return b.sub.Unsubscribe()
	}
	return nil
}

func (b *Bus) handleEvent(msg *nats.Msg) {
	var ev protocol.EngineEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		b.log.Warn("invalid engine event", slog.String("error", err.Error()))
		return
	}

	b.mu.Lock()
	live := ev.CaptureID != "" && ev.CaptureID == b.capture
	if live && ev.Type == protocol.EngineEventEnd {
		b.capture = ""
	}
	token := b.token
	h := b.h
	b.mu.Unlock()
	if !live {
		b.log.Debug("engine event for stale capture dropped", slog.String("capture_id", ev.CaptureID))
		return
	}

	switch ev.Type {
	case protocol.EngineEventStart:
		h.OnStart(token)
	case protocol.EngineEventResult:
		results := make([]voice.Segment, len(ev.Results))
		for i, seg := range ev.Results {
			results[i] = voice.Segment{Transcript: seg.Transcript, Final: seg.Final}
		}
		h.OnResult(token, voice.ResultEvent{ResultIndex: ev.ResultIndex, Results: results})
	case protocol.EngineEventError:
		h.OnError(token, ev.Error)
	case protocol.EngineEventEnd:
		h.OnEnd(token)
	default:
		b.log.Debug("unknown engine event", slog.String("type", ev.Type))
	}
}
