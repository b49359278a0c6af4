package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-voice/internal/bus"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/voice"
)

const defaultMockStep = 400 * time.Millisecond

// New builds the recognition engine selected by cfg.Engine.
func New(cfg config.VoiceConfig, client *bus.Client, logger *slog.Logger) (voice.Engine, error) {
	log := logger.With(slog.String("component", "engine"), slog.String("engine", cfg.Engine))
	switch cfg.Engine {
	case "", "mock":
		return NewMock(cfg.MockPhrase, defaultMockStep), nil
	case "exec":
		e, err := NewExec(cfg.Command, log)
		if err != nil {
			return nil, err
		}
		return e, nil
	case "bus":
		if client == nil {
			return nil, fmt.Errorf("bus engine requires a bus connection")
		}
		b, err := NewBus(client, cfg.Device, time.Duration(cfg.SupportTimeoutMS)*time.Millisecond, log)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unsupported voice engine %q", cfg.Engine)
	}
}
