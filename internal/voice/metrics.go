package voice

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/loqalabs/loqa-voice/voice"

type instruments struct {
	sessions   metric.Int64Counter
	utterances metric.Int64Counter
	errors     metric.Int64Counter
	autostops  metric.Int64Counter
}

func newInstruments() (*instruments, error) {
	meter := otel.Meter(meterName)
	sessions, err := meter.Int64Counter("loqa.voice.sessions", metric.WithDescription("Listening sessions started"))
	if err != nil {
		return nil, err
	}
	utterances, err := meter.Int64Counter("loqa.voice.utterances", metric.WithDescription("Utterances forwarded to the caller"))
	if err != nil {
		return nil, err
	}
	errs, err := meter.Int64Counter("loqa.voice.errors", metric.WithDescription("Recognition errors surfaced to the caller"))
	if err != nil {
		return nil, err
	}
	autostops, err := meter.Int64Counter("loqa.voice.autostops", metric.WithDescription("Sessions ended without an explicit stop"))
	if err != nil {
		return nil, err
	}
	return &instruments{sessions: sessions, utterances: utterances, errors: errs, autostops: autostops}, nil
}

func (i *instruments) sessionStarted() {
	if i != nil {
		i.sessions.Add(context.Background(), 1)
	}
}

func (i *instruments) utteranceForwarded() {
	if i != nil {
		i.utterances.Add(context.Background(), 1)
	}
}

func (i *instruments) errorSurfaced(kind ErrorKind) {
	if i != nil {
		i.errors.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", string(kind))))
	}
}

func (i *instruments) autostop(reason string) {
	if i != nil {
		i.autostops.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}
