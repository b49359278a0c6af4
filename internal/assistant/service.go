package assistant

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/loqalabs/loqa-voice/internal/bus"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/protocol"
	"github.com/loqalabs/loqa-voice/internal/shopapi"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const maxProducts = 10

var tracer = otel.Tracer("github.com/loqalabs/loqa-voice/assistant")

// productVerbs mark an utterance as a request to see products.
var productVerbs = map[string]struct{}{
	"search": {}, "show": {}, "find": {}, "get": {}, "want": {}, "need": {}, "buy": {},
}

// Service answers forwarded utterances through the shopping API.
type Service struct {
	cfg    config.AssistantConfig
	bus    *bus.Client
	shop   *shopapi.Client
	logger *slog.Logger
	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewService(parent context.Context, cfg config.AssistantConfig, busClient *bus.Client, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		shop:   shopapi.New(cfg.Endpoint, time.Duration(cfg.TimeoutMS)*time.Millisecond),
		logger: logger.With(slog.String("component", "assistant")),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectVoiceUtterance, s.handleUtterance)
	if err != nil {
		return err
	}
	s.sub = sub
	s.logger.Info("assistant ready", slog.String("endpoint", s.cfg.Endpoint), slog.Bool("auto_search", s.cfg.AutoSearch))
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.sub != nil
}

// Shop exposes the API client for direct cart and catalogue calls. It is nil
// when the assistant is disabled.
func (s *Service) Shop() *shopapi.Client {
	if !s.cfg.Enabled {
		return nil
	}
	return s.shop
}

func (s *Service) handleUtterance(msg *nats.Msg) {
	var u protocol.Utterance
	if err := json.Unmarshal(msg.Data, &u); err != nil {
		s.logger.Warn("assistant failed to decode utterance", slogError(err))
		return
	}
	if strings.TrimSpace(u.Text) == "" {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		reply := s.Respond(s.ctx, u)
		if err := s.bus.PublishJSON(protocol.SubjectAssistantReply, reply); err != nil {
			s.logger.Warn("assistant failed to publish reply", slogError(err))
		}
	}()
}

// Respond runs the chat call, and a product search when the utterance asks for products.
func (s *Service) Respond(ctx context.Context, u protocol.Utterance) protocol.AssistantReply {
	ctx, span := tracer.Start(ctx, "assistant.respond")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", u.SessionID))

	reply := protocol.AssistantReply{SessionID: u.SessionID, Utterance: u.Text}

	chat, err := s.shop.Chat(ctx, u.Text)
	if err != nil {
		s.logger.Warn("chat request failed", slogError(err), slog.String("session_id", u.SessionID))
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat failed")
		reply.Error = err.Error()
	} else {
		reply.Response = chat.Response
	}

	if s.cfg.AutoSearch && WantsProducts(u.Text) {
		res, err := s.shop.SearchProducts(ctx, shopapi.SearchQuery{Text: u.Text})
		if err != nil {
			s.logger.Warn("product search failed", slogError(err), slog.String("session_id", u.SessionID))
			span.RecordError(err)
		} else {
			products := res.Products
			if len(products) > maxProducts {
				products = products[:maxProducts]
			}
			reply.Products = products
			span.SetAttributes(attribute.Int("products", len(products)))
		}
	}

	reply.Timestamp = time.Now().UTC()
	return reply
}

// WantsProducts reports whether text contains one of the product request verbs.
func WantsProducts(text string) bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		if _, ok := productVerbs[w]; ok {
			return true
		}
	}
	return false
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
