package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/loqalabs/loqa-voice/internal/bus"
	"github.com/loqalabs/loqa-voice/internal/protocol"
	"github.com/nats-io/nats.go"
)

const controlTimeout = 3 * time.Second

// Link is the console's connection to a running daemon.
type Link interface {
	// Next blocks until the daemon publishes something worth showing.
	Next() tea.Msg
	Control(ctx context.Context, subject string) (protocol.ControlReply, error)
	Close()
}

// BusLink follows the daemon over NATS.
type BusLink struct {
	client *bus.Client
	events chan *nats.Msg
	subs   []*nats.Subscription
}

var watchedSubjects = []string{
	protocol.SubjectVoiceState,
	protocol.SubjectVoiceUtterance,
	protocol.SubjectVoiceError,
	protocol.SubjectAssistantReply,
}

func NewBusLink(client *bus.Client) (*BusLink, error) {
	l := &BusLink{client: client, events: make(chan *nats.Msg, 128)}
	for _, subject := range watchedSubjects {
		sub, err := client.Conn().ChanSubscribe(subject, l.events)
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("subscribe %s: %w", subject, err)
		}
		l.subs = append(l.subs, sub)
	}
	return l, nil
}

func (l *BusLink) Next() tea.Msg {
	msg, ok := <-l.events
	if !ok {
		return LinkErrorMsg{Err: errors.New("event stream closed")}
	}
	out, err := decode(msg)
	if err != nil {
		return LinkErrorMsg{Err: err}
	}
	return out
}

func (l *BusLink) Control(ctx context.Context, subject string) (protocol.ControlReply, error) {
	var reply protocol.ControlReply
	err := l.client.RequestJSON(ctx, subject, protocol.ControlRequest{Source: "console"}, &reply)
	return reply, err
}

func (l *BusLink) Close() {
	for _, sub := range l.subs {
		_ = sub.Unsubscribe()
	}
	l.subs = nil
}

func decode(msg *nats.Msg) (tea.Msg, error) {
	switch msg.Subject {
	case protocol.SubjectVoiceState:
		var st protocol.VoiceStatus
		err := json.Unmarshal(msg.Data, &st)
		return StatusMsg{Status: st}, err
	case protocol.SubjectVoiceUtterance:
		var u protocol.Utterance
		err := json.Unmarshal(msg.Data, &u)
		return UtteranceMsg{Utterance: u}, err
	case protocol.SubjectVoiceError:
		var e protocol.VoiceError
		err := json.Unmarshal(msg.Data, &e)
		return VoiceErrorMsg{Error: e}, err
	case protocol.SubjectAssistantReply:
		var r protocol.AssistantReply
		err := json.Unmarshal(msg.Data, &r)
		return ReplyMsg{Reply: r}, err
	default:
		return nil, fmt.Errorf("unexpected subject %s", msg.Subject)
	}
}
