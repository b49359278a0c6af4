package protocol

import (
	"fmt"
	"time"

	"github.com/loqalabs/loqa-voice/internal/shopapi"
)

// ControlRequest asks the capture service to start or stop listening.
type ControlRequest struct {
	Source string `json:"source,omitempty"`
}

// ControlReply answers a control request with the controller's status.
type ControlReply struct {
	OK     bool        `json:"ok"`
	Status VoiceStatus `json:"status"`
	Error  string      `json:"error,omitempty"`
}

// VoiceStatus mirrors the listening state for UI consumers.
type VoiceStatus struct {
	SessionID string      `json:"session_id,omitempty"`
	State     string      `json:"state"`
	Final     string      `json:"final,omitempty"`
	Interim   string      `json:"interim,omitempty"`
	Error     *VoiceError `json:"error,omitempty"`
	Supported bool        `json:"supported"`
	Timestamp time.Time   `json:"timestamp"`
}

// VoiceError is a surfaced recognition failure.
type VoiceError struct {
	SessionID string    `json:"session_id,omitempty"`
	Kind      string    `json:"kind"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Utterance is one completed phrase captured from the user.
type Utterance struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// AssistantReply is the orchestration result for one utterance.
type AssistantReply struct {
	SessionID string            `json:"session_id"`
	Utterance string            `json:"utterance"`
	Response  string            `json:"response,omitempty"`
	Products  []shopapi.Product `json:"products,omitempty"`
	Error     string            `json:"error,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// EngineSupportReply answers a remote engine capability check.
type EngineSupportReply struct {
	Supported bool   `json:"supported"`
	Engine    string `json:"engine,omitempty"`
}

// EngineControl instructs a remote recognition engine.
type EngineControl struct {
	Op         string `json:"op"` // start, stop
	CaptureID  string `json:"capture_id"`
	Locale     string `json:"locale,omitempty"`
	Continuous bool   `json:"continuous,omitempty"`
	Interim    bool   `json:"interim,omitempty"`
}

// EngineEvent is emitted by a remote recognition engine.
type EngineEvent struct {
	Type        string          `json:"type"` // start, result, error, end
	CaptureID   string          `json:"capture_id"`
	ResultIndex int             `json:"result_index,omitempty"`
	Results     []EngineSegment `json:"results,omitempty"`
	Error       string          `json:"error,omitempty"`
}

type EngineSegment struct {
	Transcript string `json:"transcript"`
	Final      bool   `json:"final"`
}

const (
	SubjectVoiceControlStart  = "voice.control.start"
	SubjectVoiceControlStop   = "voice.control.stop"
	SubjectVoiceControlStatus = "voice.control.status"
	SubjectVoiceState         = "voice.state"
	SubjectVoiceUtterance     = "voice.utterance"
	SubjectVoiceError         = "voice.error"
	SubjectAssistantReply     = "assistant.reply"

	EngineOpStart = "start"
	EngineOpStop  = "stop"

	EngineEventStart  = "start"
	EngineEventResult = "result"
	EngineEventError  = "error"
	EngineEventEnd    = "end"
)

func EngineSupportSubject(device string) string {
	return fmt.Sprintf("voice.engine.%s.support", device)
}

func EngineControlSubject(device string) string {
	return fmt.Sprintf("voice.engine.%s.control", device)
}

func EngineEventSubject(device string) string {
	return fmt.Sprintf("voice.engine.%s.event", device)
}
