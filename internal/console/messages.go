package console

import "github.com/loqalabs/loqa-voice/internal/protocol"

// StatusMsg carries a controller status update.
type StatusMsg struct{ Status protocol.VoiceStatus }

// UtteranceMsg carries a forwarded utterance.
type UtteranceMsg struct{ Utterance protocol.Utterance }

// VoiceErrorMsg carries a surfaced recognition error.
type VoiceErrorMsg struct{ Error protocol.VoiceError }

// ReplyMsg carries an assistant reply.
type ReplyMsg struct{ Reply protocol.AssistantReply }

// ControlReplyMsg is the answer to a start, stop or status request.
type ControlReplyMsg struct{ Reply protocol.ControlReply }

// LinkErrorMsg reports a failure talking to the daemon.
type LinkErrorMsg struct{ Err error }

// ClearErrorMsg clears a transient error banner.
type ClearErrorMsg struct{}
