package voice

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed taxonomy of recognition failures.
type ErrorKind string

const (
	KindPermissionDenied ErrorKind = "permission_denied"
	KindNoMicrophone     ErrorKind = "no_microphone"
	KindNetwork          ErrorKind = "network"
	KindUnsupported      ErrorKind = "unsupported"
	KindUnknown          ErrorKind = "unknown"

	// Never surfaced to callers.
	KindNoSpeech ErrorKind = "no_speech"
	KindAborted  ErrorKind = "aborted"
)

// Engine error codes, using the Web Speech API vocabulary.
const (
	CodeNotAllowed        = "not-allowed"
	CodeServiceNotAllowed = "service-not-allowed"
	CodeAudioCapture      = "audio-capture"
	CodeNetwork           = "network"
	CodeNoSpeech          = "no-speech"
	CodeAborted           = "aborted"
	CodeAlreadyStarted    = "already-started"
)

// Error is a classified recognition failure.
type Error struct {
	Kind ErrorKind `json:"kind"`
	Code string    `json:"code,omitempty"`
}

// Classify maps a raw engine error code onto the taxonomy.
func Classify(code string) *Error {
	switch code {
	case CodeNotAllowed, CodeServiceNotAllowed:
		return &Error{Kind: KindPermissionDenied, Code: code}
	case CodeAudioCapture:
		return &Error{Kind: KindNoMicrophone, Code: code}
	case CodeNetwork:
		return &Error{Kind: KindNetwork, Code: code}
	case CodeNoSpeech:
		return &Error{Kind: KindNoSpeech, Code: code}
	case CodeAborted:
		return &Error{Kind: KindAborted, Code: code}
	default:
		return &Error{Kind: KindUnknown, Code: code}
	}
}

// Fatal reports whether the failure ends the listening session.
func (e *Error) Fatal() bool {
	return e.Kind != KindNoSpeech && e.Kind != KindAborted
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindPermissionDenied:
		return "microphone permission denied"
	case KindNoMicrophone:
		return "no microphone found"
	case KindNetwork:
		return "speech recognition network error"
	case KindUnsupported:
		return "speech recognition is not supported"
	case KindNoSpeech:
		return "no speech detected"
	case KindAborted:
		return "speech recognition aborted"
	default:
		return fmt.Sprintf("speech recognition error: %s", e.Code)
	}
}

// Message is the text shown to the user for transient display.
func (e *Error) Message() string {
	switch e.Kind {
	case KindPermissionDenied:
		return "Microphone access was denied. Allow access and try again."
	case KindNoMicrophone:
		return "No microphone was found. Check your audio device."
	case KindNetwork:
		return "Speech recognition lost its connection. Try again."
	case KindUnsupported:
		return "Voice input is not available on this device."
	default:
		return e.Error()
	}
}

func startFault(err error) *Error {
	var fault *Error
	if errors.As(err, &fault) {
		return fault
	}
	return &Error{Kind: KindUnknown, Code: err.Error()}
}
