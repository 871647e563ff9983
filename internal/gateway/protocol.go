package gateway

import (
	"github.com/lexiqai/radio-trainer/internal/trainer"
)

// Command types sent by the browser as text frames. Audio travels as binary
// frames of PCM16 little-endian mono samples.
const (
	CommandStart    = "start"
	CommandStop     = "stop"
	CommandSelect   = "select"
	CommandNavigate = "navigate"
)

// ClientMessage is a control command from the browser
type ClientMessage struct {
	Type string `json:"type"`

	// start
	SampleRate int    `json:"sampleRate,omitempty"`
	MicError   string `json:"micError,omitempty"`

	// select
	Choice *int `json:"choice,omitempty"`

	// navigate
	Index *int `json:"index,omitempty"`
}

// ServerMessage is pushed to the browser: a session snapshot or an error
// answering one command.
type ServerMessage struct {
	Type    string           `json:"type"`
	Session *trainer.Session `json:"session,omitempty"`
	Command string           `json:"command,omitempty"`
	Message string           `json:"message,omitempty"`
}

func stateMessage(s trainer.Session) ServerMessage {
	return ServerMessage{Type: "state", Session: &s}
}

func errorMessage(command string, err error) ServerMessage {
	return ServerMessage{Type: "error", Command: command, Message: err.Error()}
}
