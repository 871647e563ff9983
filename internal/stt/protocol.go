package stt

import (
	"net/http"
)

// Message is one websocket frame to write
type Message struct {
	Type int // websocket.TextMessage or websocket.BinaryMessage
	Data []byte
}

// Protocol is the provider-specific half of an Adapter. Implementations may
// keep per-connection state; each Adapter owns its own Protocol value.
type Protocol interface {
	// Name is the provider id used in events, logs and metrics.
	Name() string
	// Dial returns the websocket URL, extra headers and subprotocols carrying auth.
	Dial(cfg Config) (url string, header http.Header, subprotocols []string, err error)
	// ConfigMessages are written right after the handshake, inside the connect timeout.
	ConfigMessages(cfg Config) ([]Message, error)
	// FrameAudio wraps one PCM16 chunk.
	FrameAudio(chunk []byte) (Message, error)
	// EndMessages signal end of audio. Nil means nothing to send.
	EndMessages() ([]Message, error)
	// HandleMessage parses one inbound frame and applies it to t. A returned
	// error means the frame was malformed and has been dropped.
	HandleMessage(msgType int, data []byte, t *Tracker) ([]Event, error)
}
