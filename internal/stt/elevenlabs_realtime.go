package stt

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
)

// ProviderElevenLabs is the ElevenLabs Realtime provider id
const ProviderElevenLabs = "elevenlabs"

var elevenLabsRecoverable = map[string]bool{
	"RATE_LIMIT":      true,
	"TEMPORARY_ERROR": true,
	"TIMEOUT":         true,
	"CONNECTION_LOST": true,
}

// NewElevenLabsAdapter creates an adapter speaking the ElevenLabs Realtime protocol
func NewElevenLabsAdapter(cfg Config) *Adapter {
	return NewAdapter(ElevenLabsProtocol{}, cfg)
}

// ElevenLabsProtocol authenticates with a single-use token in the query
// string and streams raw binary PCM.
type ElevenLabsProtocol struct{}

type elStart struct {
	Type         string        `json:"type"`
	AudioFormat  elAudioFormat `json:"audio_format"`
	LanguageCode string        `json:"language_code,omitempty"`
}

type elAudioFormat struct {
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Encoding   string `json:"encoding"`
}

type elWord struct {
	Text       string   `json:"text"`
	Word       string   `json:"word"`
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Confidence *float64 `json:"confidence,omitempty"`
}

func (w elWord) timing() WordTiming {
	text := w.Text
	if text == "" {
		text = w.Word
	}
	return WordTiming{
		Word:       text,
		StartMs:    secondsToMs(w.Start),
		EndMs:      secondsToMs(w.End),
		Confidence: w.Confidence,
	}
}

type elServerEvent struct {
	Type    string   `json:"type"`
	IsFinal bool     `json:"is_final"`
	Words   []elWord `json:"words,omitempty"`
	Message string   `json:"message,omitempty"`
	Code    string   `json:"code,omitempty"`

	// transcript text, or the flat fields of a word event
	elWord
}

func (ElevenLabsProtocol) Name() string { return ProviderElevenLabs }

func (ElevenLabsProtocol) Dial(cfg Config) (string, http.Header, []string, error) {
	if cfg.Token == "" {
		return "", nil, nil, errors.New("missing single-use token")
	}
	if cfg.URL == "" {
		return "", nil, nil, errors.New("missing websocket url")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return "", nil, nil, fmt.Errorf("invalid websocket url: %w", err)
	}
	q := u.Query()
	q.Set("token", cfg.Token)
	u.RawQuery = q.Encode()
	return u.String(), nil, nil, nil
}

func (ElevenLabsProtocol) ConfigMessages(cfg Config) ([]Message, error) {
	m, err := jsonMessage(elStart{
		Type: "start",
		AudioFormat: elAudioFormat{
			SampleRate: cfg.SampleRate,
			Channels:   1,
			Encoding:   "pcm_s16le",
		},
		LanguageCode: cfg.Language,
	})
	if err != nil {
		return nil, err
	}
	return []Message{m}, nil
}

func (ElevenLabsProtocol) FrameAudio(chunk []byte) (Message, error) {
	return Message{Type: websocket.BinaryMessage, Data: chunk}, nil
}

func (ElevenLabsProtocol) EndMessages() ([]Message, error) {
	m, err := jsonMessage(map[string]string{"type": "end_of_audio"})
	if err != nil {
		return nil, err
	}
	return []Message{m}, nil
}

func (ElevenLabsProtocol) HandleMessage(msgType int, data []byte, t *Tracker) ([]Event, error) {
	if msgType != websocket.TextMessage {
		return nil, nil
	}
	var evt elServerEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("elevenlabs: decode event: %w", err)
	}

	switch evt.Type {
	case "transcript":
		var events []Event
		for _, w := range evt.Words {
			events = append(events, t.AddWord(w.timing())...)
		}
		if !evt.IsFinal {
			return append(events, t.SetInterim(evt.Text)...), nil
		}
		events = append(events, t.Commit(evt.Text)...)
		return append(events, t.Finalize("")...), nil

	case "word":
		return t.AddWord(evt.elWord.timing()), nil

	case "error":
		code := evt.Code
		msg := evt.Message
		if msg == "" {
			msg = "unknown error"
		}
		fatal := !elevenLabsRecoverable[code]
		return []Event{{
			Type:  EventError,
			Err:   &ProviderError{Provider: ProviderElevenLabs, Code: code, Message: msg, Fatal: fatal},
			Fatal: fatal,
		}}, nil

	case "end":
		st := t.State()
		if st.IsFinal {
			return nil, nil
		}
		return t.Finalize(joinText(st.Committed, st.Interim)), nil
	}
	return nil, nil
}

func secondsToMs(s float64) int64 {
	return int64(math.Round(s * 1000))
}
