package stt

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// ProviderOpenAI is the OpenAI Realtime provider id
const ProviderOpenAI = "openai"

const (
	openAISyntheticConfidence = 0.5
	openAIDefaultModel        = "gpt-4o-realtime-preview"
)

// NewOpenAIAdapter creates an adapter speaking the OpenAI Realtime protocol
func NewOpenAIAdapter(cfg Config) *Adapter {
	return NewAdapter(&OpenAIProtocol{}, cfg)
}

// OpenAIProtocol authenticates with websocket subprotocols, streams base64
// audio in JSON events and takes the input transcription as the final text.
type OpenAIProtocol struct {
	mu                sync.Mutex
	responseRequested bool
}

// ── outgoing ─────────────────────────────────────────────────────────────────

type oaSessionUpdate struct {
	Type    string    `json:"type"`
	Session oaSession `json:"session"`
}

type oaSession struct {
	Modalities              []string         `json:"modalities"`
	InputAudioFormat        string           `json:"input_audio_format"`
	InputAudioTranscription *oaTranscription `json:"input_audio_transcription,omitempty"`
	// TurnDetection is serialised as null to keep end-of-speech client driven.
	TurnDetection *oaTurnDetection `json:"turn_detection"`
}

type oaTranscription struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

type oaTurnDetection struct {
	Type              string `json:"type"`
	SilenceDurationMs int    `json:"silence_duration_ms,omitempty"`
}

type oaAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type oaResponseCreate struct {
	Type     string           `json:"type"`
	Response oaResponseParams `json:"response"`
}

type oaResponseParams struct {
	Modalities []string `json:"modalities"`
}

// ── incoming ─────────────────────────────────────────────────────────────────

type oaErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type oaContent struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript,omitempty"`
}

type oaResponse struct {
	Status        string `json:"status"`
	StatusDetails *struct {
		Type   string         `json:"type"`
		Reason string         `json:"reason"`
		Error  *oaErrorDetail `json:"error"`
	} `json:"status_details"`
	Output []struct {
		Content []oaContent `json:"content"`
	} `json:"output"`
}

type oaServerEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta,omitempty"`
	Transcript string `json:"transcript,omitempty"`

	Session *struct {
		ID string `json:"id"`
	} `json:"session,omitempty"`

	Error    *oaErrorDetail `json:"error,omitempty"`
	Response *oaResponse    `json:"response,omitempty"`
}

func (p *OpenAIProtocol) Name() string { return ProviderOpenAI }

func (p *OpenAIProtocol) Dial(cfg Config) (string, http.Header, []string, error) {
	if cfg.Token == "" {
		return "", nil, nil, errors.New("missing ephemeral token")
	}
	if cfg.URL == "" {
		return "", nil, nil, errors.New("missing websocket url")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return "", nil, nil, fmt.Errorf("invalid websocket url: %w", err)
	}
	q := u.Query()
	if q.Get("model") == "" {
		q.Set("model", openAIDefaultModel)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil, []string{
		"realtime",
		"openai-insecure-api-key." + cfg.Token,
		"openai-beta.realtime-v1",
	}, nil
}

func (p *OpenAIProtocol) ConfigMessages(cfg Config) ([]Message, error) {
	p.mu.Lock()
	p.responseRequested = false
	p.mu.Unlock()

	session := oaSession{
		Modalities:       []string{"text"},
		InputAudioFormat: "pcm16",
		InputAudioTranscription: &oaTranscription{
			Model:    cfg.Model,
			Language: cfg.Language,
		},
	}
	if cfg.ServerVAD {
		session.TurnDetection = &oaTurnDetection{Type: "server_vad", SilenceDurationMs: 500}
	}
	m, err := jsonMessage(oaSessionUpdate{Type: "session.update", Session: session})
	if err != nil {
		return nil, err
	}
	return []Message{m}, nil
}

func (p *OpenAIProtocol) FrameAudio(chunk []byte) (Message, error) {
	return jsonMessage(oaAppend{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(chunk),
	})
}

// EndMessages commits the buffer and requests a text response, once.
func (p *OpenAIProtocol) EndMessages() ([]Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.responseRequested {
		return nil, nil
	}

	commit, err := jsonMessage(map[string]string{"type": "input_audio_buffer.commit"})
	if err != nil {
		return nil, err
	}
	create, err := jsonMessage(oaResponseCreate{
		Type:     "response.create",
		Response: oaResponseParams{Modalities: []string{"text"}},
	})
	if err != nil {
		return nil, err
	}
	p.responseRequested = true
	return []Message{commit, create}, nil
}

func (p *OpenAIProtocol) HandleMessage(msgType int, data []byte, t *Tracker) ([]Event, error) {
	if msgType != websocket.TextMessage {
		return nil, nil
	}
	var evt oaServerEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("openai: decode event: %w", err)
	}

	switch evt.Type {
	case "session.created", "session.updated":
		if evt.Session != nil && evt.Session.ID != "" {
			t.SetSessionID(evt.Session.ID)
		}
		if t.Status() == StatusConnecting {
			t.SetStatus(StatusListening)
		}
		return nil, nil

	case "error":
		return []Event{openAIError(evt.Error)}, nil

	case "input_audio_buffer.speech_started":
		return []Event{{Type: EventAudioLevel, Speaking: true, Level: 1}}, nil

	case "input_audio_buffer.speech_stopped":
		return []Event{{Type: EventAudioLevel, Speaking: false, Level: 0}}, nil

	// response.text.* carries the model's own reply, never the speaker's words.
	case "response.audio_transcript.delta", "conversation.item.input_audio_transcription.delta":
		return t.AppendInterim(evt.Delta), nil

	case "response.audio_transcript.done":
		return t.Commit(evt.Transcript), nil

	case "conversation.item.input_audio_transcription.completed":
		return finalizeWithSyntheticWords(t, evt.Transcript), nil

	case "conversation.item.input_audio_transcription.failed":
		msg := "input audio transcription failed"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		perr := &ProviderError{Provider: ProviderOpenAI, Code: "transcription_failed", Message: msg}
		return []Event{{Type: EventError, Err: perr}}, nil

	case "response.done":
		return openAIResponseDone(evt.Response, t), nil
	}
	return nil, nil
}

// openAIError classifies an error event. Authentication and invalid requests
// are fatal, except committing an empty buffer.
func openAIError(detail *oaErrorDetail) Event {
	if detail == nil {
		detail = &oaErrorDetail{Message: "unknown error"}
	}
	fatal := (detail.Type == "authentication_error" || detail.Type == "invalid_request_error") &&
		detail.Code != "input_audio_buffer_commit_empty"
	return Event{
		Type: EventError,
		Err: &ProviderError{
			Provider: ProviderOpenAI,
			Type:     detail.Type,
			Code:     detail.Code,
			Message:  detail.Message,
			Fatal:    fatal,
		},
		Fatal: fatal,
	}
}

func openAIResponseDone(resp *oaResponse, t *Tracker) []Event {
	if resp == nil {
		return nil
	}
	var events []Event
	if sd := resp.StatusDetails; sd != nil && sd.Error != nil {
		events = append(events, Event{Type: EventError, Err: &ProviderError{
			Provider: ProviderOpenAI,
			Type:     sd.Error.Type,
			Code:     sd.Error.Code,
			Message:  sd.Error.Message,
		}})
	}

	var parts []string
	for _, item := range resp.Output {
		for _, c := range item.Content {
			if s := strings.TrimSpace(c.Transcript); s != "" {
				parts = append(parts, s)
			}
		}
	}
	if len(parts) > 0 {
		events = append(events, finalizeWithSyntheticWords(t, strings.Join(parts, " "))...)
	}
	return events
}

func finalizeWithSyntheticWords(t *Tracker, transcript string) []Event {
	if t.State().IsFinal {
		return nil
	}
	var events []Event
	for _, w := range SyntheticWords(transcript, t.AudioDuration(), openAISyntheticConfidence) {
		events = append(events, t.AddWord(w)...)
	}
	return append(events, t.Finalize(transcript)...)
}

func jsonMessage(v any) (Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, fmt.Errorf("marshal: %w", err)
	}
	return Message{Type: websocket.TextMessage, Data: data}, nil
}
