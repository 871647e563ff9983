// Package gateway serves training sessions over a websocket: one
// orchestrator per connection, audio in, session snapshots out.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/radio-trainer/internal/bank"
	"github.com/lexiqai/radio-trainer/internal/observability"
	"github.com/lexiqai/radio-trainer/internal/token"
	"github.com/lexiqai/radio-trainer/internal/trainer"
)

const (
	writeTimeout = 5 * time.Second
	maxFrame     = 1 << 20
	micDepth     = 256
)

// Config wires a Handler
type Config struct {
	Bank    *bank.QuestionBank
	Tokens  token.Source
	Options trainer.Options
	// NewAdapter defaults to trainer.DefaultAdapterFactory.
	NewAdapter     trainer.AdapterFactory
	AllowedOrigins []string
}

// Handler upgrades /sessions/ws requests and runs one session per socket
type Handler struct {
	cfg      Config
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewHandler creates a Handler
func NewHandler(cfg Config) *Handler {
	h := &Handler{cfg: cfg, log: observability.Component("gateway")}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(h.cfg.AllowedOrigins, "*") || slices.Contains(h.cfg.AllowedOrigins, origin)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		observability.RecordError("upgrade", "gateway")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrame)

	s := h.newStream(conn)
	defer s.close()
	s.run(r.Context())
}

// stream is one connected browser
type stream struct {
	conn *websocket.Conn
	orch *trainer.Orchestrator
	mic  *remoteMicrophone
	log  zerolog.Logger

	writeMu sync.Mutex
	unsub   func()
	wg      sync.WaitGroup
}

func (h *Handler) newStream(conn *websocket.Conn) *stream {
	mic := newRemoteMicrophone(micDepth)
	orch := trainer.New(trainer.Dependencies{
		Tokens:     h.cfg.Tokens,
		Microphone: mic,
		NewAdapter: h.cfg.NewAdapter,
	}, h.cfg.Options)

	s := &stream{
		conn: conn,
		orch: orch,
		mic:  mic,
		log:  h.log.With().Str("session_id", orch.Snapshot().ID).Str("remote", conn.RemoteAddr().String()).Logger(),
	}
	if h.cfg.Bank != nil {
		if err := orch.LoadBank(h.cfg.Bank); err != nil {
			s.log.Error().Err(err).Msg("loading question bank")
		}
	}
	s.unsub = orch.Subscribe(func(sess trainer.Session) { s.send(stateMessage(sess)) })
	s.log.Info().Msg("training session connected")
	return s
}

func (s *stream) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn().Err(err).Msg("websocket read error")
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if !s.mic.push(data) {
				s.log.Debug().Int("bytes", len(data)).Msg("dropping audio frame")
			}
		case websocket.TextMessage:
			var msg ClientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				s.send(errorMessage("", fmt.Errorf("invalid message: %w", err)))
				continue
			}
			s.handle(ctx, msg)
		}
	}
}

func (s *stream) handle(ctx context.Context, msg ClientMessage) {
	var err error
	switch msg.Type {
	case CommandStart:
		s.mic.arm(msg.SampleRate, msg.MicError)
		// Audio frames keep arriving while providers connect.
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.orch.StartRecording(ctx); err != nil && !errors.Is(err, trainer.ErrAborted) {
				s.send(errorMessage(msg.Type, err))
			}
		}()
	case CommandStop:
		err = s.orch.StopRecording()
	case CommandSelect:
		if msg.Choice == nil {
			err = errors.New("choice is required")
			break
		}
		err = s.orch.SelectChoice(*msg.Choice)
	case CommandNavigate:
		if msg.Index == nil {
			err = errors.New("index is required")
			break
		}
		err = s.orch.Navigate(*msg.Index)
	default:
		err = fmt.Errorf("unknown command %q", msg.Type)
	}
	if err != nil {
		s.send(errorMessage(msg.Type, err))
	}
}

func (s *stream) send(m ServerMessage) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(m); err != nil {
		s.log.Debug().Err(err).Str("type", m.Type).Msg("dropping outbound message")
	}
}

func (s *stream) close() {
	s.unsub()
	_ = s.orch.Close()
	s.wg.Wait()
	s.log.Info().Msg("training session closed")
}
