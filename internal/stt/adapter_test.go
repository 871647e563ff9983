package stt

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapter_ServerNormalCloseDisconnects(t *testing.T) {
	t.Parallel()
	srv := newWSServer(t)
	a := NewElevenLabsAdapter(fastConfig(wsURL(srv.Server)))
	rec := record(a, EventConnectionStateChange, EventError)

	require.NoError(t, a.Connect(context.Background()))
	conn, _ := srv.accept(t)
	readJSON(t, conn) // start

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done")))

	rec.waitState(t, StateDisconnected)
	assert.NotContains(t, rec.states(), StateReconnecting)
	assert.Equal(t, 0, rec.count(EventError))
}

func TestAdapter_AbnormalCloseWithoutAttemptsLeftErrors(t *testing.T) {
	t.Parallel()
	srv := newWSServer(t)
	cfg := fastConfig(wsURL(srv.Server))
	cfg.MaxReconnectAttempts = -1
	a := NewElevenLabsAdapter(cfg)
	rec := record(a, EventConnectionStateChange, EventError)

	require.NoError(t, a.Connect(context.Background()))
	conn, _ := srv.accept(t)
	readJSON(t, conn)
	conn.Close() // no close frame: 1006 on the client

	rec.waitState(t, StateError)
	assert.NotContains(t, rec.states(), StateReconnecting)
	assert.Equal(t, 1, rec.count(EventError))
	assert.Equal(t, StatusError, a.Status())
}

func TestAdapter_AbnormalCloseReconnects(t *testing.T) {
	t.Parallel()
	srv := newWSServer(t)
	cfg := fastConfig(wsURL(srv.Server))
	cfg.MaxReconnectAttempts = 1
	a := NewElevenLabsAdapter(cfg)
	rec := record(a, EventConnectionStateChange)
	t.Cleanup(a.Dispose)

	require.NoError(t, a.Connect(context.Background()))
	first, _ := srv.accept(t)
	readJSON(t, first)
	rec.waitState(t, StateConnected)
	first.Close()

	rec.waitState(t, StateReconnecting)
	second, _ := srv.accept(t)
	start := readJSON(t, second)
	assert.Equal(t, "start", start["type"])
	rec.waitState(t, StateConnected)

	// the attempt counter was reset by the successful reopen, so one more
	// drop is retried as well
	second.Close()
	rec.waitState(t, StateReconnecting)
	third, _ := srv.accept(t)
	readJSON(t, third)
	rec.waitState(t, StateConnected)
}

func TestAdapter_ConnectTimeoutEmitsTimeout(t *testing.T) {
	t.Parallel()
	cfg := fastConfig("ws://" + silentListener(t))
	cfg.ConnectTimeout = 100 * time.Millisecond
	cfg.MaxReconnectAttempts = -1
	a := NewOpenAIAdapter(cfg)
	rec := record(a, EventConnectionStateChange, EventTimeout)

	err := a.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, rec.count(EventTimeout))
	assert.Equal(t, StateError, a.State())
	assert.NotContains(t, rec.states(), StateReconnecting)
}

func TestAdapter_ConnectTimeoutSchedulesReconnect(t *testing.T) {
	t.Parallel()
	cfg := fastConfig("ws://" + silentListener(t))
	cfg.ConnectTimeout = 50 * time.Millisecond
	cfg.MaxReconnectAttempts = 1
	a := NewOpenAIAdapter(cfg)
	rec := record(a, EventConnectionStateChange, EventTimeout)

	require.NoError(t, a.Connect(context.Background()))
	assert.Equal(t, StateReconnecting, a.State())

	// the single retry also times out and the adapter gives up
	rec.waitState(t, StateError)
	assert.Equal(t, 2, rec.count(EventTimeout))
}

func TestAdapter_AuthRejectionIsFatal(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	a := NewElevenLabsAdapter(fastConfig(wsURL(srv)))
	rec := record(a, EventConnectionStateChange, EventError)

	err := a.Connect(context.Background())
	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.True(t, perr.Fatal)
	assert.Equal(t, "auth", perr.Code)
	assert.Equal(t, StateError, a.State())
	assert.NotContains(t, rec.states(), StateReconnecting)
}

func TestAdapter_MissingTokenIsFatal(t *testing.T) {
	t.Parallel()
	a := NewOpenAIAdapter(Config{URL: "ws://127.0.0.1:1"})
	require.Error(t, a.Connect(context.Background()))
	assert.Equal(t, StateError, a.State())
}

func TestAdapter_DisconnectClosesNormally(t *testing.T) {
	t.Parallel()
	srv := newWSServer(t)
	a := NewElevenLabsAdapter(fastConfig(wsURL(srv.Server)))
	rec := record(a, EventConnectionStateChange)

	require.NoError(t, a.Connect(context.Background()))
	conn, _ := srv.accept(t)
	readJSON(t, conn)

	a.Disconnect()
	a.Disconnect()
	assert.Equal(t, StateClosed, a.State())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	// no reconnect after a client-initiated close
	time.Sleep(50 * time.Millisecond)
	assert.NotContains(t, rec.states(), StateReconnecting)
	assert.Equal(t, StateClosed, a.State())
}

func TestAdapter_SendAudioWhenNotConnectedIsNoop(t *testing.T) {
	t.Parallel()
	a := NewElevenLabsAdapter(Config{})
	assert.NoError(t, a.SendAudio([]byte{1, 2}))
	assert.ErrorIs(t, a.EndAudio(), ErrNotConnected)
}

func TestAdapter_DisposeClearsStateAndSubscribers(t *testing.T) {
	t.Parallel()
	a := NewElevenLabsAdapter(Config{})
	a.On(EventTranscriptFinal, func(Event) {})
	a.tracker.Commit("tower")

	a.Dispose()
	assert.Equal(t, TranscriptState{}, a.Transcript())
	assert.Equal(t, 0, a.bus.Len(EventTranscriptFinal))
	assert.Equal(t, StateClosed, a.State())
}

func TestAdapter_ConfigureMerges(t *testing.T) {
	t.Parallel()
	a := NewOpenAIAdapter(Config{URL: "wss://example.test"})
	a.Configure(Config{Token: "abc", MaxReconnectAttempts: 5})

	cfg := a.Config()
	assert.Equal(t, "wss://example.test", cfg.URL)
	assert.Equal(t, "abc", cfg.Token)
	assert.Equal(t, 5, cfg.MaxReconnectAttempts)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
}

func TestBus_HandlerPanicIsIsolated(t *testing.T) {
	t.Parallel()
	a := NewElevenLabsAdapter(Config{})
	var got []string
	a.On(EventTranscriptFinal, func(Event) { got = append(got, "first") })
	a.On(EventTranscriptFinal, func(Event) { panic("boom") })
	a.On(EventTranscriptFinal, func(e Event) { got = append(got, e.Text) })

	a.emit(Event{Type: EventTranscriptFinal, Text: "tower"})
	assert.Equal(t, []string{"first", "tower"}, got)
}

func TestBus_Off(t *testing.T) {
	t.Parallel()
	a := NewElevenLabsAdapter(Config{})
	calls := 0
	sub := a.On(EventError, func(Event) { calls++ })

	a.emit(Event{Type: EventError})
	assert.True(t, a.Off(sub))
	assert.False(t, a.Off(sub))
	a.emit(Event{Type: EventError})
	assert.Equal(t, 1, calls)
}
