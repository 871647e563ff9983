package stt

import (
	"context"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestElevenLabs_HandshakeStartAndAudio(t *testing.T) {
	t.Parallel()
	srv := newWSServer(t)
	cfg := fastConfig(wsURL(srv.Server) + "/v1/speech-to-text/realtime")
	cfg.Language = "de"
	a := NewElevenLabsAdapter(cfg)
	t.Cleanup(a.Dispose)

	require.NoError(t, a.Connect(context.Background()))
	conn, req := srv.accept(t)
	assert.Equal(t, "tok_test", queryOf(req).Get("token"))
	assert.Empty(t, websocket.Subprotocols(req))

	start := readJSON(t, conn)
	assert.Equal(t, "start", start["type"])
	assert.Equal(t, "de", start["language_code"])
	format := start["audio_format"].(map[string]any)
	assert.Equal(t, float64(16000), format["sample_rate"])
	assert.Equal(t, float64(1), format["channels"])
	assert.Equal(t, "pcm_s16le", format["encoding"])

	chunk := []byte{9, 8, 7, 6}
	require.NoError(t, a.SendAudio(chunk))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, mt)
	assert.Equal(t, chunk, data)

	require.NoError(t, a.EndAudio())
	assert.Equal(t, "end_of_audio", readJSON(t, conn)["type"])
}

func TestElevenLabs_TranscriptFlow(t *testing.T) {
	t.Parallel()
	srv := newWSServer(t)
	a := NewElevenLabsAdapter(fastConfig(wsURL(srv.Server)))
	rec := record(a, allEvents()...)
	t.Cleanup(a.Dispose)

	require.NoError(t, a.Connect(context.Background()))
	conn, _ := srv.accept(t)
	readJSON(t, conn)

	writeJSON(t, conn, map[string]any{"type": "transcript", "text": "tower this", "is_final": false})
	rec.waitFor(t, "interim", func(e Event) bool { return e.Type == EventTranscriptInterim })

	writeJSON(t, conn, map[string]any{"type": "word", "text": "tower", "start": 0.1, "end": 0.4})
	writeJSON(t, conn, map[string]any{"type": "word", "text": "tower", "start": 0.1, "end": 0.4})
	writeJSON(t, conn, map[string]any{
		"type":     "transcript",
		"text":     "tower this is alpha one over",
		"is_final": true,
		"words": []map[string]any{
			{"text": "tower", "start": 0.1, "end": 0.4},
			{"word": "this", "start": 0.5, "end": 0.7, "confidence": 0.9},
		},
	})

	final := rec.waitFor(t, "final", func(e Event) bool { return e.Type == EventTranscriptFinal })
	assert.Equal(t, "tower this is alpha one over", final.Text)
	assert.Equal(t, 1, rec.count(EventTranscriptCommitted))

	words := a.Words()
	require.Len(t, words, 2)
	assert.Equal(t, WordTiming{Word: "tower", StartMs: 100, EndMs: 400}, words[0])
	assert.Equal(t, int64(500), words[1].StartMs)
	assert.Equal(t, int64(700), words[1].EndMs)
	assert.Equal(t, StatusCompleted, a.Status())

	st := a.Transcript()
	assert.True(t, st.IsFinal)
	assert.Equal(t, st.Committed, st.Final)
}

func TestElevenLabs_HandleMessage(t *testing.T) {
	t.Parallel()
	p := ElevenLabsProtocol{}

	t.Run("end synthesizes final from committed and interim", func(t *testing.T) {
		tr := NewTracker()
		tr.Commit("ground")
		tr.SetInterim("alpha one")
		events, err := p.HandleMessage(websocket.TextMessage, []byte(`{"type":"end"}`), tr)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "ground alpha one", events[0].Text)
		assert.True(t, tr.State().IsFinal)

		events, _ = p.HandleMessage(websocket.TextMessage, []byte(`{"type":"end"}`), tr)
		assert.Empty(t, events)
	})

	for code, fatal := range map[string]bool{
		"RATE_LIMIT":      false,
		"TEMPORARY_ERROR": false,
		"TIMEOUT":         false,
		"CONNECTION_LOST": false,
		"AUTH_FAILED":     true,
		"":                true,
	} {
		t.Run("error "+code, func(t *testing.T) {
			events, err := p.HandleMessage(websocket.TextMessage, []byte(`{"type":"error","message":"x","code":"`+code+`"}`), NewTracker())
			require.NoError(t, err)
			require.Len(t, events, 1)
			assert.Equal(t, fatal, events[0].Fatal)
		})
	}

	t.Run("binary frames are ignored", func(t *testing.T) {
		events, err := p.HandleMessage(websocket.BinaryMessage, []byte{1, 2}, NewTracker())
		assert.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("filler words are counted live", func(t *testing.T) {
		tr := NewTracker()
		p.HandleMessage(websocket.TextMessage, []byte(`{"type":"word","text":"umm","start":0,"end":0.2}`), tr)
		events, _ := p.HandleMessage(websocket.TextMessage, []byte(`{"type":"word","word":"tower","start":0.3,"end":0.6}`), tr)
		require.Len(t, events, 1)
		assert.Equal(t, 1, events[0].FillerCount)
		assert.Equal(t, 1, tr.FillerCount())
	})
}
