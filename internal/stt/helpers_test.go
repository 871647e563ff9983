package stt

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// wsServer is an httptest server handing every upgraded connection to the test.
type wsServer struct {
	*httptest.Server

	conns    chan *websocket.Conn
	requests chan *http.Request

	mu  sync.Mutex
	all []*websocket.Conn
}

func newWSServer(t *testing.T, subprotocols ...string) *wsServer {
	t.Helper()
	s := &wsServer{
		conns:    make(chan *websocket.Conn, 8),
		requests: make(chan *http.Request, 8),
	}
	upgrader := websocket.Upgrader{Subprotocols: subprotocols}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.all = append(s.all, conn)
		s.mu.Unlock()
		s.requests <- r
		s.conns <- conn
	}))
	t.Cleanup(func() {
		s.mu.Lock()
		for _, c := range s.all {
			c.Close()
		}
		s.mu.Unlock()
		s.Close()
	})
	return s
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *wsServer) accept(t *testing.T) (*websocket.Conn, *http.Request) {
	t.Helper()
	select {
	case r := <-s.requests:
		return <-s.conns, r
	case <-time.After(2 * time.Second):
		t.Fatal("no websocket connection accepted")
		return nil, nil
	}
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, mt, "expected a text frame, got %q", data)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

// recorder collects adapter events.
type recorder struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func record(a *Adapter, types ...EventType) *recorder {
	r := &recorder{ch: make(chan Event, 256)}
	for _, typ := range types {
		a.On(typ, func(e Event) {
			r.mu.Lock()
			r.events = append(r.events, e)
			r.mu.Unlock()
			r.ch <- e
		})
	}
	return r
}

func allEvents() []EventType {
	return []EventType{
		EventConnectionStateChange, EventTranscriptInterim, EventTranscriptCommitted,
		EventTranscriptFinal, EventWordTiming, EventError, EventTimeout, EventAudioLevel,
	}
}

func (r *recorder) waitFor(t *testing.T, what string, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case e := <-r.ch:
			if match(e) {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
			return Event{}
		}
	}
}

func (r *recorder) waitState(t *testing.T, s ConnectionState) {
	t.Helper()
	r.waitFor(t, "state "+string(s), func(e Event) bool {
		return e.Type == EventConnectionStateChange && e.State == s
	})
}

func (r *recorder) states() []ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ConnectionState
	for _, e := range r.events {
		if e.Type == EventConnectionStateChange {
			out = append(out, e.State)
		}
	}
	return out
}

func (r *recorder) count(typ EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func queryOf(r *http.Request) url.Values { return r.URL.Query() }

func fastConfig(u string) Config {
	return Config{
		URL:                u,
		Token:              "tok_test",
		ConnectTimeout:     2 * time.Second,
		ReconnectBaseDelay: 10 * time.Millisecond,
		ReconnectMaxDelay:  20 * time.Millisecond,
	}
}

// silentListener accepts TCP connections and never answers, so a websocket
// handshake against it can only time out.
func silentListener(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})
	return ln.Addr().String()
}
