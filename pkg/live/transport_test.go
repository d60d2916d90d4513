package live

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-live/pkg/codec"
	"github.com/teslashibe/go-live/pkg/transcript"
)

var upgrader = websocket.Upgrader{}

// fakeServer runs script for every connection and records the query key.
func fakeServer(t *testing.T, script func(conn *websocket.Conn)) (string, <-chan string) {
	t.Helper()
	keys := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys <- r.URL.Query().Get("key")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		script(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), keys
}

func readJSON(conn *websocket.Conn) (map[string]any, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var msg map[string]any
	err = json.Unmarshal(data, &msg)
	return msg, err
}

func writeJSON(conn *websocket.Conn, s string) {
	_ = conn.WriteMessage(websocket.TextMessage, []byte(s))
}

func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// handshake reads the setup message and acknowledges it.
func handshake(conn *websocket.Conn) map[string]any {
	setup, err := readJSON(conn)
	if err != nil {
		return nil
	}
	writeJSON(conn, `{"setupComplete":{}}`)
	return setup
}

func newTestTransport(t *testing.T, url string, opts ...Option) *Transport {
	t.Helper()
	opts = append([]Option{WithURL(url), WithAPIKey("test-key")}, opts...)
	tr, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func nextEvent(t *testing.T, tr *Transport) Event {
	t.Helper()
	select {
	case ev, ok := <-tr.Events():
		require.True(t, ok, "events channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func testSetup() Setup {
	return Setup{
		Model:               "models/gemini-test",
		Voice:               "Puck",
		SystemInstruction:   "be brief",
		Tools:               []FunctionDeclaration{{Name: "generate_code", Description: "writes code"}},
		InputTranscription:  true,
		OutputTranscription: true,
	}
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New()
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestTransport_SetupAndReady(t *testing.T) {
	setups := make(chan map[string]any, 1)
	url, keys := fakeServer(t, func(conn *websocket.Conn) {
		setups <- handshake(conn)
		drain(conn)
	})

	tr := newTestTransport(t, url)
	require.NoError(t, tr.Open(context.Background(), testSetup()))

	ev := nextEvent(t, tr)
	assert.Equal(t, EventReady, ev.Kind)
	assert.Equal(t, "test-key", <-keys)

	msg := <-setups
	require.Contains(t, msg, "setup")
	setup := msg["setup"].(map[string]any)
	assert.Equal(t, "models/gemini-test", setup["model"])
	gen := setup["generationConfig"].(map[string]any)
	assert.Equal(t, []any{"AUDIO"}, gen["responseModalities"])
	voice := gen["speechConfig"].(map[string]any)["voiceConfig"].(map[string]any)["prebuiltVoiceConfig"].(map[string]any)
	assert.Equal(t, "Puck", voice["voiceName"])
	assert.Contains(t, setup, "inputAudioTranscription")
	assert.Contains(t, setup, "outputAudioTranscription")
	tools := setup["tools"].([]any)
	require.Len(t, tools, 1)
	decls := tools[0].(map[string]any)["functionDeclarations"].([]any)
	assert.Equal(t, "generate_code", decls[0].(map[string]any)["name"])

	select {
	case <-tr.Ready():
	default:
		t.Fatal("ready not closed")
	}
}

func TestTransport_QueuesUntilReady(t *testing.T) {
	release := make(chan struct{})
	got := make(chan map[string]any, 8)
	url, _ := fakeServer(t, func(conn *websocket.Conn) {
		if _, err := readJSON(conn); err != nil {
			return
		}
		<-release
		writeJSON(conn, `{"setupComplete":{}}`)
		for {
			msg, err := readJSON(conn)
			if err != nil {
				return
			}
			got <- msg
		}
	})

	tr := newTestTransport(t, url)
	require.NoError(t, tr.Open(context.Background(), testSetup()))

	require.NoError(t, tr.SendAudio(codec.WireChunk{MIMEType: codec.MIMEType(16000), Data: "AAA="}))
	require.NoError(t, tr.SendControl(context.Background(), Control{Text: "hello", TurnComplete: true}))
	close(release)

	assert.Equal(t, EventReady, nextEvent(t, tr).Kind)

	kinds := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case msg := <-got:
			for k := range msg {
				kinds[k] = true
			}
		case <-time.After(2 * time.Second):
			t.Fatal("queued message not flushed")
		}
	}
	assert.True(t, kinds["realtimeInput"])
	assert.True(t, kinds["clientContent"])

	st := tr.Stats()
	assert.Equal(t, int64(1), st.AudioSent)
	assert.Equal(t, int64(1), st.ControlSent)
}

func TestTransport_AudioDropsOldest(t *testing.T) {
	release := make(chan struct{})
	got := make(chan string, 8)
	url, _ := fakeServer(t, func(conn *websocket.Conn) {
		if _, err := readJSON(conn); err != nil {
			return
		}
		<-release
		writeJSON(conn, `{"setupComplete":{}}`)
		for {
			msg, err := readJSON(conn)
			if err != nil {
				return
			}
			ri := msg["realtimeInput"].(map[string]any)
			chunk := ri["mediaChunks"].([]any)[0].(map[string]any)
			got <- chunk["data"].(string)
		}
	})

	tr := newTestTransport(t, url, WithAudioQueue(2))
	require.NoError(t, tr.Open(context.Background(), testSetup()))

	for _, d := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, tr.SendAudio(codec.WireChunk{MIMEType: codec.MIMEType(16000), Data: d}))
	}
	assert.Equal(t, int64(3), tr.Stats().AudioDropped)
	close(release)

	assert.Equal(t, "d", <-got)
	assert.Equal(t, "e", <-got)
}

func TestTransport_EventOrderAndTranscripts(t *testing.T) {
	url, _ := fakeServer(t, func(conn *websocket.Conn) {
		handshake(conn)
		writeJSON(conn, `{"serverContent":{
			"inputTranscription":{"text":"what is"},
			"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"AAAA"}}]},
			"outputTranscription":{"text":"Hel"}}}`)
		writeJSON(conn, `{"serverContent":{"outputTranscription":{"text":"lo"},"turnComplete":true}}`)
		writeJSON(conn, `{"serverContent":{"outputTranscription":{"text":"Again"}}}`)
		drain(conn)
	})

	tr := newTestTransport(t, url)
	require.NoError(t, tr.Open(context.Background(), testSetup()))
	require.Equal(t, EventReady, nextEvent(t, tr).Kind)

	ev := nextEvent(t, tr)
	assert.Equal(t, EventTranscript, ev.Kind)
	assert.Equal(t, transcript.Local, ev.Speaker)
	assert.Equal(t, "what is", ev.Text)

	ev = nextEvent(t, tr)
	assert.Equal(t, EventAudio, ev.Kind)
	assert.Equal(t, "AAAA", ev.Audio.Data)

	ev = nextEvent(t, tr)
	assert.Equal(t, EventTranscript, ev.Kind)
	assert.Equal(t, transcript.Remote, ev.Speaker)
	assert.Equal(t, "Hel", ev.Text)

	ev = nextEvent(t, tr)
	assert.Equal(t, "Hello", ev.Text)

	assert.Equal(t, EventTurnComplete, nextEvent(t, tr).Kind)

	ev = nextEvent(t, tr)
	assert.Equal(t, "Again", ev.Text, "new turn starts a new running transcript")
}

func TestTransport_InterruptedComesFirst(t *testing.T) {
	url, _ := fakeServer(t, func(conn *websocket.Conn) {
		handshake(conn)
		writeJSON(conn, `{"serverContent":{"interrupted":true,"inputTranscription":{"text":"stop"}}}`)
		drain(conn)
	})

	tr := newTestTransport(t, url)
	require.NoError(t, tr.Open(context.Background(), testSetup()))
	require.Equal(t, EventReady, nextEvent(t, tr).Kind)

	assert.Equal(t, EventInterrupted, nextEvent(t, tr).Kind)
	assert.Equal(t, EventTranscript, nextEvent(t, tr).Kind)
}

func TestTransport_ToolCallRoundTrip(t *testing.T) {
	responses := make(chan map[string]any, 1)
	url, _ := fakeServer(t, func(conn *websocket.Conn) {
		handshake(conn)
		writeJSON(conn, `{"toolCall":{"functionCalls":[{"id":"abc","name":"generate_code","args":{"description":"fizzbuzz"}}]}}`)
		msg, err := readJSON(conn)
		if err != nil {
			return
		}
		responses <- msg
		drain(conn)
	})

	tr := newTestTransport(t, url)
	require.NoError(t, tr.Open(context.Background(), testSetup()))
	require.Equal(t, EventReady, nextEvent(t, tr).Kind)

	ev := nextEvent(t, tr)
	require.Equal(t, EventToolCall, ev.Kind)
	require.Len(t, ev.Calls, 1)
	assert.Equal(t, "abc", ev.Calls[0].ID)
	assert.Equal(t, "fizzbuzz", ev.Calls[0].Args["description"])

	require.NoError(t, tr.SendToolResponse(context.Background(), FunctionResponse{
		ID:       "abc",
		Name:     "generate_code",
		Response: map[string]any{"result": "ok"},
	}))

	select {
	case msg := <-responses:
		fr := msg["toolResponse"].(map[string]any)["functionResponses"].([]any)[0].(map[string]any)
		assert.Equal(t, "abc", fr["id"])
		assert.Equal(t, "ok", fr["response"].(map[string]any)["result"])
	case <-time.After(2 * time.Second):
		t.Fatal("tool response not received")
	}
	assert.Equal(t, int64(1), tr.Stats().ToolResponsesSent)
}

func TestTransport_CancellationAndGoAway(t *testing.T) {
	url, _ := fakeServer(t, func(conn *websocket.Conn) {
		handshake(conn)
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte(`{"toolCallCancellation":{"ids":["a","b"]}}`))
		writeJSON(conn, `{"goAway":{"timeLeft":"5s"}}`)
		drain(conn)
	})

	tr := newTestTransport(t, url)
	require.NoError(t, tr.Open(context.Background(), testSetup()))
	require.Equal(t, EventReady, nextEvent(t, tr).Kind)

	ev := nextEvent(t, tr)
	assert.Equal(t, EventToolCancel, ev.Kind)
	assert.Equal(t, []string{"a", "b"}, ev.IDs)

	ev = nextEvent(t, tr)
	assert.Equal(t, EventGoAway, ev.Kind)
	assert.Equal(t, 5*time.Second, ev.TimeLeft)
}

func TestTransport_MalformedMessageIsFatal(t *testing.T) {
	url, _ := fakeServer(t, func(conn *websocket.Conn) {
		handshake(conn)
		writeJSON(conn, `{not json`)
		drain(conn)
	})

	tr := newTestTransport(t, url)
	require.NoError(t, tr.Open(context.Background(), testSetup()))
	require.Equal(t, EventReady, nextEvent(t, tr).Kind)

	ev := nextEvent(t, tr)
	require.Equal(t, EventClosed, ev.Kind)
	var te *TransportError
	require.True(t, errors.As(ev.Err, &te))
	assert.Equal(t, "decode", te.Op)

	_, ok := <-tr.Events()
	assert.False(t, ok)
	assert.ErrorIs(t, tr.SendAudio(codec.WireChunk{Data: "x"}), ErrSessionClosed)
}

func TestTransport_RemoteClose(t *testing.T) {
	url, _ := fakeServer(t, func(conn *websocket.Conn) {
		handshake(conn)
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	})

	tr := newTestTransport(t, url)
	require.NoError(t, tr.Open(context.Background(), testSetup()))
	require.Equal(t, EventReady, nextEvent(t, tr).Kind)

	ev := nextEvent(t, tr)
	require.Equal(t, EventClosed, ev.Kind)
	var te *TransportError
	require.True(t, errors.As(ev.Err, &te))
	assert.Equal(t, "remote_close", te.Op)
	assert.Equal(t, websocket.CloseGoingAway, te.Code)
}

func TestTransport_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	tr := newTestTransport(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
	err := tr.Open(context.Background(), testSetup())
	require.Error(t, err)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "dial", te.Op)
	assert.Equal(t, http.StatusForbidden, te.Code)

	ev := nextEvent(t, tr)
	assert.Equal(t, EventClosed, ev.Kind)
	assert.True(t, IsTransportError(ev.Err))
}

// hookDialer runs before on every dial, then dials for real.
type hookDialer struct {
	before func()
}

func (d hookDialer) DialContext(ctx context.Context, urlStr string, h http.Header) (*websocket.Conn, *http.Response, error) {
	d.before()
	return websocket.DefaultDialer.DialContext(ctx, urlStr, h)
}

// waitEventsClosed drains events until the channel closes.
func waitEventsClosed(t *testing.T, tr *Transport) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-tr.Events():
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("events channel not closed")
		}
	}
}

func TestTransport_CloseDuringDial(t *testing.T) {
	url, _ := fakeServer(t, func(conn *websocket.Conn) {
		handshake(conn)
		drain(conn)
	})

	dialing := make(chan struct{})
	proceed := make(chan struct{})
	tr := newTestTransport(t, url, WithDialer(hookDialer{before: func() {
		close(dialing)
		<-proceed
	}}))

	errc := make(chan error, 1)
	go func() { errc <- tr.Open(context.Background(), testSetup()) }()

	<-dialing
	require.NoError(t, tr.Close())
	close(proceed)

	assert.ErrorIs(t, <-errc, ErrSessionClosed)
	waitEventsClosed(t, tr)
}

func TestTransport_CloseRacingDialCompletion(t *testing.T) {
	url, _ := fakeServer(t, func(conn *websocket.Conn) {
		handshake(conn)
		drain(conn)
	})

	for i := 0; i < 50; i++ {
		var tr *Transport
		closed := make(chan struct{})
		tr = newTestTransport(t, url, WithDialer(hookDialer{before: func() {
			go func() {
				tr.Close()
				close(closed)
			}()
		}}))

		err := tr.Open(context.Background(), testSetup())
		if err != nil {
			require.ErrorIs(t, err, ErrSessionClosed)
		}
		<-closed
		waitEventsClosed(t, tr)
	}
}

func TestTransport_SendStates(t *testing.T) {
	url, _ := fakeServer(t, func(conn *websocket.Conn) {
		handshake(conn)
		drain(conn)
	})

	tr := newTestTransport(t, url)
	assert.ErrorIs(t, tr.SendAudio(codec.WireChunk{Data: "x"}), ErrNotReady)
	assert.ErrorIs(t, tr.SendControl(context.Background(), Control{TurnComplete: true}), ErrNotReady)

	require.NoError(t, tr.Open(context.Background(), testSetup()))
	assert.ErrorIs(t, tr.Open(context.Background(), testSetup()), ErrAlreadyOpen)
	require.Equal(t, EventReady, nextEvent(t, tr).Kind)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	ev := nextEvent(t, tr)
	assert.Equal(t, EventClosed, ev.Kind)
	assert.NoError(t, ev.Err)
	assert.ErrorIs(t, tr.SendToolResponse(context.Background(), FunctionResponse{ID: "x"}), ErrSessionClosed)
}

func TestTransport_CloseReleasesBlockedSender(t *testing.T) {
	release := make(chan struct{})
	url, _ := fakeServer(t, func(conn *websocket.Conn) {
		if _, err := readJSON(conn); err != nil {
			return
		}
		<-release
	})
	defer close(release)

	tr := newTestTransport(t, url, WithControlQueue(1))
	require.NoError(t, tr.Open(context.Background(), testSetup()))
	require.NoError(t, tr.SendControl(context.Background(), Control{Text: "one"}))

	errc := make(chan error, 1)
	go func() {
		errc <- tr.SendControl(context.Background(), Control{Text: "two"})
	}()

	select {
	case err := <-errc:
		t.Fatalf("send should block on a full queue, got %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, tr.Close())
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrSessionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked sender not released")
	}
}

func TestTransport_SendControlHonoursContext(t *testing.T) {
	release := make(chan struct{})
	url, _ := fakeServer(t, func(conn *websocket.Conn) {
		if _, err := readJSON(conn); err != nil {
			return
		}
		<-release
	})
	defer close(release)

	tr := newTestTransport(t, url, WithControlQueue(1))
	require.NoError(t, tr.Open(context.Background(), testSetup()))
	require.NoError(t, tr.SendControl(context.Background(), Control{Text: "one"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tr.SendControl(ctx, Control{Text: "two"}), context.DeadlineExceeded)
}

func TestEventKind_String(t *testing.T) {
	assert.Equal(t, "tool_call", EventToolCall.String())
	assert.Equal(t, "closed", EventClosed.String())
	assert.Equal(t, "unknown", EventKind(99).String())
}

func TestBuildControl(t *testing.T) {
	b, err := json.Marshal(buildControl(Control{AudioStreamEnd: true}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"realtimeInput":{"audioStreamEnd":true}}`, string(b))

	b, err = json.Marshal(buildControl(Control{Text: "hi", TurnComplete: true}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"clientContent":{"turns":[{"role":"user","parts":[{"text":"hi"}]}],"turnComplete":true}}`, string(b))
}
