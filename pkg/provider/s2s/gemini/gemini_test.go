package gemini_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/mentara/pkg/provider/s2s"
	"github.com/MrWong99/mentara/pkg/provider/s2s/gemini"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startGeminiServer launches a test WebSocket server. The handler function
// receives the accepted *websocket.Conn. The server is automatically closed
// when the test finishes.
func startGeminiServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("readJSON: %v", err)
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Errorf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// sendSetupComplete sends the server-side setupComplete ack.
func sendSetupComplete(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
}

// acceptAndIdle consumes the setup, acknowledges it and waits for the client
// to go away.
func acceptAndIdle(t *testing.T) func(*websocket.Conn, *http.Request) {
	return func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	}
}

// newProvider creates a Provider pointing at the given test server.
func newProvider(srv *httptest.Server) *gemini.Provider {
	return gemini.New("test-api-key", gemini.WithBaseURL(wsURL(srv)))
}

// connect opens a session against srv and registers cleanup.
func connect(t *testing.T, srv *httptest.Server, cfg s2s.SessionConfig) s2s.SessionHandle {
	t.Helper()
	handle, err := newProvider(srv).Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { handle.Close() })
	return handle
}

// nextEvent waits for one event.
func nextEvent(t *testing.T, h s2s.SessionHandle) s2s.Event {
	t.Helper()
	select {
	case ev, ok := <-h.Events():
		if !ok {
			t.Fatal("Events channel closed unexpectedly")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return s2s.Event{}
}

// ── Option constructor tests ───────────────────────────────────────────────────

func TestWithModel_SetsModel(t *testing.T) {
	t.Parallel()

	modelCh := make(chan string, 1)

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg struct {
			Setup struct {
				Model string `json:"model"`
			} `json:"setup"`
		}
		readJSON(t, conn, &msg)
		modelCh <- msg.Setup.Model
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := gemini.New("key", gemini.WithModel("custom-model"), gemini.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	if model := <-modelCh; model != "models/custom-model" {
		t.Errorf("model = %q; want models/custom-model", model)
	}
}

func TestCapabilities_NonEmpty(t *testing.T) {
	t.Parallel()
	caps := gemini.New("key").Capabilities()
	if caps.OutputSampleRate != 24000 {
		t.Errorf("OutputSampleRate = %d, want 24000", caps.OutputSampleRate)
	}
	if len(caps.Voices) == 0 {
		t.Error("Voices should be non-empty")
	}
}

// ── Connect ───────────────────────────────────────────────────────────────────

func TestConnect_SendsSetup(t *testing.T) {
	t.Parallel()

	type setupMsg struct {
		Setup struct {
			Model            string `json:"model"`
			GenerationConfig struct {
				ResponseModalities []string `json:"responseModalities"`
				SpeechConfig       *struct {
					VoiceConfig struct {
						PrebuiltVoiceConfig struct {
							VoiceName string `json:"voiceName"`
						} `json:"prebuiltVoiceConfig"`
					} `json:"voiceConfig"`
				} `json:"speechConfig"`
			} `json:"generationConfig"`
			SystemInstruction *struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"systemInstruction"`
			OutputAudioTranscription *map[string]any `json:"outputAudioTranscription"`
			InputAudioTranscription  *map[string]any `json:"inputAudioTranscription"`
		} `json:"setup"`
	}

	received := make(chan setupMsg, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg setupMsg
		readJSON(t, conn, &msg)
		received <- msg
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	connect(t, srv, s2s.SessionConfig{
		Instructions:  "Kamu adalah Mentara.",
		Voice:         "Kore",
		Modality:      s2s.ModalityAudio,
		Transcription: true,
	})

	msg := <-received
	if !strings.HasPrefix(msg.Setup.Model, "models/") {
		t.Errorf("model %q should start with 'models/'", msg.Setup.Model)
	}
	if got := msg.Setup.GenerationConfig.ResponseModalities; len(got) != 1 || got[0] != "audio" {
		t.Errorf("responseModalities = %v, want [audio]", got)
	}
	if sc := msg.Setup.GenerationConfig.SpeechConfig; sc == nil || sc.VoiceConfig.PrebuiltVoiceConfig.VoiceName != "Kore" {
		t.Errorf("speechConfig = %+v, want voice Kore", sc)
	}
	if si := msg.Setup.SystemInstruction; si == nil || len(si.Parts) == 0 || si.Parts[0].Text != "Kamu adalah Mentara." {
		t.Errorf("systemInstruction = %+v", si)
	}
	if msg.Setup.OutputAudioTranscription == nil {
		t.Error("outputAudioTranscription should be present")
	}
	if msg.Setup.InputAudioTranscription != nil {
		t.Error("inputAudioTranscription should be absent")
	}
}

func TestConnect_DefaultVoice(t *testing.T) {
	t.Parallel()

	voice := make(chan string, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg struct {
			Setup struct {
				GenerationConfig struct {
					SpeechConfig *struct {
						VoiceConfig struct {
							PrebuiltVoiceConfig struct {
								VoiceName string `json:"voiceName"`
							} `json:"prebuiltVoiceConfig"`
						} `json:"voiceConfig"`
					} `json:"speechConfig"`
				} `json:"generationConfig"`
			} `json:"setup"`
		}
		readJSON(t, conn, &msg)
		if sc := msg.Setup.GenerationConfig.SpeechConfig; sc != nil {
			voice <- sc.VoiceConfig.PrebuiltVoiceConfig.VoiceName
		} else {
			voice <- ""
		}
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	connect(t, srv, s2s.SessionConfig{Instructions: "Kamu adalah Mentara."})

	if got := <-voice; got != gemini.DefaultVoice {
		t.Errorf("voiceName = %q, want %q", got, gemini.DefaultVoice)
	}
	if gemini.DefaultVoice != "Kore" {
		t.Errorf("DefaultVoice = %q, want Kore", gemini.DefaultVoice)
	}
}

func TestConnect_IncludesAPIKeyInURL(t *testing.T) {
	t.Parallel()

	query := make(chan string, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, r *http.Request) {
		query <- r.URL.RawQuery
		acceptAndIdle(t)(conn, r)
	})

	p := gemini.New("secret-key", gemini.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	if q := <-query; !strings.Contains(q, "key=secret-key") {
		t.Errorf("URL query %q should contain key=secret-key", q)
	}
}

func TestConnect_WaitsForSetupComplete(t *testing.T) {
	t.Parallel()

	acked := make(chan time.Time, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		time.Sleep(150 * time.Millisecond)
		acked <- time.Now()
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connect(t, srv, s2s.SessionConfig{})
	returned := time.Now()
	if ackAt := <-acked; returned.Before(ackAt) {
		t.Error("Connect returned before the server acknowledged the setup")
	}
	if handle == nil {
		t.Fatal("nil handle")
	}
}

func TestConnect_HandshakeRejected(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		writeJSON(t, conn, map[string]any{
			"error": map[string]any{"code": 403, "message": "API key not valid"},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	_, err := newProvider(srv).Connect(context.Background(), s2s.SessionConfig{})
	if !errors.Is(err, s2s.ErrHandshakeRejected) {
		t.Fatalf("err = %v, want ErrHandshakeRejected", err)
	}
	if !strings.Contains(err.Error(), "API key not valid") {
		t.Errorf("error %q should carry the server message", err)
	}
}

func TestConnect_ClosedBeforeSetupComplete(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		conn.Close(websocket.StatusPolicyViolation, "invalid model")
	})

	_, err := newProvider(srv).Connect(context.Background(), s2s.SessionConfig{})
	if !errors.Is(err, s2s.ErrHandshakeRejected) {
		t.Fatalf("err = %v, want ErrHandshakeRejected", err)
	}
}

func TestConnect_HandshakeTimeout(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := newProvider(srv).Connect(ctx, s2s.SessionConfig{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestConnect_DialFailure(t *testing.T) {
	t.Parallel()
	p := gemini.New("key", gemini.WithBaseURL("ws://127.0.0.1:1"))
	if _, err := p.Connect(context.Background(), s2s.SessionConfig{}); err == nil {
		t.Fatal("expected dial error")
	}
}

// ── SendAudio ─────────────────────────────────────────────────────────────────

func TestSendAudio_EncodesAndSends(t *testing.T) {
	t.Parallel()

	type realtimeInput struct {
		RealtimeInput struct {
			MediaChunks []struct {
				MIMEType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"mediaChunks"`
		} `json:"realtimeInput"`
	}

	audioMsg := make(chan realtimeInput, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		var msg realtimeInput
		readJSON(t, conn, &msg)
		audioMsg <- msg

		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connect(t, srv, s2s.SessionConfig{InputSampleRate: 16000})

	wantPCM := []byte{0x01, 0x02, 0x03, 0x04}
	if err := handle.SendAudio(wantPCM); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case msg := <-audioMsg:
		chunks := msg.RealtimeInput.MediaChunks
		if len(chunks) == 0 {
			t.Fatal("no media chunks in realtimeInput")
		}
		if chunks[0].MIMEType != "audio/pcm;rate=16000" {
			t.Errorf("mimeType = %q; want audio/pcm;rate=16000", chunks[0].MIMEType)
		}
		got, err := base64.StdEncoding.DecodeString(chunks[0].Data)
		if err != nil {
			t.Fatalf("base64 decode: %v", err)
		}
		if string(got) != string(wantPCM) {
			t.Errorf("decoded audio = %v; want %v", got, wantPCM)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for audio message")
	}
}

func TestSendAudio_AfterClose_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, acceptAndIdle(t))
	handle := connect(t, srv, s2s.SessionConfig{})
	if err := handle.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := handle.SendAudio([]byte{1, 2}); !errors.Is(err, s2s.ErrSessionClosed) {
		t.Fatalf("SendAudio after Close = %v, want ErrSessionClosed", err)
	}
}

// ── Events ────────────────────────────────────────────────────────────────────

func TestEvents_AudioStaysEncoded(t *testing.T) {
	t.Parallel()

	encoded := base64.StdEncoding.EncodeToString([]byte{0xAA, 0xBB, 0xCC, 0xDD})
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []map[string]any{
						{"text": "thinking about a reply", "thought": true},
						{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": encoded}},
					},
				},
			},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connect(t, srv, s2s.SessionConfig{})
	ev := nextEvent(t, handle)
	if ev.Type != s2s.EventAudio {
		t.Fatalf("event type = %v, want audio", ev.Type)
	}
	if ev.Audio.Data != encoded || ev.Audio.SampleRate != 24000 {
		t.Errorf("fragment = %+v", ev.Audio)
	}
}

func TestEvents_ArrivalOrder(t *testing.T) {
	t.Parallel()

	encoded := base64.StdEncoding.EncodeToString([]byte{1, 0})
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{
			"inputTranscription": map[string]any{"text": "aku capek"},
		}})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{
			"modelTurn": map[string]any{"parts": []map[string]any{
				{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": encoded}},
			}},
			"outputTranscription": map[string]any{"text": "Aku di sini."},
		}})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"interrupted": true}})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"turnComplete": true}})
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connect(t, srv, s2s.SessionConfig{})

	want := []s2s.Event{
		{Type: s2s.EventTranscript, Speaker: s2s.SpeakerUser, Text: "aku capek"},
		{Type: s2s.EventAudio},
		{Type: s2s.EventTranscript, Speaker: s2s.SpeakerAgent, Text: "Aku di sini."},
		{Type: s2s.EventInterrupted},
		{Type: s2s.EventTurnComplete},
	}
	for i, w := range want {
		got := nextEvent(t, handle)
		if got.Type != w.Type || got.Speaker != w.Speaker || got.Text != w.Text {
			t.Errorf("event %d = %+v, want %+v", i, got, w)
		}
	}
}

func TestEvents_RemoteCloseEndsStream(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		// Returning closes the connection normally.
	})

	handle := connect(t, srv, s2s.SessionConfig{})
	select {
	case _, open := <-handle.Events():
		if open {
			t.Fatal("expected Events to close")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for Events to close")
	}
	if err := handle.Err(); !errors.Is(err, s2s.ErrRemoteClosed) {
		t.Errorf("Err = %v, want ErrRemoteClosed", err)
	}
}

func TestEvents_ServerErrorEndsStream(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		writeJSON(t, conn, map[string]any{"error": map[string]any{"code": 500, "message": "internal"}})
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connect(t, srv, s2s.SessionConfig{})
	for range handle.Events() {
	}
	err := handle.Err()
	if !errors.Is(err, s2s.ErrRemoteClosed) || !strings.Contains(err.Error(), "internal") {
		t.Errorf("Err = %v, want ErrRemoteClosed carrying the message", err)
	}
}

// ── Close ─────────────────────────────────────────────────────────────────────

func TestClose_IdempotentAndClosesEvents(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, acceptAndIdle(t))
	handle := connect(t, srv, s2s.SessionConfig{})

	if err := handle.Close(); err != nil {
		t.Fatalf("first Close() returned error: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("second Close() returned error: %v", err)
	}

	select {
	case _, open := <-handle.Events():
		if open {
			t.Error("Events channel should be closed after Close()")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for Events channel to close")
	}
	if err := handle.Err(); err != nil {
		t.Errorf("Err after local Close = %v, want nil", err)
	}
}
