package live

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"jobm8/encoder"
	"jobm8/live/livetest"
	"jobm8/moderation"
	"jobm8/transcript"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	closes []error
	closed chan struct{}
	once   sync.Once
}

func newRecorder() *recorder { return &recorder{closed: make(chan struct{})} }

func (r *recorder) HandleEvent(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) HandleClose(err error) {
	r.mu.Lock()
	r.closes = append(r.closes, err)
	r.mu.Unlock()
	r.once.Do(func() { close(r.closed) })
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) waitEvents(t *testing.T, n int) []Event {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.snapshot()) >= n }, 2*time.Second, 5*time.Millisecond)
	return r.snapshot()
}

func (r *recorder) waitClose(t *testing.T) error {
	t.Helper()
	select {
	case <-r.closed:
	case <-time.After(3 * time.Second):
		t.Fatal("HandleClose not called")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closes[0]
}

func openTest(t *testing.T, srv *livetest.Server) (*Conn, *livetest.Conn, *recorder) {
	t.Helper()
	rec := newRecorder()
	client := NewClient(Config{APIKey: "test-key", Endpoint: srv.URL()})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := client.Open(ctx, NewSetup("", "", "en-US", "Go developer, 5 years", "Backend engineer"), rec)
	require.NoError(t, err)
	sc := srv.Accept(time.Second)
	require.NotNil(t, sc)
	t.Cleanup(func() { conn.Close() })
	return conn, sc, rec
}

// =============================================================================
// Open
// =============================================================================

func TestOpenSendsSetup(t *testing.T) {
	srv := livetest.NewServer()
	srv.APIKey = "test-key"
	defer srv.Close()

	_, sc, _ := openTest(t, srv)

	assert.Equal(t, "models/"+DefaultModel, sc.Setup.Model)
	require.NotNil(t, sc.Setup.SystemInstruction)
	require.NotEmpty(t, sc.Setup.SystemInstruction.Parts)
	instr := sc.Setup.SystemInstruction.Parts[0].Text
	assert.Contains(t, instr, "Go developer, 5 years")
	assert.Contains(t, instr, "Backend engineer")

	require.Len(t, sc.Setup.Tools, 1)
	require.Len(t, sc.Setup.Tools[0].FunctionDeclarations, 1)
	assert.Equal(t, moderation.ToolName, sc.Setup.Tools[0].FunctionDeclarations[0].Name)

	require.NotNil(t, sc.Setup.GenerationConfig)
	assert.Equal(t, []genai.Modality{genai.ModalityAudio}, sc.Setup.GenerationConfig.ResponseModalities)
	assert.Equal(t, DefaultVoice, sc.Setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName)
	assert.NotNil(t, sc.Setup.InputAudioTranscription)
	assert.NotNil(t, sc.Setup.OutputAudioTranscription)

	opening, ok := sc.NextContent(time.Second)
	require.True(t, ok, "opening turn")
	assert.True(t, opening.TurnComplete)
}

func TestOpenRejectedKey(t *testing.T) {
	srv := livetest.NewServer()
	srv.APIKey = "right"
	defer srv.Close()

	client := NewClient(Config{APIKey: "wrong", Endpoint: srv.URL()})
	_, err := client.Open(context.Background(), Setup{}, newRecorder())
	require.Error(t, err)
	assert.ErrorIs(t, err, websocket.ErrBadHandshake)
}

func TestOpenTimesOutWithoutSetupComplete(t *testing.T) {
	srv := livetest.NewServer()
	srv.SkipSetupComplete = true
	defer srv.Close()

	client := NewClient(Config{Endpoint: srv.URL()})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := client.Open(ctx, Setup{}, newRecorder())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// =============================================================================
// Outbound
// =============================================================================

func TestSendAudioPreservesOrder(t *testing.T) {
	srv := livetest.NewServer()
	defer srv.Close()
	conn, sc, _ := openTest(t, srv)

	enc, err := encoder.NewFrameEncoder(encoder.SampleRate)
	require.NoError(t, err)
	var want []string
	for i := 0; i < 20; i++ {
		frame := make([]byte, 320)
		frame[0] = byte(i)
		chunk, err := enc.Encode(frame)
		require.NoError(t, err)
		want = append(want, chunk.Data)
		require.True(t, conn.SendAudio(chunk))
	}

	for i, data := range want {
		got, ok := sc.NextAudio(time.Second)
		require.True(t, ok, "chunk %d", i)
		assert.Equal(t, encoder.MIMEType, got.MIMEType)
		assert.Equal(t, data, got.Data, "chunk %d out of order", i)
	}
	assert.Equal(t, 20, conn.Stats().SentChunks)
}

func TestSendAfterCloseIsDropped(t *testing.T) {
	srv := livetest.NewServer()
	defer srv.Close()
	conn, _, _ := openTest(t, srv)

	require.NoError(t, conn.Close())
	assert.False(t, conn.SendAudio(encoder.Chunk{MIMEType: encoder.MIMEType, Data: "AAAA"}))
	assert.ErrorIs(t, conn.SendToolResponse(&genai.FunctionResponse{ID: "x"}), ErrNotOpen)
}

func TestSendToolResponse(t *testing.T) {
	srv := livetest.NewServer()
	defer srv.Close()
	conn, sc, _ := openTest(t, srv)

	err := conn.SendToolResponse(&genai.FunctionResponse{
		ID:       "call-1",
		Name:     moderation.ToolName,
		Response: map[string]any{"output": "ok"},
	})
	require.NoError(t, err)

	ack, ok := sc.NextAck(time.Second)
	require.True(t, ok)
	assert.Equal(t, "call-1", ack.ID)
	assert.Equal(t, moderation.ToolName, ack.Name)
}

// =============================================================================
// Inbound
// =============================================================================

func TestInboundEventsInOrder(t *testing.T) {
	srv := livetest.NewServer()
	defer srv.Close()
	_, sc, rec := openTest(t, srv)

	require.NoError(t, sc.SendInputTranscript("I led "))
	require.NoError(t, sc.SendOutputTranscript("Tell me"))
	require.NoError(t, sc.SendAudio([]int16{1, 2, 3}))
	require.NoError(t, sc.SendToolCall("c1", moderation.ToolName, "EVASIVE"))
	require.NoError(t, sc.SendInterrupted())
	require.NoError(t, sc.SendTurnComplete())

	events := rec.waitEvents(t, 6)
	require.Len(t, events, 6)
	assert.Equal(t, Transcript{Speaker: transcript.User, Text: "I led "}, events[0])
	assert.Equal(t, Transcript{Speaker: transcript.Agent, Text: "Tell me"}, events[1])
	audio, ok := events[2].(Audio)
	require.True(t, ok)
	assert.Equal(t, "audio/pcm;rate=24000", audio.MIMEType)
	assert.Equal(t, livetest.EncodePCM([]int16{1, 2, 3}), audio.Data)
	tc, ok := events[3].(ToolCall)
	require.True(t, ok)
	require.Len(t, tc.Calls, 1)
	assert.Equal(t, "c1", tc.Calls[0].ID)
	assert.Equal(t, "EVASIVE", tc.Calls[0].Args["reasonCode"])
	assert.IsType(t, Interrupted{}, events[4])
	assert.IsType(t, TurnComplete{}, events[5])
}

func TestRemoteNormalCloseReportsNil(t *testing.T) {
	srv := livetest.NewServer()
	defer srv.Close()
	conn, sc, rec := openTest(t, srv)

	sc.CloseWith(websocket.CloseNormalClosure, "bye")
	assert.NoError(t, rec.waitClose(t))
	<-conn.Done()
	assert.False(t, conn.SendAudio(encoder.Chunk{Data: "AAAA"}))
}

func TestRemoteErrorCloseReportsError(t *testing.T) {
	srv := livetest.NewServer()
	defer srv.Close()
	_, sc, rec := openTest(t, srv)

	sc.CloseWith(websocket.CloseInternalServerErr, "boom")
	err := rec.waitClose(t)
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.CloseInternalServerErr, ce.Code)
}

func TestAbruptDropReportsError(t *testing.T) {
	srv := livetest.NewServer()
	defer srv.Close()
	_, sc, rec := openTest(t, srv)

	sc.Drop()
	assert.Error(t, rec.waitClose(t))
}

func TestLocalCloseIdempotent(t *testing.T) {
	srv := livetest.NewServer()
	defer srv.Close()
	conn, sc, rec := openTest(t, srv)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.NoError(t, rec.waitClose(t))

	select {
	case <-sc.Closed():
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the close")
	}
	assert.True(t, websocket.IsCloseError(sc.CloseErr(), websocket.CloseNormalClosure))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Len(t, rec.closes, 1)
}

// =============================================================================
// Wire
// =============================================================================

func TestServerMessageEvents(t *testing.T) {
	raw := `{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"AAA="}},{"text":"thinking"}]},"outputTranscription":{"text":"Hi"},"turnComplete":true}}`
	var msg serverMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))

	events := msg.events()
	require.Len(t, events, 3)
	assert.Equal(t, Transcript{Speaker: transcript.Agent, Text: "Hi"}, events[0])
	assert.Equal(t, Audio{MIMEType: "audio/pcm;rate=24000", Data: "AAA="}, events[1])
	assert.Equal(t, TurnComplete{}, events[2])
}

func TestRealtimeInputWireShape(t *testing.T) {
	data, err := json.Marshal(clientMessage{RealtimeInput: &realtimeInput{
		MediaChunks: []mediaChunk{{MIMEType: encoder.MIMEType, Data: "AAAA"}},
	}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"realtimeInput":{"mediaChunks":[{"mimeType":"audio/pcm;rate=16000","data":"AAAA"}]}}`, string(data))
}

func TestBuildInstructionSkipsEmptySections(t *testing.T) {
	got := BuildInstruction("", "  ")
	assert.NotContains(t, got, "Target role:")
	assert.NotContains(t, got, "Candidate background:")
	assert.Contains(t, got, moderation.ToolName)
}

func TestEndpoint(t *testing.T) {
	assert.Equal(t,
		"wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1alpha.GenerativeService.BidiGenerateContent",
		Endpoint("v1alpha"))
	assert.Equal(t, "models/custom", modelName("custom"))
	assert.Equal(t, "models/x", modelName("models/x"))
}
