package live

import (
	"encoding/json"
	"time"

	"google.golang.org/genai"

	"jobm8/transcript"
)

// clientMessage is one frame sent to BidiGenerateContent. Exactly one field
// is set.
type clientMessage struct {
	Setup         *genai.LiveClientSetup        `json:"setup,omitempty"`
	ClientContent *genai.LiveClientContent      `json:"clientContent,omitempty"`
	RealtimeInput *realtimeInput                `json:"realtimeInput,omitempty"`
	ToolResponse  *genai.LiveClientToolResponse `json:"toolResponse,omitempty"`
}

// realtimeInput mirrors genai.LiveClientRealtimeInput but carries audio that
// is already base64 text; genai.Blob would encode raw bytes itself.
type realtimeInput struct {
	MediaChunks []mediaChunk `json:"mediaChunks"`
}

type mediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type serverMessage struct {
	SetupComplete        *json.RawMessage                      `json:"setupComplete,omitempty"`
	ServerContent        *serverContent                        `json:"serverContent,omitempty"`
	ToolCall             *genai.LiveServerToolCall             `json:"toolCall,omitempty"`
	ToolCallCancellation *genai.LiveServerToolCallCancellation `json:"toolCallCancellation,omitempty"`
	GoAway               *genai.LiveServerGoAway               `json:"goAway,omitempty"`
}

type serverContent struct {
	ModelTurn           *modelTurn           `json:"modelTurn,omitempty"`
	TurnComplete        bool                 `json:"turnComplete,omitempty"`
	Interrupted         bool                 `json:"interrupted,omitempty"`
	GenerationComplete  bool                 `json:"generationComplete,omitempty"`
	InputTranscription  *genai.Transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *genai.Transcription `json:"outputTranscription,omitempty"`
}

type modelTurn struct {
	Parts []modelPart `json:"parts,omitempty"`
}

type modelPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *mediaChunk `json:"inlineData,omitempty"`
}

// Event is one inbound occurrence, delivered in arrival order.
type Event interface {
	isEvent()
}

// Transcript is a partial transcription fragment.
type Transcript struct {
	Speaker transcript.Speaker
	Text    string
}

// Audio is one encoded chunk of the agent's voice.
type Audio struct {
	MIMEType string
	Data     string
}

type TurnComplete struct{}

// Interrupted means the backend detected the user talking over the agent
// and discarded the rest of its reply.
type Interrupted struct{}

// ToolCall carries one or more function invocations.
type ToolCall struct {
	Calls []*genai.FunctionCall
}

type ToolCallCancelled struct {
	IDs []string
}

// GoAway warns that the backend will drop the connection.
type GoAway struct {
	TimeLeft time.Duration
}

func (Transcript) isEvent()        {}
func (Audio) isEvent()             {}
func (TurnComplete) isEvent()      {}
func (Interrupted) isEvent()       {}
func (ToolCall) isEvent()          {}
func (ToolCallCancelled) isEvent() {}
func (GoAway) isEvent()            {}

// events flattens a server message. Within one message transcription comes
// before audio, and turn completion comes last.
func (m *serverMessage) events() []Event {
	var out []Event
	if sc := m.ServerContent; sc != nil {
		if t := sc.InputTranscription; t != nil && t.Text != "" {
			out = append(out, Transcript{Speaker: transcript.User, Text: t.Text})
		}
		if t := sc.OutputTranscription; t != nil && t.Text != "" {
			out = append(out, Transcript{Speaker: transcript.Agent, Text: t.Text})
		}
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData != nil && p.InlineData.Data != "" {
					out = append(out, Audio{MIMEType: p.InlineData.MIMEType, Data: p.InlineData.Data})
				}
			}
		}
		if sc.Interrupted {
			out = append(out, Interrupted{})
		}
		if sc.TurnComplete {
			out = append(out, TurnComplete{})
		}
	}
	if m.ToolCall != nil && len(m.ToolCall.FunctionCalls) > 0 {
		out = append(out, ToolCall{Calls: m.ToolCall.FunctionCalls})
	}
	if m.ToolCallCancellation != nil {
		out = append(out, ToolCallCancelled{IDs: m.ToolCallCancellation.IDs})
	}
	if m.GoAway != nil {
		out = append(out, GoAway{TimeLeft: m.GoAway.TimeLeft})
	}
	return out
}
