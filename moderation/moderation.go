package moderation

import (
	"fmt"

	"google.golang.org/genai"
)

// ReasonCode says why the interviewer flagged the candidate's last answer.
type ReasonCode string

const (
	OffTopic       ReasonCode = "OFF_TOPIC"
	Offensive      ReasonCode = "OFFENSIVE"
	Unprofessional ReasonCode = "UNPROFESSIONAL"
	Evasive        ReasonCode = "EVASIVE"
)

var Reasons = []ReasonCode{OffTopic, Offensive, Unprofessional, Evasive}

const (
	ToolName  = "flag_response"
	ArgReason = "reasonCode"
)

func (r ReasonCode) Valid() bool {
	for _, v := range Reasons {
		if r == v {
			return true
		}
	}
	return false
}

// Terminates reports whether the reason ends the interview once the
// interviewer's closing remark has played.
func (r ReasonCode) Terminates() bool {
	return r == Offensive || r == Unprofessional
}

// Guidance is appended to the system instruction so the model knows when to
// call the tool.
const Guidance = `If the candidate's answer is unproductive, call ` + ToolName + ` with exactly one reasonCode:
OFF_TOPIC when the answer ignores the question, EVASIVE when the candidate dodges it,
OFFENSIVE for abusive or hateful language, UNPROFESSIONAL for conduct unacceptable in an interview.
After OFF_TOPIC or EVASIVE, steer the candidate back to the question and continue.
After OFFENSIVE or UNPROFESSIONAL, give one short closing remark and end the interview.`

// Declaration is the callable signature of the moderation tool.
func Declaration() *genai.FunctionDeclaration {
	enum := make([]string, len(Reasons))
	for i, r := range Reasons {
		enum[i] = string(r)
	}
	return &genai.FunctionDeclaration{
		Name:        ToolName,
		Description: "Flag the candidate's last answer as unproductive.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				ArgReason: {
					Type:        genai.TypeString,
					Description: "Why the answer was flagged.",
					Enum:        enum,
				},
			},
			Required: []string{ArgReason},
		},
	}
}

func Tool() *genai.Tool {
	return &genai.Tool{FunctionDeclarations: []*genai.FunctionDeclaration{Declaration()}}
}

// Event is one tool invocation from the backend.
type Event struct {
	CallID string
	Name   string
	Reason ReasonCode
}

// Decision is the controller's answer to an Event. Ack must be sent back to
// the backend; generation stalls until it is.
type Decision struct {
	Event     Event
	Terminate bool
	Ack       *genai.FunctionResponse
}

// Controller turns tool invocations into acknowledgements and termination
// decisions, and counts flags per reason. Not safe for concurrent use.
type Controller struct {
	counts map[ReasonCode]int
}

func NewController() *Controller {
	return &Controller{counts: make(map[ReasonCode]int)}
}

// Parse extracts the Event carried by call.
func Parse(call *genai.FunctionCall) (Event, error) {
	ev := Event{CallID: call.ID, Name: call.Name}
	if call.Name != ToolName {
		return ev, fmt.Errorf("unknown function %q", call.Name)
	}
	raw, ok := call.Args[ArgReason]
	if !ok {
		return ev, fmt.Errorf("missing %s", ArgReason)
	}
	s, ok := raw.(string)
	if !ok {
		return ev, fmt.Errorf("%s is %T, not a string", ArgReason, raw)
	}
	ev.Reason = ReasonCode(s)
	if !ev.Reason.Valid() {
		return ev, fmt.Errorf("unknown %s %q", ArgReason, s)
	}
	return ev, nil
}

// Handle always returns exactly one acknowledgement keyed by the call id.
// Malformed calls are acknowledged with an error payload and never
// terminate the session.
func (c *Controller) Handle(call *genai.FunctionCall) (Decision, error) {
	ev, err := Parse(call)
	d := Decision{Event: ev}
	if err != nil {
		d.Ack = &genai.FunctionResponse{
			ID:       call.ID,
			Name:     call.Name,
			Response: map[string]any{"error": err.Error()},
		}
		return d, err
	}

	c.counts[ev.Reason]++
	d.Terminate = ev.Reason.Terminates()
	action := "redirect"
	if d.Terminate {
		action = "end_interview"
	}
	d.Ack = &genai.FunctionResponse{
		ID:   call.ID,
		Name: call.Name,
		Response: map[string]any{
			"output": map[string]any{
				"acknowledged": true,
				ArgReason:      string(ev.Reason),
				"action":       action,
			},
		},
	}
	return d, nil
}

// Counts returns how often each reason was flagged.
func (c *Controller) Counts() map[ReasonCode]int {
	out := make(map[ReasonCode]int, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}
