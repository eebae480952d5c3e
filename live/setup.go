package live

import (
	"strings"

	"google.golang.org/genai"

	"jobm8/moderation"
)

const (
	DefaultModel      = "gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultVoice      = "Puck"
	DefaultAPIVersion = "v1beta"

	defaultHost = "wss://generativelanguage.googleapis.com"
)

// Setup is what the backend needs to know when the channel opens.
type Setup struct {
	Model       string
	Voice       string
	Language    string
	Instruction string
	Tools       []*genai.Tool
	// Opening, if set, is sent as a user turn right after setup so the
	// interviewer speaks first.
	Opening string
}

// NewSetup builds the interview setup from the candidate's background and
// the description of the role they are practicing for.
func NewSetup(model, voice, language, candidateBackground, targetRole string) Setup {
	return Setup{
		Model:       model,
		Voice:       voice,
		Language:    language,
		Instruction: BuildInstruction(candidateBackground, targetRole),
		Tools:       []*genai.Tool{moderation.Tool()},
		Opening:     "Please start the interview.",
	}
}

// BuildInstruction assembles the interviewer's system instruction.
func BuildInstruction(candidateBackground, targetRole string) string {
	var b strings.Builder
	b.WriteString("You are an experienced hiring manager conducting a realistic spoken mock interview.\n")
	b.WriteString("Ask one question at a time, listen to the full answer, and follow up the way a real interviewer would.\n")
	b.WriteString("Keep your turns short and conversational. Never break character.\n\n")

	if role := strings.TrimSpace(targetRole); role != "" {
		b.WriteString("Target role:\n")
		b.WriteString(role)
		b.WriteString("\n\n")
	}
	if bg := strings.TrimSpace(candidateBackground); bg != "" {
		b.WriteString("Candidate background:\n")
		b.WriteString(bg)
		b.WriteString("\n\n")
	}
	b.WriteString(moderation.Guidance)
	b.WriteString("\n")
	return b.String()
}

func modelName(model string) string {
	if model == "" {
		model = DefaultModel
	}
	if strings.HasPrefix(model, "models/") {
		return model
	}
	return "models/" + model
}

func (s Setup) message() *genai.LiveClientSetup {
	voice := s.Voice
	if voice == "" {
		voice = DefaultVoice
	}
	return &genai.LiveClientSetup{
		Model: modelName(s.Model),
		GenerationConfig: &genai.GenerationConfig{
			ResponseModalities: []genai.Modality{genai.ModalityAudio},
			SpeechConfig: &genai.SpeechConfig{
				VoiceConfig: &genai.VoiceConfig{
					PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
				},
				LanguageCode: s.Language,
			},
		},
		SystemInstruction:        genai.NewContentFromText(s.Instruction, genai.RoleUser),
		Tools:                    s.Tools,
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
}

// Endpoint returns the BidiGenerateContent websocket URL for an API version.
func Endpoint(apiVersion string) string {
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}
	return defaultHost + "/ws/google.ai.generativelanguage." + apiVersion + ".GenerativeService.BidiGenerateContent"
}
