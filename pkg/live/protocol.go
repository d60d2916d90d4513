package live

import "github.com/teslashibe/go-live/pkg/codec"

// Setup is the startup configuration sent once per connection.
type Setup struct {
	// Model is the fully qualified model name (e.g., "models/gemini-2.5-flash-native-audio-preview-09-2025").
	Model string

	// Voice is the prebuilt voice name (e.g., "Zephyr", "Puck").
	Voice string

	// SystemInstruction is the preamble text.
	SystemInstruction string

	// Tools are the functions the model may call.
	Tools []FunctionDeclaration

	// InputTranscription asks the server to transcribe the user's audio.
	InputTranscription bool

	// OutputTranscription asks the server to transcribe the model's audio.
	OutputTranscription bool
}

// FunctionDeclaration advertises one callable tool.
type FunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// FunctionCall is one tool invocation requested by the model.
type FunctionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FunctionResponse answers a FunctionCall. ID must be the call's id.
type FunctionResponse struct {
	ID       string         `json:"id"`
	Name     string         `json:"name,omitempty"`
	Response map[string]any `json:"response"`
}

// Control is a non-audio client message.
type Control struct {
	// Text is sent as a user turn when non-empty.
	Text string

	// TurnComplete ends the user turn started by Text.
	TurnComplete bool

	// AudioStreamEnd tells the server the microphone stopped.
	AudioStreamEnd bool
}

// Client → server wire messages.

type clientMessage struct {
	Setup         *setupMessage  `json:"setup,omitempty"`
	RealtimeInput *realtimeInput `json:"realtimeInput,omitempty"`
	ClientContent *clientContent `json:"clientContent,omitempty"`
	ToolResponse  *toolResponse  `json:"toolResponse,omitempty"`
}

type setupMessage struct {
	Model                    string            `json:"model"`
	GenerationConfig         generationConfig  `json:"generationConfig"`
	SystemInstruction        *content          `json:"systemInstruction,omitempty"`
	Tools                    []toolDeclaration `json:"tools,omitempty"`
	InputAudioTranscription  *struct{}         `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}         `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type toolDeclaration struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations"`
}

type realtimeInput struct {
	MediaChunks    []codec.WireChunk `json:"mediaChunks,omitempty"`
	AudioStreamEnd bool              `json:"audioStreamEnd,omitempty"`
}

type clientContent struct {
	Turns        []content `json:"turns,omitempty"`
	TurnComplete bool      `json:"turnComplete"`
}

type toolResponse struct {
	FunctionResponses []FunctionResponse `json:"functionResponses"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string           `json:"text,omitempty"`
	InlineData *codec.WireChunk `json:"inlineData,omitempty"`
}

// Server → client wire messages.

type serverMessage struct {
	SetupComplete        *struct{}             `json:"setupComplete,omitempty"`
	ServerContent        *serverContent        `json:"serverContent,omitempty"`
	ToolCall             *toolCall             `json:"toolCall,omitempty"`
	ToolCallCancellation *toolCallCancellation `json:"toolCallCancellation,omitempty"`
	GoAway               *goAway               `json:"goAway,omitempty"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

type toolCall struct {
	FunctionCalls []FunctionCall `json:"functionCalls"`
}

type toolCallCancellation struct {
	IDs []string `json:"ids"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft"`
}

func buildSetup(s Setup) clientMessage {
	msg := &setupMessage{
		Model: s.Model,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
	}
	if s.Voice != "" {
		msg.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: s.Voice}},
		}
	}
	if s.SystemInstruction != "" {
		msg.SystemInstruction = &content{Parts: []part{{Text: s.SystemInstruction}}}
	}
	if len(s.Tools) > 0 {
		msg.Tools = []toolDeclaration{{FunctionDeclarations: s.Tools}}
	}
	if s.InputTranscription {
		msg.InputAudioTranscription = &struct{}{}
	}
	if s.OutputTranscription {
		msg.OutputAudioTranscription = &struct{}{}
	}
	return clientMessage{Setup: msg}
}

func buildControl(c Control) clientMessage {
	if c.AudioStreamEnd {
		return clientMessage{RealtimeInput: &realtimeInput{AudioStreamEnd: true}}
	}
	cc := &clientContent{TurnComplete: c.TurnComplete}
	if c.Text != "" {
		cc.Turns = []content{{Role: "user", Parts: []part{{Text: c.Text}}}}
	}
	return clientMessage{ClientContent: cc}
}
