package entities

// ErrorKind categorizes pipeline-stage failures for user-facing fallbacks.
type ErrorKind string

const (
	ErrorKindSTT       ErrorKind = "stt_error"
	ErrorKindLLM       ErrorKind = "llm_error"
	ErrorKindTTS       ErrorKind = "tts_error"
	ErrorKindTransport ErrorKind = "transport_error"
	ErrorKindConfig    ErrorKind = "config_error"
	ErrorKindGeneral   ErrorKind = "general_error"
)

var fallbackTexts = map[ErrorKind]string{
	ErrorKindSTT:       "I'm having trouble hearing you right now. Could you please try speaking again?",
	ErrorKindLLM:       "I'm having trouble thinking right now. My AI brain seems to be taking a coffee break. Please try again in a moment.",
	ErrorKindTTS:       "I'm having trouble speaking right now, but I'm still listening and thinking!",
	ErrorKindTransport: "I lost my connection for a moment. Please check your network and try again.",
	ErrorKindConfig:    "I'm not properly configured right now. Please check my settings and try again.",
	ErrorKindGeneral:   "I'm experiencing some technical difficulties right now. Please bear with me while I get back on track.",
}

// FallbackText returns the user-facing sentence for an error kind.
func FallbackText(kind ErrorKind) string {
	if text, ok := fallbackTexts[kind]; ok {
		return text
	}
	return fallbackTexts[ErrorKindGeneral]
}
