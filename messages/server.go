package messages

// BridgeStartRecord is the only command ever written to the bridge socket
const BridgeStartRecord = "CMD:START_RECORD"

// Human-readable replies on /ws/text_input
const (
	StatusStartSent = "指令已发送到设备，开始录音"
	StatusNoDevice  = "错误：设备未连接"
)

// Transcript event types on /ws/asr
const (
	TypeResult = "result"
	TypeError  = "error"
	TypeDone   = "done"
)

// TranscriptEvent is sent to the browser by the speech proxy
type TranscriptEvent struct {
	Type    string `json:"type"` // "result", "error", "done"
	Text    string `json:"text,omitempty"`
	IsFinal *bool  `json:"is_final,omitempty"`
	Message string `json:"message,omitempty"`
}

// NewResultEvent creates a recognized-text event
func NewResultEvent(text string, final bool) *TranscriptEvent {
	return &TranscriptEvent{
		Type:    TypeResult,
		Text:    text,
		IsFinal: &final,
	}
}

// NewErrorEvent creates an error event
func NewErrorEvent(message string) *TranscriptEvent {
	return &TranscriptEvent{
		Type:    TypeError,
		Message: message,
	}
}

// NewDoneEvent creates the end-of-recognition event
func NewDoneEvent() *TranscriptEvent {
	return &TranscriptEvent{Type: TypeDone}
}

// PushTextResponse is returned by POST /api/push_text
type PushTextResponse struct {
	Status      string `json:"status"`
	BroadcastTo int    `json:"broadcast_to"`
}

// ProcessInputResponse is returned by POST /api/process_input
type ProcessInputResponse struct {
	Status   string `json:"status"`
	AIText   string `json:"ai_text"`
	AudioURL string `json:"audio_url"`
}

// PreparedCard is one translated card of GET /api/precards
type PreparedCard struct {
	NameEn      string `json:"name_en"`
	NameZh      string `json:"name_zh"`
	MeaningUpEn string `json:"meaning_up_en"`
	MeaningUpZh string `json:"meaning_up_zh"`
}

// PreCardsResponse is returned by GET /api/precards
type PreCardsResponse struct {
	Cards []PreparedCard `json:"cards"`
}

// DivineResponse is returned by POST /api/divine on success
type DivineResponse struct {
	BaziSummary string `json:"bazi_summary"`
	Reply       string `json:"reply"`
}

// ErrorResponse is the body of every non-2xx API reply
type ErrorResponse struct {
	Error string `json:"error"`
	Reply string `json:"reply"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status   string `json:"status"`
	Browsers int    `json:"browsers"`
	Bridge   bool   `json:"bridge"`
}
