package messages

// Commands a browser may send on /ws/text_input
const (
	CommandStart = "start"
)

// ControlMessage is a decoded control frame from a browser
type ControlMessage struct {
	Command string `json:"command"`
}

// PushTextRequest is the body of POST /api/push_text
type PushTextRequest struct {
	Text *string `json:"text"`
}

// ProcessInputRequest is the body of POST /api/process_input
type ProcessInputRequest struct {
	Text string `json:"text"`
}

// DivineRequest is the body of POST /api/divine
type DivineRequest struct {
	Name      string   `json:"name"`
	BirthDate string   `json:"birth_date"` // "1995-08-20 14:30"
	Question  string   `json:"question"`
	Cards     []string `json:"cards"`
}
