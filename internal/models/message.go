package models

import "encoding/json"

// MessageType names a request on the messaging boundary.
type MessageType string

const (
	MsgRegisterTab     MessageType = "REGISTER_TAB"
	MsgJobListFound    MessageType = "JOB_LIST_FOUND"
	MsgProxyPrompt     MessageType = "PROXY_PROMPT_GPT"
	MsgReportJobStatus MessageType = "REPORT_JOB_STATUS"
	MsgGetStats        MessageType = "GET_STATS"
	MsgGetConfig       MessageType = "GET_CONFIG"
	MsgUpdateConfig    MessageType = "UPDATE_CONFIG"
	MsgStartAutomation MessageType = "START_AUTOMATION"
	MsgStopAutomation  MessageType = "STOP_AUTOMATION"
	MsgFetchJobs       MessageType = "FETCH_JOBS"
	MsgClearCache      MessageType = "CLEAR_CACHE"

	// MsgTabClosed is raised by transports when a tab goes away.
	MsgTabClosed MessageType = "TAB_CLOSED"
	// MsgPromptGPT is pushed to the assistant tab to run one prompt.
	MsgPromptGPT MessageType = "PROMPT_GPT"
)

// Message is the request envelope. TabID is the sender tab, empty for
// senders outside any tab (CLI, side panel).
type Message struct {
	ID      string          `json:"id,omitempty"`
	Type    MessageType     `json:"type"`
	TabID   TabID           `json:"tabId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is the reply envelope.
type Response struct {
	ID      string          `json:"id,omitempty"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// RegisterTabPayload is the REGISTER_TAB payload.
type RegisterTabPayload struct {
	Role     string   `json:"role"`
	Platform Platform `json:"platform,omitempty"`
}

// JobListPayload is the JOB_LIST_FOUND payload.
type JobListPayload struct {
	Jobs []RawJob `json:"jobs"`
}

// PromptPayload is the PROXY_PROMPT_GPT and PROMPT_GPT payload.
type PromptPayload struct {
	Prompt string `json:"prompt"`
}

// ReportStatusPayload is the REPORT_JOB_STATUS payload.
type ReportStatusPayload struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// NewMessage builds an envelope with a JSON payload. A nil payload is
// omitted.
func NewMessage(id string, t MessageType, tab TabID, payload any) (Message, error) {
	msg := Message{ID: id, Type: t, TabID: tab}
	if payload == nil {
		return msg, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	msg.Payload = raw
	return msg, nil
}

// DecodeData unmarshals the response data into out. A failed response
// is returned as an error.
func (r Response) DecodeData(out any) error {
	if !r.Success {
		return &ResponseError{Message: r.Error}
	}
	if out == nil || len(r.Data) == 0 || string(r.Data) == "null" {
		return nil
	}
	return json.Unmarshal(r.Data, out)
}

// ResponseError is a failure reported by the other end of the boundary.
type ResponseError struct {
	Message string
}

func (e *ResponseError) Error() string {
	if e.Message == "" {
		return "request failed"
	}
	return e.Message
}
