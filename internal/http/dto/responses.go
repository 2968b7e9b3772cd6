package dto

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	// invalid transition
	From  string `json:"from,omitempty"`
	Event string `json:"event,omitempty"`

	// guard violation
	Rule   string `json:"rule,omitempty"`
	Detail string `json:"detail,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type WebhookAck struct {
	Accepted bool   `json:"accepted"`
	Action   string `json:"action"`
}
