package domain

import "encoding/json"

// RequestStatus tracks a task request through its lifecycle.
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusInFlight  RequestStatus = "in_flight"
	RequestStatusDelivered RequestStatus = "delivered"
	RequestStatusFailed    RequestStatus = "failed"
)

// TaskRequest represents an on-chain Request event pointing at a payload
// in the object store. Immutable once decoded from the log.
type TaskRequest struct {
	RequestID   string `json:"request_id"`
	Requester   string `json:"requester"`
	ContentHash string `json:"content_hash"`
	BlockNumber uint64 `json:"block_number"`
	LogIndex    uint   `json:"log_index"`
}

// RequestPayload is the decoded object-store payload of a TaskRequest.
// Tool selects the handler; the remaining fields are handler-specific
// and passed through untouched.
type RequestPayload struct {
	Nonce  uint64                 `json:"nonce"`
	Tool   string                 `json:"tool"`
	Prompt string                 `json:"prompt,omitempty"`
	Extra  map[string]interface{} `json:"-"`
}

// UnmarshalJSON decodes the known fields and collects everything else
// into Extra for the handler.
func (p *RequestPayload) UnmarshalJSON(data []byte) error {
	type alias RequestPayload
	var known alias
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}

	var all map[string]interface{}
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	delete(all, "nonce")
	delete(all, "tool")
	delete(all, "prompt")

	*p = RequestPayload(known)
	if len(all) > 0 {
		p.Extra = all
	}
	return nil
}
