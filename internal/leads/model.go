package leads

import (
	"encoding/json"
	"strings"
	"time"
)

// Lead is a captured visitor contact-form submission. A lead always
// references exactly one conversation; a conversation may have several leads
// when the visitor resubmits the form.
type Lead struct {
	ID             string          `json:"id"`
	AgentID        string          `json:"agent_id"`
	ConversationID string          `json:"conversation_id"`
	Name           string          `json:"name"`
	Email          string          `json:"email"`
	EmailLower     string          `json:"-"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// CreateLeadRequest is the request body for capturing a lead
type CreateLeadRequest struct {
	AgentID        string          `json:"-"`
	ConversationID string          `json:"conversation_id"`
	Name           string          `json:"name"`
	Email          string          `json:"email"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// Validate validates the create lead request
func (r *CreateLeadRequest) Validate() error {
	if strings.TrimSpace(r.AgentID) == "" {
		return ErrMissingAgentID
	}
	if strings.TrimSpace(r.ConversationID) == "" {
		return ErrMissingConversationID
	}
	if strings.TrimSpace(r.Email) == "" {
		return ErrMissingEmail
	}
	return nil
}
