package leads

import "errors"

var (
	ErrLeadNotFound          = errors.New("leads: lead not found")
	ErrMissingAgentID        = errors.New("leads: agent id is required")
	ErrMissingConversationID = errors.New("leads: conversation id is required")
	ErrMissingEmail          = errors.New("leads: email is required")
)
