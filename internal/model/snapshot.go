package model

// StateSnapshot is the whitelisted slice of client state that survives restarts.
type StateSnapshot struct {
	UserID        string       `json:"userId"`
	Token         string       `json:"token,omitempty"`
	Role          Role         `json:"role,omitempty"`
	FreeChatUsed  bool         `json:"freeChatUsed"`
	Balance       float64      `json:"balance"`
	ActiveSession *Session     `json:"activeSession,omitempty"`
	OtherParty    *Participant `json:"otherParty,omitempty"`
}
