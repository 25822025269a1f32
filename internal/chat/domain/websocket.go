package domain

// Action websocket request action
type Action string

const (
	// Subscribe websocket action subscribe, start receiving a conversation topic
	Subscribe Action = "subscribe"
	// Unsubscribe websocket action unsubscribe
	Unsubscribe Action = "unsubscribe"
	// Typing websocket action typing, broadcast user_typing to the topic
	Typing Action = "typing"
	// ActionError websocket response for unknown requests
	ActionError Action = "error"
)

// WSRequest websocket Request
type WSRequest struct {
	Action         string `json:"action"`
	ConversationID string `json:"conversation_id"`
	Username       string `json:"username,omitempty"`
}

// WSResponse websocket Response
type WSResponse struct {
	Action  string                 `json:"action"`
	Success bool                   `json:"success"`
	Payload map[string]interface{} `json:"payload,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// TopicName redis channel for a conversation
func TopicName(conversationID string) string {
	return "chat:conversation:" + conversationID
}
