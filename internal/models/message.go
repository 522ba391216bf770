package models

// Role tags a prompt message for the completion API.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one role-tagged entry of a prompt.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func SystemMessage(content string) *Message {
	return &Message{Role: RoleSystem, Content: content}
}

func UserMessage(content string) *Message {
	return &Message{Role: RoleUser, Content: content}
}

// OutputFormat is the response mode requested from the completion API.
type OutputFormat int

const (
	FormatText OutputFormat = iota
	FormatJSONObject
)

func (f OutputFormat) String() string {
	if f == FormatJSONObject {
		return "json_object"
	}
	return "text"
}
