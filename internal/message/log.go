package message

import "time"

// Attachment is a file carried by a LogEntry, as reported by the chat
// adapter at the time the message was received.
type Attachment struct {
	Original string `json:"original"`           // adapter-provided URL or reference
	Local    string `json:"local"`              // path relative to the channel directory
	MimeType string `json:"mimeType,omitempty"` // adapter-reported MIME; not trusted for images, see store.LoadAttachments
}

// LogEntry is one line of a channel's log.jsonl. The log is append-only:
// every successful call that logs a message adds exactly one line and
// earlier lines are never rewritten.
type LogEntry struct {
	Date        time.Time    `json:"date"`
	MessageID   string       `json:"messageId"`
	ThreadID    string       `json:"threadId"`
	UserID      string       `json:"userId"`
	UserName    string       `json:"userName"`
	UserHandle  string       `json:"userHandle,omitempty"`
	Text        string       `json:"text"`
	IsBot       bool         `json:"isBot"`
	Attachments []Attachment `json:"attachments,omitempty"`
}
