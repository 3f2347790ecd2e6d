package models

import (
	"fmt"
	"strings"
	"time"
)

// Session represents one conversation in the chat system. A session either
// stands alone or belongs to a group, in which case it shares a batch id space
// with its sibling sessions.
type Session struct {
	ID      string
	GroupID string
	Title   string
	Model   string

	// LongInputMode keeps the composer expanded for multi-paragraph prompts.
	LongInputMode bool

	MessageCount int
}

// Grouped reports whether the session belongs to a group.
func (s Session) Grouped() bool {
	return s.GroupID != ""
}

// Group is a named ordered set of sessions that receive the same prompts and
// are compared side by side.
type Group struct {
	ID         string
	Title      string
	SessionIDs []string
}

// Message represents an individual turn within a session. While a response is
// being appended to incrementally, Streaming is true; a message may never be
// both Streaming and IsError.
type Message struct {
	ID        string
	Role      Role
	Contents  []Content
	Timestamp time.Time

	Streaming bool
	IsError   bool
}

// Text returns the concatenated text parts of the message.
func (m Message) Text() string {
	var sb strings.Builder
	for _, ct := range m.Contents {
		if ct.Type == ContentTypeText {
			sb.WriteString(ct.Text)
		}
	}
	return sb.String()
}

// Images returns the image URLs attached to the message, in order.
func (m Message) Images() []string {
	var urls []string
	for _, ct := range m.Contents {
		if ct.Type == ContentTypeImage {
			urls = append(urls, ct.ImageURL)
		}
	}
	return urls
}

// Content is a message content part with its type.
type Content struct {
	Type ContentType

	// Text would be filled if Type is ContentTypeText.
	Text string

	// ImageURL would be filled if Type is ContentTypeImage.
	ImageURL string
}

// TextContents wraps a plain string and a list of image URLs into content
// parts, text first.
func TextContents(text string, images []string) []Content {
	contents := []Content{{Type: ContentTypeText, Text: text}}
	for _, url := range images {
		contents = append(contents, Content{Type: ContentTypeImage, ImageURL: url})
	}
	return contents
}

// Role represents the role of a message participant.
type Role string

// ContentType represents the type of content in messages.
type ContentType string

const (
	// RoleSystem represents an instruction message. System messages are never
	// resendable.
	RoleSystem Role = "system"
	// RoleUser represents a user message.
	RoleUser Role = "user"
	// RoleAssistant represents an assistant message.
	RoleAssistant Role = "assistant"

	// ContentTypeText represents text content.
	ContentTypeText ContentType = "text"
	// ContentTypeImage represents an attached image, referenced by URL.
	ContentTypeImage ContentType = "image"
)

// Draft is a session's unsent input state, persisted so input survives
// session switches, reloads, and crashes.
type Draft struct {
	Text      string
	Images    []string
	ScrollTop int
	Selection Selection
	UpdatedAt time.Time
}

// Selection is the caret selection range within the draft text.
type Selection struct {
	Start int
	End   int
}

// Empty reports whether the draft carries no user input. Scroll and selection
// alone do not make a draft worth keeping.
func (d Draft) Empty() bool {
	return d.Text == "" && len(d.Images) == 0
}

// RenderContents renders a slice of Content into a markdown string. Image
// parts are rendered as markdown image references.
func RenderContents(contents []Content) string {
	var sb strings.Builder
	for _, content := range contents {
		switch content.Type {
		case ContentTypeText:
			if content.Text == "" {
				continue
			}
			sb.WriteString(content.Text)
		case ContentTypeImage:
			sb.WriteString(fmt.Sprintf("\n\n![attachment](%s)\n", content.ImageURL))
		}
	}
	return sb.String()
}
