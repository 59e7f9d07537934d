package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Role is the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Content part types.
const (
	PartText     = "text"
	PartImageURL = "image_url"
)

// ImageURL references an image by URL or data URI.
type ImageURL struct {
	URL string `json:"url"`
}

// ContentPart is one element of a multi-part message body.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// TextPart returns a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

// ImagePart returns an image_url content part.
func ImagePart(url string) ContentPart {
	return ContentPart{Type: PartImageURL, ImageURL: &ImageURL{URL: url}}
}

// Message represents a single message in a conversation.
//
// On the wire the content is either a plain string or an ordered array of
// parts. When Parts is non-nil it wins over Text, and part order is kept on
// every encode path since some providers are order-sensitive.
type Message struct {
	Role  Role
	Text  string
	Parts []ContentPart
}

// NewText returns a plain-text message.
func NewText(role Role, text string) Message {
	return Message{Role: role, Text: text}
}

// NewParts returns a multi-part message.
func NewParts(role Role, parts ...ContentPart) Message {
	return Message{Role: role, Parts: parts}
}

// IsMultipart reports whether the message carries an ordered part list.
func (m Message) IsMultipart() bool {
	return m.Parts != nil
}

// PlainText returns the message text, joining text parts with newlines.
func (m Message) PlainText() string {
	if !m.IsMultipart() {
		return m.Text
	}
	var texts []string
	for _, p := range m.Parts {
		if p.Type == PartText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// ImageURLs returns the URLs of the image parts in order.
func (m Message) ImageURLs() []string {
	var urls []string
	for _, p := range m.Parts {
		if p.Type == PartImageURL && p.ImageURL != nil {
			urls = append(urls, p.ImageURL.URL)
		}
	}
	return urls
}

type wireMessage struct {
	Role    Role            `json:"role"`
	Content json.RawMessage `json:"content"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	var (
		content []byte
		err     error
	)
	if m.IsMultipart() {
		content, err = json.Marshal(m.Parts)
	} else {
		content, err = json.Marshal(m.Text)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireMessage{Role: m.Role, Content: content})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.Role = w.Role
	m.Text = ""
	m.Parts = nil

	content := bytes.TrimSpace(w.Content)
	switch {
	case len(content) == 0 || bytes.Equal(content, []byte("null")):
		return nil
	case content[0] == '"':
		return json.Unmarshal(content, &m.Text)
	case content[0] == '[':
		parts := []ContentPart{}
		if err := json.Unmarshal(content, &parts); err != nil {
			return fmt.Errorf("decode content parts: %w", err)
		}
		m.Parts = parts
		return nil
	default:
		return fmt.Errorf("message content must be a string or an array, got %s", truncateBytes(content, 32))
	}
}

func truncateBytes(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
