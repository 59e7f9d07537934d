package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// Entry is a list element with a content-addressed identity.
type Entry interface {
	Identity() string
}

// ContentID returns the content-addressed identifier (SHA-256, hex-encoded)
// of v. Equal content always yields the same ID.
func ContentID(v any) string {
	// Canonical JSON encoding for deterministic hashing
	data, err := json.Marshal(struct {
		Content any `json:"content"`
	}{v})
	if err != nil {
		panic("failed to marshal hash input: " + err.Error())
	}

	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Prompt is a saved prompt template.
type Prompt struct {
	ID      string   `json:"id" yaml:"id,omitempty"`
	Title   string   `json:"title" yaml:"title"`
	Content string   `json:"content" yaml:"content"`
	Tags    []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// NewPrompt creates a prompt with its ID computed from title and content.
// An empty title is derived from the first line of content.
func NewPrompt(title, content string) Prompt {
	if title == "" {
		title = deriveTitle(content)
	}
	p := Prompt{Title: title, Content: content}
	p.ID = p.Identity()
	return p
}

func (p Prompt) Identity() string {
	if p.ID != "" {
		return p.ID
	}
	return ContentID([2]string{p.Title, p.Content})
}

// Article is a generated long-form text.
type Article struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// NewArticle creates an article with its ID computed from title and content.
func NewArticle(title, content string) Article {
	a := Article{Title: title, Content: content}
	a.ID = a.Identity()
	return a
}

func (a Article) Identity() string {
	if a.ID != "" {
		return a.ID
	}
	return ContentID([2]string{a.Title, a.Content})
}

// ImageRecord is one generated image in the history.
type ImageRecord struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Prompt    string    `json:"prompt,omitempty"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// NewImageRecord creates a record with its ID computed from the URL.
func NewImageRecord(url, prompt string) ImageRecord {
	r := ImageRecord{URL: url, Prompt: prompt}
	r.ID = r.Identity()
	return r
}

func (r ImageRecord) Identity() string {
	if r.ID != "" {
		return r.ID
	}
	return ContentID(r.URL)
}

// AppendUnique appends the entries whose identity is not yet in list, and
// returns the new list with the number of entries added.
func AppendUnique[T Entry](list []T, entries ...T) ([]T, int) {
	seen := make(map[string]struct{}, len(list)+len(entries))
	for _, e := range list {
		seen[e.Identity()] = struct{}{}
	}

	added := 0
	for _, e := range entries {
		id := e.Identity()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		list = append(list, e)
		added++
	}
	return list, added
}

func deriveTitle(content string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(content), "\n")
	line = strings.TrimSpace(line)
	if r := []rune(line); len(r) > 48 {
		return string(r[:48]) + "..."
	}
	return line
}
