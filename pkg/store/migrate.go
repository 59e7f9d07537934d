package store

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Upgrade rewrites a legacy value stored under key into the current shape.
// It reports whether anything changed. Values already in the current shape,
// and keys without known legacy shapes, are returned as is.
//
// Legacy shapes:
//   - prompts: a bare string per prompt
//   - image-history: a bare URL string per image
//   - articles: objects carrying "body" instead of "content"
func Upgrade(key string, raw []byte) ([]byte, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []byte("[]"), true, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false, fmt.Errorf("value is not a JSON array: %w", err)
	}

	var upgrade func(json.RawMessage) (any, bool, error)
	switch key {
	case KeyPrompts:
		upgrade = upgradePrompt
	case KeyImageHistory:
		upgrade = upgradeImageRecord
	case KeyArticles:
		upgrade = upgradeArticle
	default:
		return raw, false, nil
	}

	out := make([]any, len(items))
	changed := false
	for i, item := range items {
		v, ok, err := upgrade(item)
		if err != nil {
			return nil, false, fmt.Errorf("item %d: %w", i, err)
		}
		if ok {
			out[i] = v
			changed = true
			continue
		}
		out[i] = item
	}
	if !changed {
		return raw, false, nil
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func upgradePrompt(item json.RawMessage) (any, bool, error) {
	var text string
	if !isString(item) {
		return nil, false, nil
	}
	if err := json.Unmarshal(item, &text); err != nil {
		return nil, false, err
	}
	return NewPrompt("", text), true, nil
}

func upgradeImageRecord(item json.RawMessage) (any, bool, error) {
	var url string
	if !isString(item) {
		return nil, false, nil
	}
	if err := json.Unmarshal(item, &url); err != nil {
		return nil, false, err
	}
	return NewImageRecord(url, ""), true, nil
}

func upgradeArticle(item json.RawMessage) (any, bool, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(item, &obj); err != nil {
		// not an object; leave it for the typed decode to reject
		return nil, false, nil
	}
	body, hasBody := obj["body"]
	if !hasBody {
		return nil, false, nil
	}
	if _, hasContent := obj["content"]; !hasContent {
		obj["content"] = body
	}
	delete(obj, "body")

	data, err := json.Marshal(obj)
	if err != nil {
		return nil, false, err
	}
	var a Article
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, false, err
	}
	if a.ID == "" {
		a.ID = a.Identity()
	}
	return a, true, nil
}

func isString(item json.RawMessage) bool {
	item = bytes.TrimSpace(item)
	return len(item) > 0 && item[0] == '"'
}
