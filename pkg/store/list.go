package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// LoadList decodes the list stored under key. A missing key yields an
// empty list. Legacy value shapes are upgraded and the upgraded list is
// written back, so the upgrade runs once per key.
func LoadList[T any](ctx context.Context, s Store, key string) ([]T, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		var notFound ErrNotFound
		if errors.As(err, &notFound) {
			return []T{}, nil
		}
		return nil, err
	}

	upgraded, changed, err := Upgrade(key, raw)
	if err != nil {
		return nil, fmt.Errorf("upgrade %s: %w", key, err)
	}
	if changed {
		// re-read under the update so a concurrent append is not lost
		err := s.Update(ctx, key, func(current []byte, _ bool) ([]byte, error) {
			up, _, err := Upgrade(key, current)
			if err != nil {
				return nil, fmt.Errorf("upgrade %s: %w", key, err)
			}
			upgraded = up
			return up, nil
		})
		if err != nil {
			return nil, fmt.Errorf("write back upgraded %s: %w", key, err)
		}
	}
	return decodeList[T](key, upgraded)
}

// SaveList replaces the list stored under key. A nil list is stored as [].
func SaveList[T any](ctx context.Context, s Store, key string, list []T) error {
	if list == nil {
		list = []T{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Put(ctx, key, data)
}

// UpdateList applies fn to the list stored under key and saves the result,
// atomically with respect to other updates on s.
func UpdateList[T any](ctx context.Context, s Store, key string, fn func([]T) ([]T, error)) error {
	return s.Update(ctx, key, func(current []byte, _ bool) ([]byte, error) {
		up, _, err := Upgrade(key, current)
		if err != nil {
			return nil, fmt.Errorf("upgrade %s: %w", key, err)
		}
		list, err := decodeList[T](key, up)
		if err != nil {
			return nil, err
		}
		list, err = fn(list)
		if err != nil {
			return nil, err
		}
		if list == nil {
			list = []T{}
		}
		data, err := json.Marshal(list)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		return data, nil
	})
}

// AppendEntries appends the entries whose identity is new to the list under
// key. It returns the number of entries added.
func AppendEntries[T Entry](ctx context.Context, s Store, key string, entries ...T) (int, error) {
	added := 0
	err := UpdateList(ctx, s, key, func(list []T) ([]T, error) {
		list, added = AppendUnique(list, entries...)
		return list, nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

func decodeList[T any](key string, raw []byte) ([]T, error) {
	list := []T{}
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	if list == nil {
		list = []T{}
	}
	return list, nil
}

// ValidateList checks that value is a JSON array.
func ValidateList(value []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(value, &items); err != nil {
		return fmt.Errorf("value must be a JSON array: %w", err)
	}
	return nil
}
