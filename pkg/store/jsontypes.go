package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Value implements driver.Valuer so JSONMap persists as JSONB.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner so JSONMap loads from JSONB/bytea/text.
func (m *JSONMap) Scan(src any) error {
	if src == nil {
		*m = JSONMap{}
		return nil
	}
	raw, err := asBytes(src)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		*m = JSONMap{}
		return nil
	}
	out := JSONMap{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("store: scan JSONMap: %w", err)
	}
	*m = out
	return nil
}

// Value implements driver.Valuer so StringSet persists as a JSON array.
func (s StringSet) Value() (driver.Value, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner so StringSet loads from a JSON array column.
func (s *StringSet) Scan(src any) error {
	if src == nil {
		*s = StringSet{}
		return nil
	}
	raw, err := asBytes(src)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		*s = StringSet{}
		return nil
	}
	out := StringSet{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("store: scan StringSet: %w", err)
	}
	*s = out
	return nil
}

func asBytes(src any) ([]byte, error) {
	switch v := src.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("store: unsupported scan source type %T", src)
	}
}
