package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"

	"github.com/tky-kevin/travelkb/helper"
)

// Metadata is the free-form JSONB column of a knowledge chunk
// (source lastmod, character offsets, embedding model).
type Metadata map[string]interface{}

// Value implements the driver.Valuer interface for database storage
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements the sql.Scanner interface for database retrieval
func (m *Metadata) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case Metadata:
		*m = v
		return nil
	case string:
		return m.unmarshal([]byte(v))
	case []byte:
		return m.unmarshal(v)
	default:
		return helper.NewError("metadata scan", errors.New("type assertion to []byte failed"))
	}
}

func (m *Metadata) unmarshal(b []byte) error {
	decoded := Metadata{}
	if err := json.Unmarshal(b, &decoded); err != nil {
		return helper.NewError("metadata unmarshal", err)
	}
	*m = decoded
	return nil
}
