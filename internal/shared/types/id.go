package types

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// ID is a UUID kept in its canonical lower-case string form
type ID string

// NewID generates a new random ID
func NewID() ID {
	return ID(uuid.New().String())
}

// ParseID accepts any spelling uuid.Parse understands and returns the
// canonical form, so IDs from URLs and storage compare equal.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid ID %q: %w", s, err)
	}
	return ID(u.String()), nil
}

// ParseIDs parses every element, failing on the first invalid one
func ParseIDs(values []string) ([]ID, error) {
	if len(values) == 0 {
		return nil, nil
	}
	ids := make([]ID, len(values))
	for i, v := range values {
		id, err := ParseID(v)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

// Strings converts IDs for TEXT[] columns and structured log fields
func Strings(ids []ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func (id ID) String() string { return string(id) }

func (id ID) IsZero() bool { return id == "" }

// Ptr returns a pointer to the ID, or nil when it is empty
func (id ID) Ptr() *ID {
	if id.IsZero() {
		return nil
	}
	return &id
}

// Value stores empty IDs as NULL
func (id ID) Value() (driver.Value, error) {
	if id.IsZero() {
		return nil, nil
	}
	return string(id), nil
}

// Scan reads UUID and text columns
func (id *ID) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*id = ""
	case string:
		*id = ID(v)
	case []byte:
		*id = ID(v)
	case [16]byte:
		*id = ID(uuid.UUID(v).String())
	default:
		return fmt.Errorf("cannot scan %T into ID", value)
	}
	return nil
}
