package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ID is a numeric content identifier. It decodes from JSON numbers and numeric
// strings alike so that "7" and 7 compare equal.
type ID int64

func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseID parses a decimal identifier, tolerating surrounding whitespace.
func ParseID(raw string) (ID, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: id %q is not numeric", ErrInvalidInput, raw)
	}
	return ID(n), nil
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseID(s)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: id is not numeric", ErrInvalidInput)
	}
	parsed, err := ParseID(n.String())
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// OptionalID is an ID that may be absent (JSON null), e.g. a timed-out empty answer.
type OptionalID struct {
	Value ID
	Valid bool
}

// Some wraps a present id.
func Some(id ID) OptionalID {
	return OptionalID{Value: id, Valid: true}
}

func (o OptionalID) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(int64(o.Value))
}

func (o *OptionalID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) || bytes.Equal(data, []byte(`""`)) {
		*o = OptionalID{}
		return nil
	}
	var id ID
	if err := id.UnmarshalJSON(data); err != nil {
		return err
	}
	*o = Some(id)
	return nil
}
