package id

import (
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/bwmarrin/snowflake"
)

// ErrInvalid reports an external identifier that cannot be translated into
// its canonical form. Callers use it to tell bad input apart from storage
// failures.
var ErrInvalid = errors.New("invalid_id")

const encodedLen = 16

// ID is the canonical record identifier. The wire and URL form is a
// fixed-width lowercase hex encoding of the underlying 64-bit value.
type ID int64

// New derives an ID from a freshly generated snowflake.
func New(node *snowflake.Node) ID {
	return ID(node.Generate().Int64())
}

// Parse translates the external hex form back into an ID.
func Parse(s string) (ID, error) {
	if len(s) != encodedLen {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	var v uint64
	for _, b := range raw {
		v = v<<8 | uint64(b)
	}
	parsed := ID(v)
	if parsed == 0 {
		return 0, fmt.Errorf("%w: zero", ErrInvalid)
	}
	return parsed, nil
}

// String returns the canonical external form.
func (i ID) String() string {
	var raw [8]byte
	v := uint64(i)
	for n := 7; n >= 0; n-- {
		raw[n] = byte(v)
		v >>= 8
	}
	return hex.EncodeToString(raw[:])
}

// Int64 exposes the storage form used as the document primary key.
func (i ID) Int64() int64 { return int64(i) }

// IsZero reports whether the ID is unset.
func (i ID) IsZero() bool { return i == 0 }

// MarshalJSON encodes the ID in its external hex form.
func (i ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.String())
}

// UnmarshalJSON accepts either the hex form or a raw integer, the latter so
// documents written before the hex convention still load.
func (i *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, perr := Parse(s)
		if perr != nil {
			return perr
		}
		*i = parsed
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, data)
	}
	*i = ID(n)
	return nil
}

// Value implements driver.Valuer so IDs bind as 64-bit integers.
func (i ID) Value() (driver.Value, error) {
	return int64(i), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case int64:
		*i = ID(v)
		return nil
	case nil:
		*i = 0
		return nil
	default:
		return fmt.Errorf("%w: unsupported scan type %T", ErrInvalid, src)
	}
}
