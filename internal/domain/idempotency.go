package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Bounds on the length (in characters) of an idempotency key.
const (
	IdempotencyKeyMinLen = 10
	IdempotencyKeyMaxLen = 50
)

// Idempotency key validation errors.
var (
	ErrIdempotencyKeyBlank    = errors.New("idempotency key is blank")
	ErrIdempotencyKeyTooShort = fmt.Errorf("idempotency key must be at least %d characters", IdempotencyKeyMinLen)
	ErrIdempotencyKeyTooLong  = fmt.Errorf("idempotency key must be at most %d characters", IdempotencyKeyMaxLen)
)

// IdempotencyKey is a validated client-supplied key scoping a publish
// request so that retries are deduplicated.
type IdempotencyKey string

// ParseIdempotencyKey validates s: non-blank and between 10 and 50
// characters inclusive. The key is kept verbatim (no trimming).
func ParseIdempotencyKey(s string) (IdempotencyKey, error) {
	if strings.TrimSpace(s) == "" {
		return "", ErrIdempotencyKeyBlank
	}
	n := utf8.RuneCountInString(s)
	if n < IdempotencyKeyMinLen {
		return "", ErrIdempotencyKeyTooShort
	}
	if n > IdempotencyKeyMaxLen {
		return "", ErrIdempotencyKeyTooLong
	}
	return IdempotencyKey(s), nil
}

// String returns the key as a plain string.
func (k IdempotencyKey) String() string { return string(k) }

// HeaderPair is one response header line. Names may repeat; order matters.
type HeaderPair struct {
	Name  string `json:"name"`
	Value []byte `json:"value"`
}

// HeaderPairs is an ordered header list stored as a JSON column.
type HeaderPairs []HeaderPair

// Value implements driver.Valuer. A nil list is stored as NULL.
func (h HeaderPairs) Value() (driver.Value, error) {
	if h == nil {
		return nil, nil
	}
	b, err := json.Marshal([]HeaderPair(h))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (h *HeaderPairs) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*h = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("header pairs: unsupported scan type %T", src)
	}
	var out []HeaderPair
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("header pairs: %w", err)
	}
	*h = out
	return nil
}

// Idempotency is the saved outcome of a publish request keyed by
// (user_id, idempotency_key).
//
// A row is first inserted as a placeholder (all response columns NULL)
// inside the publish transaction and later completed in the same
// transaction. Because both steps share one transaction, a placeholder is
// never visible to other sessions; a committed row always carries a
// response. Completed rows are never updated again.
type Idempotency struct {
	UserID             string      `gorm:"column:user_id;type:char(36);primaryKey"`
	IdempotencyKey     string      `gorm:"column:idempotency_key;type:varchar(50);primaryKey"`
	ResponseStatusCode *int        `gorm:"column:response_status_code"`
	ResponseHeaders    HeaderPairs `gorm:"column:response_headers;type:text"`
	ResponseBody       []byte      `gorm:"column:response_body"`
	CreatedAt          time.Time   `gorm:"not null;index:idx_idempotency_created_at"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }

// Completed reports whether the response columns have been filled in.
func (r *Idempotency) Completed() bool {
	return r != nil && r.ResponseStatusCode != nil
}
