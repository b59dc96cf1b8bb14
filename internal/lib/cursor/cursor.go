// Package cursor encodes opaque, signed and self-expiring pagination cursors.
//
// Wire format: base64url(JSON payload) + "." + hex(HMAC-SHA256(JSON payload)).
// The payload carries "exp" (unix seconds) and at most one boundary: "id" or
// "cursor_date" (YYYY-MM-DD).
package cursor

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

const dateLayout = time.DateOnly

var (
	// ErrInvalidCursor is returned for every decode failure. It never says which check failed.
	ErrInvalidCursor = errors.New("invalid cursor")

	ErrAmbiguousPosition = errors.New("cursor position must carry either an id or a date, not both")
)

// Signer signs raw payload bytes and verifies signatures in constant time.
type Signer interface {
	Sign(data []byte) string
	Verify(data []byte, sig string) bool
}

// Position is the page boundary a cursor points at. Use AfterID or BeforeDate;
// the zero value carries no boundary.
type Position struct {
	id   int64
	date time.Time
}

func AfterID(id int64) Position {
	return Position{id: id}
}

func BeforeDate(date time.Time) Position {
	y, m, d := date.Date()

	return Position{date: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func (p Position) ID() (int64, bool) {
	return p.id, p.id != 0
}

func (p Position) Date() (time.Time, bool) {
	return p.date, !p.date.IsZero()
}

type payload struct {
	Exp  *int64 `json:"exp,omitempty"`
	ID   int64  `json:"id,omitempty"`
	Date string `json:"cursor_date,omitempty"`
}

type Codec struct {
	signer Signer
	now    func() time.Time
}

func New(signer Signer) *Codec {
	return &Codec{
		signer: signer,
		now:    time.Now,
	}
}

// Encode returns a cursor for pos that stops decoding after expiresIn.
func (c *Codec) Encode(expiresIn time.Duration, pos Position) (string, error) {
	if pos.id != 0 && !pos.date.IsZero() {
		return "", ErrAmbiguousPosition
	}

	exp := c.now().Add(expiresIn).Unix()

	p := payload{
		Exp: &exp,
		ID:  pos.id,
	}
	if !pos.date.IsZero() {
		p.Date = pos.date.Format(dateLayout)
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}

	return base64.URLEncoding.EncodeToString(raw) + "." + c.signer.Sign(raw), nil
}

// Decode verifies and unpacks cursor.
func (c *Codec) Decode(cursor string) (Position, error) {
	parts := strings.Split(cursor, ".")
	if len(parts) != 2 {
		return Position{}, ErrInvalidCursor
	}

	raw, err := base64.URLEncoding.DecodeString(parts[0])
	if err != nil {
		return Position{}, ErrInvalidCursor
	}

	if !c.signer.Verify(raw, parts[1]) {
		return Position{}, ErrInvalidCursor
	}

	var p payload

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Position{}, ErrInvalidCursor
	}

	if p.Exp != nil && c.now().Unix() > *p.Exp {
		return Position{}, ErrInvalidCursor
	}

	if p.ID != 0 && p.Date != "" {
		return Position{}, ErrInvalidCursor
	}

	if p.Date != "" {
		date, err := time.Parse(dateLayout, p.Date)
		if err != nil {
			return Position{}, ErrInvalidCursor
		}

		return BeforeDate(date), nil
	}

	return AfterID(p.ID), nil
}
