package cursor

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// Keyset pagination cursors for vendor-sorted video queries. A cursor is the
// base64url encoding of {payload, hmac} where payload carries the keyset
// tuple plus a query hash binding the cursor to the (filter, sort) pair it
// was minted for. Both MACs use HMAC-SHA256 with the server secret.

var (
	ErrTampered      = errors.New("invalid: cursor tampering detected")
	ErrQueryMismatch = errors.New("invalid: cursor query mismatch")
)

// Position is the keyset tuple a cursor resumes from. It mirrors the query's
// ORDER BY (sort field, created_at, event id).
type Position struct {
	SortField string `json:"sortField"`
	SortDir   string `json:"sortDir"`
	SortValue int64  `json:"sortFieldValue"`
	CreatedAt int64  `json:"createdAt"`
	EventID   string `json:"eventId"`
}

type payload struct {
	Position
	QueryHash string `json:"queryHash"`
}

type envelope struct {
	Payload json.RawMessage `json:"payload"`
	HMAC    string          `json:"hmac"`
}

// Codec signs and verifies cursors. The previous secret, when set, lets
// in-flight cursors survive a secret rotation.
type Codec struct {
	secret   []byte
	previous []byte
}

func NewCodec(secret string, previous string) *Codec {
	c := &Codec{secret: []byte(secret)}
	if previous != "" {
		c.previous = []byte(previous)
	}
	return c
}

func mac(key, data []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// CanonicalQuery reduces a raw filter JSON object to the deterministic
// {filter, sort} form the query hash is computed over. The cursor key itself
// is stripped (a continuation must hash to the same value as the first
// page), and the sort block is normalized with its defaults applied.
func CanonicalQuery(filterJSON []byte) ([]byte, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(filterJSON, &raw); err != nil {
		return nil, fmt.Errorf("invalid filter json: %w", err)
	}

	sortBlock := map[string]interface{}{"field": "created_at", "dir": "desc"}
	if s, ok := raw["sort"].(map[string]interface{}); ok {
		if f, ok := s["field"].(string); ok && f != "" {
			sortBlock["field"] = f
		}
		if d, ok := s["dir"].(string); ok && d != "" {
			sortBlock["dir"] = d
		}
	}
	delete(raw, "sort")
	delete(raw, "cursor")

	// encoding/json marshals map keys in lexical order recursively, which
	// is exactly the canonical form we need.
	return json.Marshal(map[string]interface{}{
		"filter": raw,
		"sort":   sortBlock,
	})
}

// Encode mints a cursor for the given position, bound to the originating
// filter. filterJSON is the raw filter object from the REQ frame.
func (c *Codec) Encode(pos Position, filterJSON []byte) (string, error) {
	canonical, err := CanonicalQuery(filterJSON)
	if err != nil {
		return "", err
	}

	p := payload{Position: pos, QueryHash: mac(c.secret, canonical)}
	payloadJSON, err := json.Marshal(p)
	if err != nil {
		return "", err
	}

	env := envelope{Payload: payloadJSON, HMAC: mac(c.secret, payloadJSON)}
	envJSON, err := json.Marshal(env)
	if err != nil {
		return "", err
	}

	return base64.URLEncoding.EncodeToString(envJSON), nil
}

// Decode verifies a cursor against the current request's filter and returns
// the keyset position. The outer HMAC proves authenticity and integrity; the
// query hash proves the cursor belongs to this exact (filter, sort) pair.
// Verification is tried against the current secret and then the previous one.
func (c *Codec) Decode(cursor string, filterJSON []byte) (*Position, error) {
	envJSON, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, ErrTampered
	}

	var env envelope
	if err := json.Unmarshal(envJSON, &env); err != nil {
		return nil, ErrTampered
	}

	key := c.secret
	if !hmac.Equal([]byte(mac(key, env.Payload)), []byte(env.HMAC)) {
		if c.previous == nil {
			return nil, ErrTampered
		}
		key = c.previous
		if !hmac.Equal([]byte(mac(key, env.Payload)), []byte(env.HMAC)) {
			return nil, ErrTampered
		}
	}

	var p payload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, ErrTampered
	}

	canonical, err := CanonicalQuery(filterJSON)
	if err != nil {
		return nil, err
	}
	if !hmac.Equal([]byte(mac(key, canonical)), []byte(p.QueryHash)) {
		return nil, ErrQueryMismatch
	}

	pos := p.Position
	return &pos, nil
}
