// Package codec encodes engine events into the journal and cache wire format:
// a {type, version, payload} envelope whose payload is a flat map of scalars.
package codec

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

type TimestampFormat uint8

const (
	// TimestampNanos writes unsigned nanoseconds since the epoch.
	TimestampNanos TimestampFormat = iota
	// TimestampISO8601 writes RFC 3339 strings with nanosecond precision.
	TimestampISO8601
)

type NumericFormat uint8

const (
	// NumericString writes prices and quantities as decimal strings.
	NumericString NumericFormat = iota
	// NumericRaw writes [raw, precision] pairs.
	NumericRaw
)

type Options struct {
	Timestamps TimestampFormat
	Numerics   NumericFormat
}

type Codec struct {
	opts Options
	api  sonic.API
}

type envelope struct {
	Type    string         `json:"type"`
	Version uint16         `json:"version"`
	Payload map[string]any `json:"payload"`
}

func New(opts Options) *Codec {
	return &Codec{
		opts: opts,
		api:  sonic.Config{SortMapKeys: true, UseNumber: true}.Froze(),
	}
}

func (c *Codec) Options() Options { return c.opts }

// Encode appends the envelope for v to dst.
func (c *Codec) Encode(dst []byte, v any) ([]byte, error) {
	t, err := TypeOf(v)
	if err != nil {
		return dst, err
	}
	payload, err := c.encodePayload(v)
	if err != nil {
		return dst, fmt.Errorf("encode %s: %w", t, err)
	}
	b, err := c.api.Marshal(envelope{Type: t.String(), Version: schema.SchemaVersion, Payload: payload})
	if err != nil {
		return dst, errors.Wrap(err, "marshal envelope")
	}
	return append(dst, b...), nil
}

// Decode parses an envelope and returns the typed event. Order, position and
// account events come back as pointers, market data as values.
func (c *Codec) Decode(src []byte) (any, error) {
	var env envelope
	if err := c.api.Unmarshal(src, &env); err != nil {
		return nil, errors.Wrap(err, "unmarshal envelope")
	}
	t, err := schema.ParseEventType(env.Type)
	if err != nil {
		return nil, err
	}
	if env.Version > schema.SchemaVersion {
		return nil, fmt.Errorf("%w: %s schema version %d is newer than %d", exception.ErrInvalidArgument, t, env.Version, schema.SchemaVersion)
	}
	return c.decodePayload(t, env.Payload)
}

// DecodeType peeks at the envelope type without decoding the payload.
func (c *Codec) DecodeType(src []byte) (schema.EventType, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := c.api.Unmarshal(src, &env); err != nil {
		return schema.EventUnknown, errors.Wrap(err, "unmarshal envelope")
	}
	return schema.ParseEventType(env.Type)
}

// Marshal and Unmarshal expose the configured sonic API for plain structs
// such as instruments and snapshots.
func (c *Codec) Marshal(v any) ([]byte, error) { return c.api.Marshal(v) }

func (c *Codec) Unmarshal(b []byte, v any) error { return c.api.Unmarshal(b, v) }
