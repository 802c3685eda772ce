package model

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"hftcore/pkg/exception"
)

// UnixNanos is nanoseconds since the Unix epoch, UTC.
type UnixNanos uint64

func UnixNanosFromTime(t time.Time) UnixNanos {
	if t.IsZero() {
		return 0
	}
	return UnixNanos(t.UnixNano())
}

func UnixNanosFromMillis(ms int64) UnixNanos { return UnixNanos(ms) * UnixNanos(time.Millisecond) }

// ParseUnixNanos accepts either an integer nanosecond count or an RFC 3339 timestamp.
func ParseUnixNanos(s string) (UnixNanos, error) {
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return UnixNanos(n), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, fmt.Errorf("%w: parse timestamp %q", exception.ErrInvalidArgument, s)
	}
	return UnixNanosFromTime(t), nil
}

func (t UnixNanos) Time() time.Time { return time.Unix(0, int64(t)).UTC() }

func (t UnixNanos) Add(d time.Duration) UnixNanos { return UnixNanos(int64(t) + int64(d)) }

func (t UnixNanos) Sub(o UnixNanos) time.Duration { return time.Duration(int64(t) - int64(o)) }

func (t UnixNanos) Millis() int64 { return int64(t) / int64(time.Millisecond) }

// ISO8601 formats with nanosecond precision, e.g. 2024-01-01T00:00:00.000000000Z.
func (t UnixNanos) ISO8601() string { return t.Time().Format("2006-01-02T15:04:05.000000000Z07:00") }

func (t UnixNanos) String() string { return t.ISO8601() }

// UUID4 identifies events and commands.
type UUID4 = uuid.UUID

func NewUUID4() UUID4 { return uuid.New() }
