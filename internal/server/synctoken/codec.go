// Package synctoken encodes and decodes the opaque cursors exchanged with
// sync clients. A token is base64 of "<version>:<payload>". Version 2
// payloads are decimal seconds since the epoch; version 1 payloads are
// textual dates. Both versions are accepted on input, only version 2 is
// produced.
package synctoken

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/danmarauda/server/internal/common"
	"github.com/danmarauda/server/internal/timer"
)

const (
	version1 = "1"
	version2 = "2"

	microsecondsPerSecond = 1_000_000
)

// Codec converts between microsecond timestamps and wire tokens. Version 1
// date parsing is delegated to the Timer collaborator.
type Codec struct {
	timer timer.Timer
}

func NewCodec(t timer.Timer) *Codec {
	return &Codec{timer: t}
}

// Encode produces a version 2 token for the given microsecond timestamp.
func (c *Codec) Encode(ts int64) string {
	payload := fmt.Sprintf("%s:%d.%06d", version2, ts/microsecondsPerSecond, ts%microsecondsPerSecond)
	return base64.StdEncoding.EncodeToString([]byte(payload))
}

// EncodeSyncToken returns a token meaning "deliver changes strictly after
// ts". The one-microsecond bump keeps the boundary item from being
// re-fetched by the next request.
func (c *Codec) EncodeSyncToken(ts int64) string {
	return c.Encode(ts + 1)
}

// EncodeCursorToken returns a token carrying ts, the timestamp of the last
// delivered item, with no bump. The item service resumes from ts plus one
// microsecond with a >= comparison.
func (c *Codec) EncodeCursorToken(ts int64) string {
	return c.Encode(ts)
}

// Decode parses a token of either version into microseconds. It returns
// common.ErrInvalidToken when the token is not base64, carries no version
// prefix, or names an unknown version.
func (c *Codec) Decode(token string) (int64, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}

	version, payload, found := strings.Cut(string(raw), ":")
	if !found {
		return 0, fmt.Errorf("%w: missing version prefix", common.ErrInvalidToken)
	}

	switch version {
	case version1:
		ts, err := c.timer.StringDateToMicroseconds(payload)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
		}
		return ts, nil
	case version2:
		ts, err := parseDecimalSeconds(payload)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
		}
		return ts, nil
	default:
		return 0, fmt.Errorf("%w: unknown version %q", common.ErrInvalidToken, version)
	}
}

// parseDecimalSeconds converts "<seconds>[.<fraction>]" to microseconds
// without going through floating point, so sub-microsecond drift cannot
// creep in on large epochs.
func parseDecimalSeconds(payload string) (int64, error) {
	whole, fraction, _ := strings.Cut(payload, ".")

	seconds, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, err
	}

	micros := int64(0)
	if fraction != "" {
		// pad or truncate the fraction to microsecond precision
		if len(fraction) > 6 {
			fraction = fraction[:6]
		}
		for len(fraction) < 6 {
			fraction += "0"
		}
		micros, err = strconv.ParseInt(fraction, 10, 64)
		if err != nil {
			return 0, err
		}
	}

	return seconds*microsecondsPerSecond + micros, nil
}
