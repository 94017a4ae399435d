package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"chronosend/internal/model"
	"chronosend/internal/transport"
)

// millisThreshold separates unix seconds from unix milliseconds. Seconds stay
// below it until the year 33658.
const millisThreshold = 1e12

// AckPayload is the webhook body the gateway posts for each ack change.
type AckPayload struct {
	ID        string         `json:"id"`
	Ack       model.AckLevel `json:"ack"`
	Timestamp AckTime        `json:"timestamp,omitempty"`
}

// AckTime is the gateway's ack time: unix seconds (integer or fractional), unix
// milliseconds, or an RFC 3339 string. Zero, null and "" leave it unset.
type AckTime struct {
	time.Time
}

func (t *AckTime) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		t.Time = time.Time{}
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			t.Time = time.Time{}
			return nil
		}
		if v, err := time.Parse(time.RFC3339Nano, s); err == nil {
			t.Time = v
			return nil
		}
		raw = s
	}
	v, err := parseUnix(raw)
	if err != nil {
		return fmt.Errorf("ack timestamp %q: want unix seconds, unix milliseconds or RFC 3339", raw)
	}
	t.Time = v
	return nil
}

func parseUnix(s string) (time.Time, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		switch {
		case n <= 0:
			return time.Time{}, nil
		case n >= millisThreshold:
			return time.UnixMilli(n), nil
		default:
			return time.Unix(n, 0), nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, err
	}
	switch {
	case f <= 0:
		return time.Time{}, nil
	case f >= millisThreshold:
		return time.UnixMilli(int64(f)), nil
	}
	sec := int64(f)
	return time.Unix(sec, int64((f-float64(sec))*1e9)).Round(time.Microsecond), nil
}

// DecodeAck parses a webhook body into an ack event. A missing timestamp leaves At zero.
func (c *Client) DecodeAck(body []byte) (transport.AckEvent, error) {
	var p AckPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return transport.AckEvent{}, fmt.Errorf("decode ack: %w", err)
	}
	if strings.TrimSpace(p.ID) == "" {
		return transport.AckEvent{}, errors.New("decode ack: missing id")
	}
	return transport.AckEvent{MessageID: p.ID, Level: p.Ack, At: p.Timestamp.Time}, nil
}
