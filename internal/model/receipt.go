package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"chronosend/internal/recurrence"
)

// AckLevel is the ordinal transport delivery status.
type AckLevel int

const (
	AckPending AckLevel = iota
	AckSent
	AckDelivered
	AckRead
	AckFailed
)

var ackNames = [...]string{"pending", "sent", "delivered", "read", "failed"}

func (a AckLevel) String() string {
	if a < 0 || int(a) >= len(ackNames) {
		return "unknown"
	}
	return ackNames[a]
}

func (a AckLevel) MarshalJSON() ([]byte, error) { return json.Marshal(a.String()) }

func (a *AckLevel) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		lv, err := ackFromCode(n)
		if err != nil {
			return err
		}
		*a = lv
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	lv, err := ParseAckLevel(s)
	if err != nil {
		return err
	}
	*a = lv
	return nil
}

// ParseAckLevel accepts a level name or a gateway numeric ack code.
func ParseAckLevel(s string) (AckLevel, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range ackNames {
		if n == s {
			return AckLevel(i), nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil {
		return ackFromCode(n)
	}
	return AckPending, fmt.Errorf("unknown ack level %q", s)
}

// ackFromCode maps gateway codes: -1 error, 0 pending, 1 server, 2 device, 3 read, 4 played.
func ackFromCode(n int) (AckLevel, error) {
	switch {
	case n == -1:
		return AckFailed, nil
	case n == 0:
		return AckPending, nil
	case n == 1:
		return AckSent, nil
	case n == 2:
		return AckDelivered, nil
	case n == 3 || n == 4:
		return AckRead, nil
	}
	return AckPending, fmt.Errorf("unknown ack code %d", n)
}

// Receipt is the delivery record for one transport message. TaskID is a weak reference.
type Receipt struct {
	MessageID string    `json:"message_id"`
	TaskID    string    `json:"task_id,omitempty"`
	Ack       AckLevel  `json:"ack"`
	// Acked is set once a transport ack has been applied. Until then Ack is
	// the level the send call reported and UpdatedAt is the local send time.
	Acked     bool      `json:"acked"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReceiptView is a receipt joined with its task. Task fields are empty once the task is gone.
type ReceiptView struct {
	Receipt
	Phone      string          `json:"phone,omitempty"`
	Text       string          `json:"text,omitempty"`
	Recurrence recurrence.Kind `json:"recurrence,omitempty"`
}
