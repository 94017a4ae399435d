package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chronosend/internal/recurrence"
)

func TestNormalizePhone(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"15551234567":        "15551234567",
		"+1 (555) 123-4567":  "15551234567",
		"15551234567@c.us":   "15551234567",
		"":                   "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePhone(in), in)
	}
}

func TestImmediateAndOneShot(t *testing.T) {
	t.Parallel()
	assert.True(t, Task{}.Immediate())
	assert.True(t, Task{Recurrence: recurrence.Once}.OneShot())
	assert.False(t, Task{Recurrence: recurrence.Once, ScheduleDate: "2025-03-10", ScheduleTime: "10:00"}.Immediate())
	assert.False(t, Task{Recurrence: recurrence.Daily}.Immediate())
	assert.False(t, Task{Recurrence: recurrence.Daily}.OneShot())
}

func TestAckLevelOrderingAndParsing(t *testing.T) {
	t.Parallel()
	assert.Less(t, int(AckPending), int(AckSent))
	assert.Less(t, int(AckSent), int(AckDelivered))
	assert.Less(t, int(AckDelivered), int(AckRead))
	assert.Less(t, int(AckRead), int(AckFailed))

	lv, err := ParseAckLevel("Delivered")
	require.NoError(t, err)
	assert.Equal(t, AckDelivered, lv)

	lv, err = ParseAckLevel("-1")
	require.NoError(t, err)
	assert.Equal(t, AckFailed, lv)

	_, err = ParseAckLevel("lost")
	assert.Error(t, err)
}

func TestAckLevelJSON(t *testing.T) {
	t.Parallel()
	b, err := json.Marshal(Receipt{MessageID: "m1", Ack: AckRead})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"ack":"read"`)

	var r Receipt
	require.NoError(t, json.Unmarshal([]byte(`{"message_id":"m1","ack":2}`), &r))
	assert.Equal(t, AckDelivered, r.Ack)
	require.NoError(t, json.Unmarshal([]byte(`{"message_id":"m1","ack":"sent"}`), &r))
	assert.Equal(t, AckSent, r.Ack)
}
