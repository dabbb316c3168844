package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type progress struct {
	RunID     string `json:"run_id"`
	Iteration int    `json:"iteration"`
}

func TestEncodeKeysByEvent(t *testing.T) {
	msgs, err := encode([]Event{
		{Key: "run-a", Value: progress{RunID: "run-a", Iteration: 1}},
		{Key: "run-b", Value: progress{RunID: "run-b", Iteration: 7}},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "run-a", string(msgs[0].Key))
	assert.JSONEq(t, `{"run_id":"run-b","iteration":7}`, string(msgs[1].Value))
}

func TestEncodeRejectsUnmarshalable(t *testing.T) {
	_, err := encode([]Event{{Key: "x", Value: make(chan int)}})
	assert.Error(t, err)
}

func TestDecodeJSON(t *testing.T) {
	got, err := DecodeJSON[progress]([]byte(`{"run_id":"r","iteration":3}`))
	require.NoError(t, err)
	assert.Equal(t, progress{RunID: "r", Iteration: 3}, got)

	_, err = DecodeJSON[progress]([]byte(`{`))
	assert.Error(t, err)
}
