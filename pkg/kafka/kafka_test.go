package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeEvents(t *testing.T) {
	msgs, err := encodeEvents([]Event{
		{Key: "42", Value: map[string]string{"type": "saved", "id": "42"}},
		{Key: "43", Value: []string{"a"}},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, []byte("42"), msgs[0].Key)
	assert.JSONEq(t, `{"type":"saved","id":"42"}`, string(msgs[0].Value))
	assert.JSONEq(t, `["a"]`, string(msgs[1].Value))
}

func TestEncodeEventsRejectsUnmarshalable(t *testing.T) {
	_, err := encodeEvents([]Event{{Key: "x", Value: make(chan int)}})
	assert.Error(t, err)
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		ID string `json:"id"`
	}
	got, err := DecodeJSON[payload]([]byte(`{"id":"7"}`))
	require.NoError(t, err)
	assert.Equal(t, "7", got.ID)

	_, err = DecodeJSON[payload]([]byte(`{`))
	assert.Error(t, err)
}
