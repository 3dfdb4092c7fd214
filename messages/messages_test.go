package messages

import (
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeControl(t *testing.T) {
	action, err := DecodeControl([]byte(`{"type":"control","payload":{"action":"start"}}`))
	require.NoError(t, err)
	assert.Equal(t, ActionStart, action)

	data, err := sonic.Marshal(NewControlMessage(ActionStop))
	require.NoError(t, err)
	action, err = DecodeControl(data)
	require.NoError(t, err)
	assert.Equal(t, ActionStop, action)
}

func TestDecodeControl_Rejects(t *testing.T) {
	for name, raw := range map[string]string{
		"not json":       `{`,
		"wrong type":     `{"type":"audio","payload":{"data":""}}`,
		"unknown action": `{"type":"control","payload":{"action":"end_turn"}}`,
		"bad payload":    `{"type":"control","payload":"start"}`,
	} {
		_, err := DecodeControl([]byte(raw))
		assert.Error(t, err, name)
	}
}

func TestServerMessageEncoding(t *testing.T) {
	data, err := sonic.Marshal(NewStateMessage("abc", "idle", "remote_error"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"state","sessionId":"abc","payload":{"state":"idle","reason":"remote_error"}}`, string(data))

	data, err = sonic.Marshal(NewSnapshotMessage("", "idle", nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"snapshot","payload":{"state":"idle","transcript":[]}}`, string(data))

	data, err = sonic.Marshal(NewPongMessage(""))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong"}`, string(data))
}
