package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/bencode"
)

func TestRequestRoundTrip(t *testing.T) {
	req := Request{
		ID:         []byte("01234567890123456789"),
		Method:     "ping",
		Args:       []interface{}{},
		SenderArgs: map[string]interface{}{"protocolVersion": int64(1)},
	}
	data, err := EncodeRequest(req)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	got, ok := decoded.(*Request)
	require.True(t, ok)
	assert.Equal(t, req.ID, got.ID)
	assert.Equal(t, req.Method, got.Method)
}

func TestResponseRoundTrip(t *testing.T) {
	resp := Response{ID: []byte("01234567890123456789"), Result: []byte("pong")}
	data, err := EncodeResponse(resp)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	got, ok := decoded.(*Response)
	require.True(t, ok)
	assert.Equal(t, resp.ID, got.ID)
}

func TestErrorRoundTrip(t *testing.T) {
	e := ErrorMessage{ID: []byte("01234567890123456789"), Class: "InvalidToken", Message: "expired"}
	data, err := EncodeError(e)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	got, ok := decoded.(*ErrorMessage)
	require.True(t, ok)
	assert.Equal(t, e.Class, got.Class)
	assert.Equal(t, e.Message, got.Message)
}

func TestDecodeRejectsShortEnvelope(t *testing.T) {
	_, err := Decode([]byte("li1ei2ee"))
	assert.Error(t, err)
}

func TestDecodeRejectsUnknownTag(t *testing.T) {
	raw := []interface{}{[]byte("01234567890123456789"), int64(9), []byte("x")}
	data, err := bencode.EncodeBytes(raw)
	require.NoError(t, err)
	_, err = Decode(data)
	assert.Error(t, err)
}
