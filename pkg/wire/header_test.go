package wire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := &Header{
		Name:           "node-a",
		ClientVersion:  "peerlink/1.0",
		NetworkVersion: "v1",
		P2PAccept:      true,
		P2PUDPAccept:   true,
		P2PPort:        2000,
		StartTime:      1700000000,
	}

	data, err := EncodeHeader(h)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"network_ver":"v1"`)
	assert.Contains(t, string(data), `"p2p_udp_accept":true`)

	got, err := DecodeHeader(data)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestHeaderNumericVersions(t *testing.T) {
	data := []byte(`{"name":"py","client_ver":0.4,"network_ver":12345,"p2p_accept":false,"p2p_udp_accept":false,"p2p_port":2000,"start_time":1}`)

	h, err := DecodeHeader(data)
	require.NoError(t, err)
	assert.Equal(t, Version("12345"), h.NetworkVersion)
	assert.Equal(t, Version("0.4"), h.ClientVersion)
}

func TestHeaderValidation(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"no name", `{"network_ver":"v1"}`, ErrMissingName},
		{"no network version", `{"name":"a"}`, ErrMissingNetworkVersion},
		{"bad port", `{"name":"a","network_ver":"v1","p2p_port":70000}`, ErrBadPort},
		{"bool version", `{"name":"a","network_ver":true}`, ErrBadVersion},
		{"object version", `{"name":"a","network_ver":{"x":1}}`, ErrBadVersion},
		{"long name", `{"name":"` + strings.Repeat("n", 256) + `","network_ver":"v1"}`, ErrNameTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeHeader([]byte(tt.data))
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := DecodeHeader(nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)
	_, err = DecodeHeader([]byte("{not json"))
	assert.Error(t, err)
}

func TestHandshakeMessages(t *testing.T) {
	data, err := EncodePublicKeyMessage("cHVibGlj")
	require.NoError(t, err)
	assert.JSONEq(t, `{"public-key":"cHVibGlj"}`, string(data))

	key, err := DecodePublicKeyMessage(data)
	require.NoError(t, err)
	assert.Equal(t, "cHVibGlj", key)

	_, err = DecodePublicKeyMessage([]byte(`{}`))
	assert.ErrorIs(t, err, ErrMissingField)

	msg := &SessionMessage{
		SessionKey: "a2V5",
		Header:     &Header{Name: "b", NetworkVersion: "v1"},
	}
	data, err = EncodeSessionMessage(msg)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"aes-key":"a2V5"`)

	got, err := DecodeSessionMessage(data)
	require.NoError(t, err)
	assert.Equal(t, msg, got)

	_, err = DecodeSessionMessage([]byte(`{"aes-key":"a2V5"}`))
	assert.ErrorIs(t, err, ErrMissingField)
	_, err = DecodeSessionMessage([]byte(`{"header":{"name":"b","network_ver":"v1"}}`))
	assert.ErrorIs(t, err, ErrMissingField)
}
