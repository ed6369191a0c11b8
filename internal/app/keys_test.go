package app

import (
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeKeyHex(t *testing.T) {
	raw := []byte("0123456789abcdef0123456789abcdef")
	decoded, err := DecodeKey(hex.EncodeToString(raw))
	require.NoError(t, err)
	require.Equal(t, raw, decoded)
}

func TestDecodeKeyBase64(t *testing.T) {
	raw := []byte{0xff, 0x01, 0x02, 0x03, 0xfe}
	decoded, err := DecodeKey(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	require.Equal(t, raw, decoded)
}

func TestDecodeKeyRawFallback(t *testing.T) {
	decoded, err := DecodeKey("not-any-encoding!")
	require.NoError(t, err)
	require.Equal(t, []byte("not-any-encoding!"), decoded)
}

func TestDecodeKeyEmpty(t *testing.T) {
	_, err := DecodeKey("   ")
	require.Error(t, err)
}

func TestKeyByteLength(t *testing.T) {
	raw := make([]byte, 32)
	length, err := KeyByteLength(hex.EncodeToString(raw))
	require.NoError(t, err)
	require.Equal(t, 32, length)

	length, err = KeyByteLength("")
	require.NoError(t, err)
	require.Zero(t, length)
}
