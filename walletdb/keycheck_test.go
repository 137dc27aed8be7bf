package walletdb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsPlausiblePubKeyRejectsWrongLength(t *testing.T) {
	require.False(t, isPlausiblePubKey(nil))
	require.False(t, isPlausiblePubKey(make([]byte, 10)))
	require.False(t, isPlausiblePubKey(make([]byte, 64)))
}

func TestIntegrityHashIsDeterministic(t *testing.T) {
	pub := []byte{1, 2, 3}
	priv := []byte{4, 5, 6}
	require.Equal(t, integrityHash(pub, priv), integrityHash(pub, priv))
}

func TestHash160Is20Bytes(t *testing.T) {
	h := hash160([]byte("redeem script"))
	require.Len(t, h, 20)
}
