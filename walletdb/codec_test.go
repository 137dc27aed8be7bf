package walletdb

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestCompactSizeRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.Uint64().Draw(t, "n")
		e := newEncoder()
		putCompactSize(&e.buf, n)
		d := newDecoder(e.bytes())
		got, err := readCompactSize(d.r)
		require.NoError(t, err)
		require.Equal(t, n, got)
		require.True(t, d.atEnd())
	})
}

func TestVarBytesRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := rapid.SliceOf(rapid.Byte()).Draw(t, "b")
		e := newEncoder().varBytes(b)
		d := newDecoder(e.bytes())
		got, err := d.varBytes()
		require.NoError(t, err)
		require.Equal(t, b, got)
		require.True(t, d.atEnd())
	})
}

func TestOptionalFixedAbsentOnEOF(t *testing.T) {
	d := newDecoder(nil)
	b, ok, err := d.optionalFixed(32)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, b)
}

func TestOptionalFixedPresent(t *testing.T) {
	payload := make([]byte, 32)
	for i := range payload {
		payload[i] = byte(i)
	}
	d := newDecoder(payload)
	b, ok, err := d.optionalFixed(32)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, payload, b)
	require.True(t, d.atEnd())
}

func TestOptionalFixedShortReadIsCorrupt(t *testing.T) {
	d := newDecoder([]byte{1, 2, 3})
	_, _, err := d.optionalFixed(32)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestPlainKeyValueRoundTripWithAndWithoutHash(t *testing.T) {
	withHash := &PlainKeyValue{PrivKey: []byte{1, 2, 3}, Hash: [32]byte{9}, HasHash: true}
	got, err := decodePlainKeyValue(withHash.encode())
	require.NoError(t, err)
	require.Equal(t, withHash, got)

	withoutHash := &PlainKeyValue{PrivKey: []byte{4, 5, 6}}
	got2, err := decodePlainKeyValue(withoutHash.encode())
	require.NoError(t, err)
	require.Equal(t, withoutHash, got2)
}

func TestHDChainRoundTrip(t *testing.T) {
	v := &HDChain{Version: 1, ExternalChainCounter: 7, InternalChainCounter: 3, SeedID: [20]byte{1, 2, 3}}
	got, err := decodeHDChain(v.encode())
	require.NoError(t, err)
	require.Equal(t, v, got)
}

func TestKeyMetadataRoundTripLegacyNoSeed(t *testing.T) {
	// Simulate a legacy record that ends right after HDKeypath, before the
	// seedId/hdMasterKeyId fields existed.
	e := newEncoder().i32(1).i64(1000).varString("")
	got, err := decodeKeyMetadata(e.bytes())
	require.NoError(t, err)
	require.Equal(t, int32(1), got.Version)
	require.Equal(t, [20]byte{}, got.SeedID)
}
