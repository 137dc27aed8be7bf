package walletdb

import (
	"fmt"
	"math/big"
)

// Tag is the ASCII discriminator that is the first component of every key.
// It is the sole record-kind discriminator (spec §3: "no global header
// distinguishes records").
type Tag string

// The record taxonomy, exhaustive per spec §3. Any tag not in this set is
// an *unknown record*: counted, never rejected (invariant 1).
const (
	TagName             Tag = "name"
	TagPurpose          Tag = "purpose"
	TagTx               Tag = "tx"
	TagKey              Tag = "key"
	TagWKey             Tag = "wkey"
	TagCKey             Tag = "ckey"
	TagMKey             Tag = "mkey"
	TagKeyMeta          Tag = "keymeta"
	TagWatchMeta        Tag = "watchmeta"
	TagWatchS           Tag = "watchs"
	TagCScript          Tag = "cscript"
	TagPool             Tag = "pool"
	TagOrderPosNext     Tag = "orderposnext"
	TagBestBlock        Tag = "bestblock"
	TagBestBlockNoMerkl Tag = "bestblock_nomerkle"
	TagMinVersion       Tag = "minversion"
	TagVersion          Tag = "version"
	TagDefaultKey       Tag = "defaultkey"
	TagDestData         Tag = "destdata"
	TagHDChain          Tag = "hdchain"
	TagFlags            Tag = "flags"
	TagACEntry          Tag = "acentry"
	TagZCSerial         Tag = "zcserial"
	TagZeroCoin         Tag = "zerocoin"
	TagUnloadedZeroCoin Tag = "unloadedzerocoin"
	TagZCAccumulator    Tag = "zcaccumulator"
	TagCalculatedZCBloc Tag = "calculatedzcblock"
)

// RecordClass buckets a tag by the severity a decode/validate failure on it
// carries (spec §4.3 "Error classification").
type RecordClass int

const (
	ClassUnknown RecordClass = iota
	ClassOther               // known tag, non-critical on failure
	ClassTx                  // non-critical, but sets the rescan-on-next-startup flag
	ClassFlags               // failure is TooNew, not Corrupt
	ClassKeyBearing          // failure is catastrophic (Corrupt)
)

// keyBearingTags is invariant-2's set: at most one of {key, wkey, ckey} may
// exist per public key, and all three plus mkey/defaultkey are catastrophic
// on failure.
var keyBearingTags = map[Tag]bool{
	TagKey:        true,
	TagWKey:       true,
	TagCKey:       true,
	TagMKey:       true,
	TagDefaultKey: true,
}

func classify(t Tag) RecordClass {
	switch {
	case keyBearingTags[t]:
		return ClassKeyBearing
	case t == TagFlags:
		return ClassFlags
	case t == TagTx:
		return ClassTx
	case isKnownTag(t):
		return ClassOther
	default:
		return ClassUnknown
	}
}

func isKnownTag(t Tag) bool {
	switch t {
	case TagName, TagPurpose, TagTx, TagKey, TagWKey, TagCKey, TagMKey, TagKeyMeta,
		TagWatchMeta, TagWatchS, TagCScript, TagPool, TagOrderPosNext, TagBestBlock,
		TagBestBlockNoMerkl, TagMinVersion, TagVersion, TagDefaultKey, TagDestData,
		TagHDChain, TagFlags, TagACEntry, TagZCSerial, TagZeroCoin, TagUnloadedZeroCoin,
		TagZCAccumulator, TagCalculatedZCBloc:
		return true
	default:
		return false
	}
}

// decodeTag reads the leading tag off a raw key. A failure here is always
// catastrophic: "If decoding the tag itself fails, the record is
// catastrophically corrupt" (spec §4.3 step 4a).
func decodeTag(key []byte) (Tag, *decoder, error) {
	d := newDecoder(key)
	raw, err := d.varBytes()
	if err != nil {
		return "", nil, fmt.Errorf("%w: leading tag: %w", ErrCorrupt, err)
	}
	return Tag(raw), d, nil
}

// ---------------------------------------------------------------------
// Key builders. Declaration-order concatenation, no wrapping header
// (spec §4.1).
// ---------------------------------------------------------------------

func tagKey(t Tag) []byte { return newEncoder().varString(string(t)).bytes() }

func addrKey(t Tag, address string) []byte {
	return newEncoder().varString(string(t)).varString(address).bytes()
}

func pubKeyKey(t Tag, pubKey []byte) []byte {
	return newEncoder().varString(string(t)).varBytes(pubKey).bytes()
}

func txKeyBytes(hash [32]byte) []byte {
	return newEncoder().varString(string(TagTx)).fixed(hash[:]).bytes()
}

func mkeyKeyBytes(id uint32) []byte {
	return newEncoder().varString(string(TagMKey)).u32(id).bytes()
}

func watchKeyBytes(t Tag, script []byte) []byte {
	return newEncoder().varString(string(t)).varBytes(script).bytes()
}

func cscriptKeyBytes(hash160 [20]byte) []byte {
	return newEncoder().varString(string(TagCScript)).fixed(hash160[:]).bytes()
}

func poolKeyBytes(index uint64) []byte {
	return newEncoder().varString(string(TagPool)).u64(index).bytes()
}

func destDataKeyBytes(address, key string) []byte {
	return newEncoder().varString(string(TagDestData)).varString(address).varString(key).bytes()
}

func zcAccumulatorKeyBytes(denom int32, pubCoinID []byte) []byte {
	return newEncoder().varString(string(TagZCAccumulator)).i32(denom).varBytes(pubCoinID).bytes()
}

// ---------------------------------------------------------------------
// Value types.
// ---------------------------------------------------------------------

// PlainKeyValue is the value of a `key` record: the raw private key plus an
// integrity tag that may be absent on very old wallets (spec invariant 3,
// §4.1 optional trailing field).
type PlainKeyValue struct {
	PrivKey  []byte
	Hash     [32]byte
	HasHash  bool
}

func (v *PlainKeyValue) encode() []byte {
	e := newEncoder().varBytes(v.PrivKey)
	if v.HasHash {
		e.fixed(v.Hash[:])
	}
	return e.bytes()
}

func decodePlainKeyValue(b []byte) (*PlainKeyValue, error) {
	d := newDecoder(b)
	priv, err := d.varBytes()
	if err != nil {
		return nil, fmt.Errorf("%w: key.privkey: %w", ErrCorrupt, err)
	}
	v := &PlainKeyValue{PrivKey: priv}
	hashBytes, ok, err := d.optionalFixed(32)
	if err != nil {
		return nil, fmt.Errorf("%w: key.hash: %w", ErrCorrupt, err)
	}
	if ok {
		v.HasHash = true
		copy(v.Hash[:], hashBytes)
	}
	return v, nil
}

// LegacyKeyValue is the `wkey` record: the legacy wrapped-private-key form,
// carrying creation/expiry times and a free-text comment that spec.md's
// taxonomy summary omits (SPEC_FULL.md supplement #2).
type LegacyKeyValue struct {
	PrivKey     []byte
	TimeCreated int64
	TimeExpires int64
	Comment     string
}

func (v *LegacyKeyValue) encode() []byte {
	return newEncoder().
		varBytes(v.PrivKey).
		i64(v.TimeCreated).
		i64(v.TimeExpires).
		varString(v.Comment).
		bytes()
}

func decodeLegacyKeyValue(b []byte) (*LegacyKeyValue, error) {
	d := newDecoder(b)
	v := &LegacyKeyValue{}
	var err error
	if v.PrivKey, err = d.varBytes(); err != nil {
		return nil, fmt.Errorf("%w: wkey.privkey: %w", ErrCorrupt, err)
	}
	if v.TimeCreated, err = d.i64(); err != nil {
		return nil, fmt.Errorf("%w: wkey.timeCreated: %w", ErrCorrupt, err)
	}
	if v.TimeExpires, err = d.i64(); err != nil {
		return nil, fmt.Errorf("%w: wkey.timeExpires: %w", ErrCorrupt, err)
	}
	if v.Comment, err = d.varString(); err != nil {
		return nil, fmt.Errorf("%w: wkey.comment: %w", ErrCorrupt, err)
	}
	return v, nil
}

// MasterKey is the `mkey` record: KDF parameters plus the encrypted master
// secret (SPEC_FULL.md supplement #3 enumerates the historical fields).
type MasterKey struct {
	EncryptedKey     []byte
	Salt             []byte
	DerivationMethod uint32
	Iterations       uint32
	OtherParams      []byte
	CreateTime       int64
}

func (v *MasterKey) encode() []byte {
	return newEncoder().
		varBytes(v.EncryptedKey).
		varBytes(v.Salt).
		u32(v.DerivationMethod).
		u32(v.Iterations).
		varBytes(v.OtherParams).
		i64(v.CreateTime).
		bytes()
}

func decodeMasterKey(b []byte) (*MasterKey, error) {
	d := newDecoder(b)
	v := &MasterKey{}
	var err error
	if v.EncryptedKey, err = d.varBytes(); err != nil {
		return nil, fmt.Errorf("%w: mkey.encryptedKey: %w", ErrCorrupt, err)
	}
	if v.Salt, err = d.varBytes(); err != nil {
		return nil, fmt.Errorf("%w: mkey.salt: %w", ErrCorrupt, err)
	}
	if v.DerivationMethod, err = d.u32(); err != nil {
		return nil, fmt.Errorf("%w: mkey.derivationMethod: %w", ErrCorrupt, err)
	}
	if v.Iterations, err = d.u32(); err != nil {
		return nil, fmt.Errorf("%w: mkey.iterations: %w", ErrCorrupt, err)
	}
	if v.OtherParams, err = d.varBytes(); err != nil {
		return nil, fmt.Errorf("%w: mkey.otherParams: %w", ErrCorrupt, err)
	}
	if v.CreateTime, err = d.i64(); err != nil {
		return nil, fmt.Errorf("%w: mkey.createTime: %w", ErrCorrupt, err)
	}
	return v, nil
}

// KeyMetadata is the value of both `keymeta` and `watchmeta` (spec: "For
// watch-only scripts" reuses the same metadata shape).
type KeyMetadata struct {
	Version       int32
	CreateTime    int64
	HDKeypath     string
	SeedID        [20]byte
	HDMasterKeyID [20]byte
}

func (v *KeyMetadata) encode() []byte {
	return newEncoder().
		i32(v.Version).
		i64(v.CreateTime).
		varString(v.HDKeypath).
		fixed(v.SeedID[:]).
		fixed(v.HDMasterKeyID[:]).
		bytes()
}

func decodeKeyMetadata(b []byte) (*KeyMetadata, error) {
	d := newDecoder(b)
	v := &KeyMetadata{}
	var err error
	if v.Version, err = d.i32(); err != nil {
		return nil, fmt.Errorf("%w: keymeta.version: %w", ErrCorrupt, err)
	}
	if v.CreateTime, err = d.i64(); err != nil {
		return nil, fmt.Errorf("%w: keymeta.createTime: %w", ErrCorrupt, err)
	}
	if v.HDKeypath, err = d.varString(); err != nil {
		return nil, fmt.Errorf("%w: keymeta.hdKeypath: %w", ErrCorrupt, err)
	}
	seedID, ok, err := d.optionalFixed(20)
	if err != nil {
		return nil, fmt.Errorf("%w: keymeta.seedId: %w", ErrCorrupt, err)
	}
	if ok {
		copy(v.SeedID[:], seedID)
	}
	masterID, ok, err := d.optionalFixed(20)
	if err != nil {
		return nil, fmt.Errorf("%w: keymeta.hdMasterKeyId: %w", ErrCorrupt, err)
	}
	if ok {
		copy(v.HDMasterKeyID[:], masterID)
	}
	return v, nil
}

// KeyPoolEntry is the `pool` record: a pre-generated reserve key, tagged
// internal/external for HD wallets (SPEC_FULL.md supplement #4).
type KeyPoolEntry struct {
	CreateTime int64
	PubKey     []byte
	Internal   bool
}

func (v *KeyPoolEntry) encode() []byte {
	return newEncoder().i64(v.CreateTime).varBytes(v.PubKey).bool(v.Internal).bytes()
}

func decodeKeyPoolEntry(b []byte) (*KeyPoolEntry, error) {
	d := newDecoder(b)
	v := &KeyPoolEntry{}
	var err error
	if v.CreateTime, err = d.i64(); err != nil {
		return nil, fmt.Errorf("%w: pool.createTime: %w", ErrCorrupt, err)
	}
	if v.PubKey, err = d.varBytes(); err != nil {
		return nil, fmt.Errorf("%w: pool.pubKey: %w", ErrCorrupt, err)
	}
	// Internal flag was added later; absence means external (false).
	if d.remaining() > 0 {
		if v.Internal, err = d.bool(); err != nil {
			return nil, fmt.Errorf("%w: pool.internal: %w", ErrCorrupt, err)
		}
	}
	return v, nil
}

// Locator is an opaque chain-position marker: a sequence of block hashes,
// persisted under bestblock_nomerkle (and, for legacy files only, under the
// always-empty bestblock).
type Locator struct {
	Hashes [][32]byte
}

func (v *Locator) encode() []byte {
	e := newEncoder()
	putCompactSize(&e.buf, uint64(len(v.Hashes)))
	for _, h := range v.Hashes {
		e.fixed(h[:])
	}
	return e.bytes()
}

func decodeLocator(b []byte) (*Locator, error) {
	d := newDecoder(b)
	n, err := readCompactSize(d.r)
	if err != nil {
		return nil, fmt.Errorf("%w: locator.count: %w", ErrCorrupt, err)
	}
	v := &Locator{Hashes: make([][32]byte, 0, n)}
	for i := uint64(0); i < n; i++ {
		h, err := d.fixed(32)
		if err != nil {
			return nil, fmt.Errorf("%w: locator.hash[%d]: %w", ErrCorrupt, i, err)
		}
		var arr [32]byte
		copy(arr[:], h)
		v.Hashes = append(v.Hashes, arr)
	}
	return v, nil
}

func (v *Locator) empty() bool { return len(v.Hashes) == 0 }

// HDChain is the wallet-wide `hdchain` record.
type HDChain struct {
	Version               uint32
	ExternalChainCounter  uint64
	InternalChainCounter  uint64
	SeedID                [20]byte
}

func (v *HDChain) encode() []byte {
	return newEncoder().
		u32(v.Version).
		u64(v.ExternalChainCounter).
		u64(v.InternalChainCounter).
		fixed(v.SeedID[:]).
		bytes()
}

func decodeHDChain(b []byte) (*HDChain, error) {
	d := newDecoder(b)
	v := &HDChain{}
	var err error
	if v.Version, err = d.u32(); err != nil {
		return nil, fmt.Errorf("%w: hdchain.version: %w", ErrCorrupt, err)
	}
	if v.ExternalChainCounter, err = d.u64(); err != nil {
		return nil, fmt.Errorf("%w: hdchain.externalCounter: %w", ErrCorrupt, err)
	}
	if v.InternalChainCounter, err = d.u64(); err != nil {
		return nil, fmt.Errorf("%w: hdchain.internalCounter: %w", ErrCorrupt, err)
	}
	seedID, ok, err := d.optionalFixed(20)
	if err != nil {
		return nil, fmt.Errorf("%w: hdchain.seedId: %w", ErrCorrupt, err)
	}
	if ok {
		copy(v.SeedID[:], seedID)
	}
	return v, nil
}

// ZCSerialEntry is the `zcserial` extension record: a zero-knowledge coin
// spend entry keyed by the serial bigint.
type ZCSerialEntry struct {
	IsUsed bool
	TxHash [32]byte
}

func (v *ZCSerialEntry) encode() []byte {
	return newEncoder().bool(v.IsUsed).fixed(v.TxHash[:]).bytes()
}

func decodeZCSerialEntry(b []byte) (*ZCSerialEntry, error) {
	d := newDecoder(b)
	v := &ZCSerialEntry{}
	var err error
	if v.IsUsed, err = d.bool(); err != nil {
		return nil, fmt.Errorf("%w: zcserial.isUsed: %w", ErrCorrupt, err)
	}
	h, err := d.fixed(32)
	if err != nil {
		return nil, fmt.Errorf("%w: zcserial.txHash: %w", ErrCorrupt, err)
	}
	copy(v.TxHash[:], h)
	return v, nil
}

// ZCCoinEntry is the `zerocoin`/`unloadedzerocoin` extension record.
type ZCCoinEntry struct {
	Height        int32
	Denomination  int32
	IsUsed        bool
	Randomness    *big.Int
	Serial        *big.Int
}

func (v *ZCCoinEntry) encode() []byte {
	randBytes := []byte{}
	if v.Randomness != nil {
		randBytes = v.Randomness.Bytes()
	}
	serialBytes := []byte{}
	if v.Serial != nil {
		serialBytes = v.Serial.Bytes()
	}
	return newEncoder().
		i32(v.Height).
		i32(v.Denomination).
		bool(v.IsUsed).
		varBytes(randBytes).
		varBytes(serialBytes).
		bytes()
}

func decodeZCCoinEntry(b []byte) (*ZCCoinEntry, error) {
	d := newDecoder(b)
	v := &ZCCoinEntry{}
	var err error
	if v.Height, err = d.i32(); err != nil {
		return nil, fmt.Errorf("%w: zerocoin.height: %w", ErrCorrupt, err)
	}
	if v.Denomination, err = d.i32(); err != nil {
		return nil, fmt.Errorf("%w: zerocoin.denomination: %w", ErrCorrupt, err)
	}
	if v.IsUsed, err = d.bool(); err != nil {
		return nil, fmt.Errorf("%w: zerocoin.isUsed: %w", ErrCorrupt, err)
	}
	randBytes, err := d.varBytes()
	if err != nil {
		return nil, fmt.Errorf("%w: zerocoin.randomness: %w", ErrCorrupt, err)
	}
	v.Randomness = new(big.Int).SetBytes(randBytes)
	serialBytes, err := d.varBytes()
	if err != nil {
		return nil, fmt.Errorf("%w: zerocoin.serial: %w", ErrCorrupt, err)
	}
	v.Serial = new(big.Int).SetBytes(serialBytes)
	return v, nil
}

// ZCAccumulatorEntry is the `zcaccumulator` extension record.
type ZCAccumulatorEntry struct {
	Value []byte
}

func (v *ZCAccumulatorEntry) encode() []byte {
	return newEncoder().varBytes(v.Value).bytes()
}

func decodeZCAccumulatorEntry(b []byte) (*ZCAccumulatorEntry, error) {
	d := newDecoder(b)
	val, err := d.varBytes()
	if err != nil {
		return nil, fmt.Errorf("%w: zcaccumulator.value: %w", ErrCorrupt, err)
	}
	return &ZCAccumulatorEntry{Value: val}, nil
}
