package walletdb

import (
	"fmt"
	"sort"
)

// unorderedSentinel marks a tx record that has never been assigned a
// position in wallet transaction order; ReorderTransactions is invoked once
// per load if any such record is seen (spec §4.3 "Post-scan actions").
const unorderedSentinel int64 = -1

// legacyTimeQuirkLow/High bound the historical band where a wallet's
// on-disk format reused fTimeReceivedIsTxTime as a de facto version number.
// Retained verbatim per spec §9 ("Legacy version bands... are historical.
// Retain them verbatim; they are part of the on-disk contract").
const (
	legacyTimeQuirkLow  = 31404
	legacyTimeQuirkHigh = 31703
)

// TxRecord is the wallet's view of a transaction — the `tx` record's value.
// Field set per SPEC_FULL.md's reconstruction of the legacy CWalletTx
// layout (original_source/ carried no source for this repo — see
// DESIGN.md).
type TxRecord struct {
	Hash     [32]byte
	RawTx    []byte
	BlockHash [32]byte

	MerkleBranch [][32]byte
	MerkleIndex  int32

	MapValue map[string]string

	OrderPos int64

	TimeReceivedIsTxTime uint32
	TimeReceived         uint64
	FromMe               bool
	Spent                []bool

	// needsRewrite is set by the legacy-band repair; the loader rewrites
	// such records once the scan completes (spec §4.3).
	needsRewrite bool
}

func (v *TxRecord) encode() []byte {
	e := newEncoder().varBytes(v.RawTx).fixed(v.BlockHash[:])

	putCompactSize(&e.buf, uint64(len(v.MerkleBranch)))
	for _, h := range v.MerkleBranch {
		e.fixed(h[:])
	}
	e.i32(v.MerkleIndex)

	putCompactSize(&e.buf, uint64(len(v.MapValue)))
	keys := make([]string, 0, len(v.MapValue))
	for k := range v.MapValue {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		e.varString(k).varString(v.MapValue[k])
	}

	e.i64(v.OrderPos)
	e.u32(v.TimeReceivedIsTxTime)
	e.u64(v.TimeReceived)
	e.bool(v.FromMe)

	putCompactSize(&e.buf, uint64(len(v.Spent)))
	for _, s := range v.Spent {
		e.bool(s)
	}
	return e.bytes()
}

func decodeTxRecord(hash [32]byte, b []byte) (*TxRecord, error) {
	d := newDecoder(b)
	v := &TxRecord{Hash: hash, MapValue: map[string]string{}}
	var err error

	if v.RawTx, err = d.varBytes(); err != nil {
		return nil, fmt.Errorf("%w: tx.raw: %w", ErrCorrupt, err)
	}
	bh, err := d.fixed(32)
	if err != nil {
		return nil, fmt.Errorf("%w: tx.blockHash: %w", ErrCorrupt, err)
	}
	copy(v.BlockHash[:], bh)

	nBranch, err := readCompactSize(d.r)
	if err != nil {
		return nil, fmt.Errorf("%w: tx.merkleBranch.count: %w", ErrCorrupt, err)
	}
	for i := uint64(0); i < nBranch; i++ {
		h, err := d.fixed(32)
		if err != nil {
			return nil, fmt.Errorf("%w: tx.merkleBranch[%d]: %w", ErrCorrupt, i, err)
		}
		var arr [32]byte
		copy(arr[:], h)
		v.MerkleBranch = append(v.MerkleBranch, arr)
	}
	if v.MerkleIndex, err = d.i32(); err != nil {
		return nil, fmt.Errorf("%w: tx.merkleIndex: %w", ErrCorrupt, err)
	}

	nMap, err := readCompactSize(d.r)
	if err != nil {
		return nil, fmt.Errorf("%w: tx.mapValue.count: %w", ErrCorrupt, err)
	}
	for i := uint64(0); i < nMap; i++ {
		k, err := d.varString()
		if err != nil {
			return nil, fmt.Errorf("%w: tx.mapValue[%d].key: %w", ErrCorrupt, i, err)
		}
		val, err := d.varString()
		if err != nil {
			return nil, fmt.Errorf("%w: tx.mapValue[%d].value: %w", ErrCorrupt, i, err)
		}
		v.MapValue[k] = val
	}

	if v.OrderPos, err = d.i64(); err != nil {
		return nil, fmt.Errorf("%w: tx.orderPos: %w", ErrCorrupt, err)
	}
	if v.TimeReceivedIsTxTime, err = d.u32(); err != nil {
		return nil, fmt.Errorf("%w: tx.timeReceivedIsTxTime: %w", ErrCorrupt, err)
	}
	if v.TimeReceived, err = d.u64(); err != nil {
		return nil, fmt.Errorf("%w: tx.timeReceived: %w", ErrCorrupt, err)
	}
	if v.FromMe, err = d.bool(); err != nil {
		return nil, fmt.Errorf("%w: tx.fromMe: %w", ErrCorrupt, err)
	}

	nSpent, err := readCompactSize(d.r)
	if err != nil {
		return nil, fmt.Errorf("%w: tx.spent.count: %w", ErrCorrupt, err)
	}
	for i := uint64(0); i < nSpent; i++ {
		s, err := d.bool()
		if err != nil {
			return nil, fmt.Errorf("%w: tx.spent[%d]: %w", ErrCorrupt, i, err)
		}
		v.Spent = append(v.Spent, s)
	}

	return v, nil
}

// inLegacyTimeQuirkBand reports whether this record's version-band field
// triggers the historical repair (spec §4.3, §8 boundary behavior #2).
func (v *TxRecord) inLegacyTimeQuirkBand() bool {
	return v.TimeReceivedIsTxTime >= legacyTimeQuirkLow && v.TimeReceivedIsTxTime <= legacyTimeQuirkHigh
}

// applyLegacyTimeQuirkRepair re-derives FromMe from the low bit of the
// band field, zeroes that field, and flags the record for rewrite.
// TimeReceived is left unchanged, and no trailing bytes of the stored
// record are read. Idempotent: calling it twice is a no-op the second
// time because the field is normalized out of the band.
func (v *TxRecord) applyLegacyTimeQuirkRepair() {
	if !v.inLegacyTimeQuirkBand() {
		return
	}
	// Take FromMe from the low bit of fTimeReceivedIsTxTime and set the
	// field to 0 so subsequent loads no longer see it as a version number.
	v.FromMe = v.TimeReceivedIsTxTime&0x1 != 0
	v.TimeReceivedIsTxTime = 0
	v.needsRewrite = true
}
