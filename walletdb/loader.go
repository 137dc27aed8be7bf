package walletdb

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/erigontech/erigon-walletdb/kv"
)

// legacyEncryptedRewriteVersions are the two historical writer versions
// whose encrypted-wallet layout needs a full rewrite on load. Retained
// verbatim per spec §9.
var legacyEncryptedRewriteVersions = map[int32]bool{40000: true, 50000: true}

// Loader drives LoadWallet. Callers must hold the wallet's exclusive lock
// for its entire duration (spec §5); LoadWallet takes a LockToken as proof
// rather than acquiring a lock itself (design note: "pass a proof-of-lock
// token... into the loader rather than relying on a separate locking
// call").
type Loader struct {
	db            kv.DB
	verifier      TxVerifier
	deriver       PubKeyDeriver
	featureLatest int32
	lastState     *loadState
}

// LockToken is a borrowed proof that the caller already holds the wallet's
// exclusive lock. It carries no behavior; it exists so LoadWallet's
// signature documents the requirement instead of silently assuming it.
type LockToken struct{ held bool }

// NewLockToken wraps an already-acquired lock as a token. Callers
// typically do:
//
//	wallet.Lock()
//	defer wallet.Unlock()
//	tok := walletdb.NewLockToken()
//	res, err := loader.LoadWallet(ctx, tok, w)
func NewLockToken() LockToken { return LockToken{held: true} }

func NewLoader(db kv.DB, verifier TxVerifier, deriver PubKeyDeriver, featureLatest int32) *Loader {
	return &Loader{db: db, verifier: verifier, deriver: deriver, featureLatest: featureLatest}
}

// loadState accumulates the bookkeeping LoadWallet needs across the scan
// (spec §4.3 steps 4-5 and "Post-scan actions").
type loadState struct {
	result LoadResult

	sawUnorderedTx   bool
	toRewrite        []*TxRecord
	masterKeyMaxID   uint32
	sawMasterKeyID   map[uint32]bool
	nKeys, nCKeys, nWatchKeys, nKeyMeta int
	unknownRecords   int
	rescanRequired   bool
	fileVersion      int32
	minVersionPresent bool
	minVersion       int32
	bestBlockLocator *Locator
	bestBlockNoMerkle *Locator
}

// LoadWallet is the central routine of spec §4.3.
func (l *Loader) LoadWallet(ctx context.Context, _ LockToken, w Wallet) (LoadResult, error) {
	st := &loadState{
		result:         LoadOk,
		sawMasterKeyID: map[uint32]bool{},
	}
	l.lastState = st

	if err := l.db.View(ctx, func(tx kv.Tx) error {
		return l.scan(tx, w, st)
	}); err != nil {
		if errors.Is(err, errTooNewAbort) {
			return TooNew, nil
		}
		return LoadFail, fmt.Errorf("walletdb: load: %w", err)
	}

	if st.result == TooNew {
		return TooNew, nil
	}

	// Post-scan actions, spec §4.3.
	if st.sawUnorderedTx {
		if err := w.ReorderTransactions(); err != nil {
			w.Logger().Warn("walletdb: reorder transactions failed", "err", err)
		}
	}

	if len(st.toRewrite) > 0 {
		if err := l.rewriteTxs(ctx, st.toRewrite); err != nil {
			w.Logger().Warn("walletdb: rewriting legacy-band tx records failed", "err", err)
		}
	}

	if st.result != Corrupt && st.fileVersion < l.featureLatest {
		if err := l.rewriteVersion(ctx, l.featureLatest); err != nil {
			w.Logger().Warn("walletdb: version rewrite failed", "err", err)
		}
	}

	if st.result != Corrupt && w.IsEncrypted() && legacyEncryptedRewriteVersions[st.fileVersion] {
		return NeedRewrite, nil
	}

	if st.nKeys+st.nCKeys+st.nWatchKeys != st.nKeyMeta {
		w.UpdateTimeFirstKey(0, false)
	}

	w.SetMasterKeyMaxID(st.masterKeyMaxID)

	if st.result == Corrupt {
		return Corrupt, nil
	}
	if st.rescanRequired || st.result == NonCriticalError {
		return NonCriticalError, nil
	}
	return LoadOk, nil
}

// BestBlock resolves the winning locator from the most recent LoadWallet
// call, per invariant 7 / ResolveBestBlock.
func (l *Loader) BestBlock() *Locator {
	if l.lastState == nil {
		return nil
	}
	return ResolveBestBlock(l.lastState.bestBlockLocator, l.lastState.bestBlockNoMerkle)
}

// errTooNewAbort is mapped to TooNew if it reaches LoadWallet; it never
// escapes LoadWallet as a returned error. scan itself stops early on
// minversion/flags by setting loadState.result to TooNew and returning nil.
var errTooNewAbort = errors.New("walletdb: too new")

func (l *Loader) scan(tx kv.Tx, w Wallet, st *loadState) error {
	// Step 2: minversion gates the whole load before any record dispatch.
	if raw, err := tx.GetOne(tagKey(TagMinVersion)); err != nil {
		return err
	} else if raw != nil {
		d := newDecoder(raw)
		v, err := d.i32()
		if err != nil {
			st.result = worse(st.result, Corrupt)
		} else {
			st.minVersionPresent = true
			st.minVersion = v
			if v > l.featureLatest {
				st.result = TooNew
				return nil
			}
			_ = w.LoadMinVersion(v)
		}
	}

	cur, err := tx.Cursor()
	if err != nil {
		return err
	}
	defer cur.Close()

	for k, v, err := cur.First(); k != nil; k, v, err = cur.Next() {
		if err != nil {
			return err
		}
		l.dispatch(k, v, w, st)
		if st.result == TooNew {
			return nil
		}
	}
	return nil
}

// dispatch decodes one (key, value) record and routes it to a per-kind
// handler, classifying any failure (spec §4.3 step 4).
func (l *Loader) dispatch(key, value []byte, w Wallet, st *loadState) {
	tag, keyDec, err := decodeTag(key)
	if err != nil {
		// Catastrophic: the tag itself didn't decode.
		st.result = worse(st.result, Corrupt)
		return
	}

	class := classify(tag)
	if class == ClassUnknown {
		st.unknownRecords++
		return
	}
	handlerErr := l.dispatchByTag(tag, keyDec, value, w, st)
	if handlerErr == nil {
		return
	}

	switch class {
	case ClassKeyBearing:
		st.result = worse(st.result, Corrupt)
		w.Logger().Warn("walletdb: key-bearing record failed", "tag", string(tag), "err", handlerErr)
	case ClassFlags:
		st.result = TooNew
		w.Logger().Warn("walletdb: flags record rejected", "err", handlerErr)
	case ClassTx:
		st.rescanRequired = true
		st.result = worse(st.result, NonCriticalError)
		w.Logger().Warn("walletdb: tx record non-critical failure", "err", handlerErr)
	case ClassOther:
		st.result = worse(st.result, NonCriticalError)
		w.Logger().Warn("walletdb: record warning", "tag", string(tag), "err", handlerErr)
	case ClassUnknown:
		st.unknownRecords++
	}
}

func (l *Loader) dispatchByTag(tag Tag, keyDec *decoder, value []byte, w Wallet, st *loadState) error {
	switch tag {
	case TagName:
		address, err := keyDec.varString()
		if err != nil {
			return err
		}
		return w.LoadDestData(address, "name", string(value))

	case TagPurpose:
		address, err := keyDec.varString()
		if err != nil {
			return err
		}
		return w.LoadDestData(address, "purpose", string(value))

	case TagTx:
		return l.handleTx(keyDec, value, w, st)

	case TagKey:
		return l.handleKey(keyDec, value, w, st)

	case TagWKey:
		return l.handleWKey(keyDec, value, w, st)

	case TagCKey:
		pub, err := keyDec.varBytes()
		if err != nil {
			return err
		}
		w.MarkEncrypted()
		st.nCKeys++
		return w.LoadCryptedKey(pub, value)

	case TagMKey:
		id, err := keyDec.u32()
		if err != nil {
			return err
		}
		if st.sawMasterKeyID[id] {
			return fmt.Errorf("duplicate mkey id %d", id)
		}
		if _, err := decodeMasterKey(value); err != nil {
			return err
		}
		st.sawMasterKeyID[id] = true
		if id > st.masterKeyMaxID {
			st.masterKeyMaxID = id
		}
		return nil

	case TagKeyMeta:
		pub, err := keyDec.varBytes()
		if err != nil {
			return err
		}
		meta, err := decodeKeyMetadata(value)
		if err != nil {
			return err
		}
		st.nKeyMeta++
		return w.LoadKeyMetadata(pub, meta)

	case TagWatchMeta:
		script, err := keyDec.varBytes()
		if err != nil {
			return err
		}
		meta, err := decodeKeyMetadata(value)
		if err != nil {
			return err
		}
		return w.LoadScriptMetadata(script, meta)

	case TagWatchS:
		script, err := keyDec.varBytes()
		if err != nil {
			return err
		}
		st.nWatchKeys++
		return w.LoadWatchOnly(script)

	case TagCScript:
		if _, err := keyDec.fixed(20); err != nil {
			return err
		}
		return w.LoadCScript(value)

	case TagPool:
		index, err := keyDec.u64()
		if err != nil {
			return err
		}
		entry, err := decodeKeyPoolEntry(value)
		if err != nil {
			return err
		}
		return w.LoadKeyPool(index, entry)

	case TagOrderPosNext:
		// Bookkeeping only; no wallet callback named for it in spec §6.
		d := newDecoder(value)
		_, err := d.i64()
		return err

	case TagBestBlock:
		loc, err := decodeLocator(value)
		if err != nil {
			return err
		}
		st.bestBlockLocator = loc
		return nil

	case TagBestBlockNoMerkl:
		loc, err := decodeLocator(value)
		if err != nil {
			return err
		}
		st.bestBlockNoMerkle = loc
		return nil

	case TagMinVersion:
		// Already handled before the cursor walk began.
		return nil

	case TagVersion:
		d := newDecoder(value)
		v, err := d.i32()
		if err != nil {
			return err
		}
		st.fileVersion = v
		return nil

	case TagDefaultKey:
		// Decoded and EC-validated, never exposed (SPEC_FULL.md Open
		// Question decision): a parse/validation failure is still
		// catastrophic, the value itself is simply discarded.
		if !isPlausiblePubKey(value) {
			return fmt.Errorf("defaultkey: not a valid public key encoding (%d bytes)", len(value))
		}
		return nil

	case TagDestData:
		address, err := keyDec.varString()
		if err != nil {
			return err
		}
		key, err := keyDec.varString()
		if err != nil {
			return err
		}
		return w.LoadDestData(address, key, string(value))

	case TagHDChain:
		chain, err := decodeHDChain(value)
		if err != nil {
			return err
		}
		return w.SetHDChain(chain)

	case TagFlags:
		d := newDecoder(value)
		flags, err := d.u64()
		if err != nil {
			return err
		}
		if flags&^knownWalletFlags != 0 {
			return fmt.Errorf("unknown required wallet flag bits: %#x", flags&^knownWalletFlags)
		}
		return w.SetWalletFlags(flags)

	case TagACEntry:
		// Ignored on load (spec §3); decode the sub-key far enough to
		// advance correctly without assigning semantics to the value
		// (SPEC_FULL.md supplement #1).
		if _, err := keyDec.varString(); err != nil {
			return err
		}
		if _, err := keyDec.u64(); err != nil {
			return err
		}
		return nil

	case TagZCSerial:
		if _, err := keyDec.varBytes(); err != nil {
			return err
		}
		_, err := decodeZCSerialEntry(value)
		return err

	case TagZeroCoin, TagUnloadedZeroCoin:
		if _, err := keyDec.varBytes(); err != nil {
			return err
		}
		_, err := decodeZCCoinEntry(value)
		return err

	case TagZCAccumulator:
		if _, err := keyDec.i32(); err != nil {
			return err
		}
		if _, err := keyDec.varBytes(); err != nil {
			return err
		}
		return nil

	case TagCalculatedZCBloc:
		d := newDecoder(value)
		_, err := d.i32()
		return err

	default:
		return nil // unreachable: classify() already routed unknown tags away
	}
}

// knownWalletFlags is the set of feature-flag bits this implementation
// tolerates. Any other bit set is a refusal to load (spec §3 `flags`).
const knownWalletFlags uint64 = 0

func (l *Loader) handleTx(keyDec *decoder, value []byte, w Wallet, st *loadState) error {
	hashBytes, err := keyDec.fixed(32)
	if err != nil {
		return err
	}
	var hash [32]byte
	copy(hash[:], hashBytes)

	rec, err := decodeTxRecord(hash, value)
	if err != nil {
		return err
	}

	if l.verifier != nil {
		verifiedHash, err := l.verifier.VerifyTransaction(rec.RawTx)
		if err != nil {
			return fmt.Errorf("tx verify: %w", err)
		}
		if verifiedHash != hash {
			return fmt.Errorf("tx key hash %x does not match transaction hash %x", hash, verifiedHash)
		}
	}

	if rec.inLegacyTimeQuirkBand() {
		rec.applyLegacyTimeQuirkRepair()
		st.toRewrite = append(st.toRewrite, rec)
	}

	if rec.OrderPos == unorderedSentinel {
		st.sawUnorderedTx = true
	}

	return w.LoadToWallet(rec)
}

func (l *Loader) handleKey(keyDec *decoder, value []byte, w Wallet, st *loadState) error {
	pub, err := keyDec.varBytes()
	if err != nil {
		return err
	}
	v, err := decodePlainKeyValue(value)
	if err != nil {
		return err
	}
	if err := l.verifyKeyIntegrity(pub, v); err != nil {
		return err
	}
	st.nKeys++
	return w.LoadKey(pub, v.PrivKey)
}

func (l *Loader) handleWKey(keyDec *decoder, value []byte, w Wallet, st *loadState) error {
	pub, err := keyDec.varBytes()
	if err != nil {
		return err
	}
	v, err := decodeLegacyKeyValue(value)
	if err != nil {
		return err
	}
	if l.deriver != nil {
		derived, err := l.deriver.DerivePubKey(v.PrivKey)
		if err != nil {
			return fmt.Errorf("wkey: derive pubkey: %w", err)
		}
		if !bytes.Equal(derived, pub) {
			return errors.New("wkey: derived public key mismatch")
		}
	}
	st.nKeys++
	return w.LoadKey(pub, v.PrivKey)
}

// verifyKeyIntegrity implements spec invariant 3: if the integrity hash is
// present, recompute and compare; otherwise fall back to re-deriving the
// public key from the private key. With no deriver configured, a key
// without an integrity hash is accepted unchecked.
func (l *Loader) verifyKeyIntegrity(pub []byte, v *PlainKeyValue) error {
	if v.HasHash {
		want := integrityHash(pub, v.PrivKey)
		if want != v.Hash {
			return errors.New("key: integrity hash mismatch")
		}
		return nil
	}
	if l.deriver == nil {
		return nil
	}
	derived, err := l.deriver.DerivePubKey(v.PrivKey)
	if err != nil {
		return fmt.Errorf("key: derive pubkey: %w", err)
	}
	if !bytes.Equal(derived, pub) {
		return errors.New("key: derived public key mismatch")
	}
	return nil
}

func (l *Loader) rewriteTxs(ctx context.Context, recs []*TxRecord) error {
	return l.db.Update(ctx, func(tx kv.RwTx) error {
		for _, rec := range recs {
			if err := tx.Put(txKeyBytes(rec.Hash), rec.encode()); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *Loader) rewriteVersion(ctx context.Context, version int32) error {
	return l.db.Update(ctx, func(tx kv.RwTx) error {
		return tx.Put(tagKey(TagVersion), newEncoder().i32(version).bytes())
	})
}

// ResolveBestBlock implements spec invariant 7 / boundary behavior: a
// non-empty `bestblock` wins over `bestblock_nomerkle`; otherwise the
// no-merkle record is authoritative.
func ResolveBestBlock(bestBlock, bestBlockNoMerkle *Locator) *Locator {
	if bestBlock != nil && !bestBlock.empty() {
		return bestBlock
	}
	return bestBlockNoMerkle
}
