package walletdb

import log "github.com/erigontech/erigon-lib/log/v3"

// Wallet is the narrow callback surface the loader dispatches decoded
// records into (spec §6 "Wallet capability surface consumed by the
// loader"). The core never holds a reference to the in-memory wallet
// beyond a single LoadWallet call (design note: "pass the wallet as a
// non-owning reference into each loader invocation").
type Wallet interface {
	LoadKey(pubKey []byte, privKey []byte) error
	LoadCryptedKey(pubKey []byte, encryptedPrivKey []byte) error
	LoadKeyMetadata(pubKey []byte, meta *KeyMetadata) error
	LoadScriptMetadata(scriptHash []byte, meta *KeyMetadata) error
	LoadCScript(redeemScript []byte) error
	LoadWatchOnly(script []byte) error
	LoadKeyPool(index uint64, entry *KeyPoolEntry) error
	LoadToWallet(tx *TxRecord) error
	LoadDestData(address, key, value string) error
	SetHDChain(chain *HDChain) error
	SetWalletFlags(flags uint64) error
	LoadMinVersion(version int32) error

	// ReorderTransactions is invoked once, after the scan, if any tx record
	// had the unordered sentinel order position (spec §4.3 "Post-scan
	// actions").
	ReorderTransactions() error

	// UpdateTimeFirstKey marks the wallet's earliest-key timestamp as
	// unreliable, or refreshes it — spec's nKeys+nCKeys+nWatchKeys vs.
	// nKeyMeta cross-check.
	UpdateTimeFirstKey(unixTime int64, reliable bool)

	// IsEncrypted reports whether a ckey record has been observed. The
	// loader consults it for the legacy encrypted-format NeedRewrite check;
	// Batch writes enforce invariant 6 with their own flag
	// (Batch.IsEncrypted).
	IsEncrypted() bool
	MarkEncrypted()

	// SetMasterKeyMaxID tracks invariant 5.
	SetMasterKeyMaxID(id uint32)

	// KeyPoolSize backs the backup manager's
	// keys-left-since-last-backup counter refresh (spec §4.7 step 4).
	KeyPoolSize() int

	// IsLockedForDerivation reports whether the wallet cannot currently
	// derive new keys (e.g. encrypted and locked) — the backup manager
	// aborts rather than silently skipping fresh-key coverage.
	IsLockedForDerivation() bool

	// Logger returns the log sink the loader and scheduler write warnings
	// and errors to.
	Logger() log.Logger
}

// TxVerifier is the out-of-scope consensus/crypto collaborator spec §1
// calls out: "the cryptographic primitives... transaction verification;
// consensus/chain lookups". The loader only calls through this interface.
type TxVerifier interface {
	// VerifyTransaction decodes and sanity-checks raw transaction bytes,
	// returning the transaction's own hash for the key-hash cross-check
	// (spec §4.3 "verify that the record's key hash equals the
	// transaction's own hash").
	VerifyTransaction(raw []byte) (hash [32]byte, err error)
}

// PubKeyDeriver is the EC-multiplication collaborator used to re-derive a
// public key from a private key when a `key`/`wkey` record's integrity
// hash is absent (spec invariant 3). `defaultkey` is validated by parsing
// (isPlausiblePubKey), not through this interface.
type PubKeyDeriver interface {
	DerivePubKey(privKey []byte) (pubKey []byte, err error)
}
