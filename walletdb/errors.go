package walletdb

import "errors"

// ErrCorrupt signals that decoding or validating a record failed in a way
// that cannot be tolerated — see classify in records.go.
var ErrCorrupt = errors.New("walletdb: corrupt record")

// ErrTooNew signals a minversion greater than FeatureLatest, or an unknown
// required bit set in a flags record.
var ErrTooNew = errors.New("walletdb: file requires a newer implementation")

// ErrAlreadyExists is returned by WriteIC when overwrite is false and the
// key already has a value.
var ErrAlreadyExists = errors.New("walletdb: key already exists")

// ErrTxActive is returned by TxnBegin when the batch already holds an open
// transaction; a batch holds at most one.
var ErrTxActive = errors.New("walletdb: transaction already active")

// ErrNoTx is returned by TxnCommit/TxnAbort when no transaction is active.
var ErrNoTx = errors.New("walletdb: no active transaction")

// ErrEncrypted is returned by WriteKey and WriteWKey when the batch is
// marked encrypted (see Batch.IsEncrypted) — invariant 6: encrypted
// wallets disallow new plaintext keys.
var ErrEncrypted = errors.New("walletdb: wallet is encrypted, cannot write plaintext key")

// LoadResult is the outcome of LoadWallet, mirroring the result codes a
// caller maps to user-facing messages.
type LoadResult int

const (
	LoadOk LoadResult = iota
	NonCriticalError
	TooNew
	Corrupt
	NeedRewrite
	LoadFail
)

func (r LoadResult) String() string {
	switch r {
	case LoadOk:
		return "LoadOk"
	case NonCriticalError:
		return "NonCriticalError"
	case TooNew:
		return "TooNew"
	case Corrupt:
		return "Corrupt"
	case NeedRewrite:
		return "NeedRewrite"
	case LoadFail:
		return "LoadFail"
	default:
		return "Unknown"
	}
}

// worse returns the more severe of two results, in the order LoadOk <
// NonCriticalError < TooNew < NeedRewrite < Corrupt < LoadFail. NeedRewrite
// is decided as a final step once scanning has otherwise succeeded (it
// supersedes everything but an outright Corrupt/LoadFail), so it ranks
// above TooNew/NonCriticalError but a Corrupt scan always wins.
func worse(a, b LoadResult) LoadResult {
	rank := func(r LoadResult) int {
		switch r {
		case LoadOk:
			return 0
		case NonCriticalError:
			return 1
		case TooNew:
			return 2
		case NeedRewrite:
			return 3
		case Corrupt:
			return 4
		case LoadFail:
			return 5
		default:
			return 5
		}
	}
	if rank(a) >= rank(b) {
		return a
	}
	return b
}
