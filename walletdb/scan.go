package walletdb

import (
	"bytes"
	"context"
	"sort"

	"github.com/erigontech/erigon-walletdb/kv"
)

// FindWalletTx walks every `tx` record without dispatching it to the
// wallet — the cursor-based filtered iteration spec §4.4 requires so
// recovery tools can inspect transactions without running the validation
// pipeline.
func FindWalletTx(ctx context.Context, db kv.DB) (hashes [][32]byte, txs []*TxRecord, err error) {
	prefix := tagKey(TagTx)
	err = db.View(ctx, func(tx kv.Tx) error {
		cur, err := tx.Cursor()
		if err != nil {
			return err
		}
		defer cur.Close()

		for k, v, err := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v, err = cur.Next() {
			if err != nil {
				return err
			}
			d := newDecoder(k[len(prefix):])
			hashBytes, err := d.fixed(32)
			if err != nil {
				continue // corrupt tx key; FindWalletTx tolerates and skips
			}
			var h [32]byte
			copy(h[:], hashBytes)
			rec, err := decodeTxRecord(h, v)
			if err != nil {
				continue
			}
			hashes = append(hashes, h)
			txs = append(txs, rec)
		}
		return nil
	})
	return hashes, txs, err
}

func sortedHashes(hs [][32]byte) [][32]byte {
	out := append([][32]byte{}, hs...)
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// ZapSelectTx erases every wallet `tx` record whose hash is in inHashes,
// and returns the ones actually erased (spec §4.4, §8 testable property:
// "leaves exactly tx-set T \ S and returns T ∩ S").
func ZapSelectTx(ctx context.Context, db kv.DB, inHashes [][32]byte) (erased [][32]byte, err error) {
	want := sortedHashes(inHashes)

	allHashes, _, err := FindWalletTx(ctx, db)
	if err != nil {
		return nil, err
	}
	have := sortedHashes(allHashes)

	// Two-pointer merge over both sorted lists (spec §4.4).
	i, j := 0, 0
	var toErase [][32]byte
	for i < len(want) && j < len(have) {
		c := bytes.Compare(want[i][:], have[j][:])
		switch {
		case c == 0:
			toErase = append(toErase, have[j])
			i++
			j++
		case c < 0:
			i++
		default:
			j++
		}
	}

	if len(toErase) == 0 {
		return nil, nil
	}

	err = db.Update(ctx, func(tx kv.RwTx) error {
		for _, h := range toErase {
			if err := tx.Delete(txKeyBytes(h)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toErase, nil
}

// ZapWalletTx erases every `tx` record and returns what was erased (spec
// §4.4).
func ZapWalletTx(ctx context.Context, db kv.DB) (erased []*TxRecord, err error) {
	hashes, txs, err := FindWalletTx(ctx, db)
	if err != nil {
		return nil, err
	}
	if len(hashes) == 0 {
		return nil, nil
	}
	err = db.Update(ctx, func(tx kv.RwTx) error {
		for _, h := range hashes {
			if err := tx.Delete(txKeyBytes(h)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return txs, nil
}
