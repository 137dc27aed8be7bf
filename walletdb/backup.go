package walletdb

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/erigontech/erigon-walletdb/kv"
)

// Backup sentinel states, spec §4.7: N itself doubles as a status code
// once it goes negative.
const (
	// BackupDisabledNoDir means N was forced to -1 because the backup
	// directory could not be created.
	BackupDisabledNoDir = -1
	// BackupAbortedLocked means a wallet-open backup was abandoned because
	// the wallet is locked for key derivation (N=-2 sentinel, spec §4.7
	// step 4).
	BackupAbortedLocked = -2
)

// BackupManager implements AutoBackupWallet (spec §4.7): timestamped
// snapshots of a wallet file with bounded retention, using
// cenkalti/backoff for retrying transient filesystem failures.
type BackupManager struct {
	dir       string
	retention int // N; <=0 disables, see sentinels above
	walletName string

	mu            sync.Mutex
	keysLeftSince int
}

// NewBackupManager configures a manager that keeps at most retention
// timestamped copies of walletName's backups under dir. retention<=0
// disables backups outright (spec §4.7 step 1).
func NewBackupManager(dir, walletName string, retention int) *BackupManager {
	return &BackupManager{dir: dir, walletName: walletName, retention: retention}
}

// backupFileName builds `<wallet_name>.<YYYY-MM-DD-HH-MM>`, the naming
// scheme spec §4.7 step 3 specifies.
func backupFileName(walletName string, at time.Time) string {
	return fmt.Sprintf("%s.%s", walletName, at.Format("2006-01-02-15-04"))
}

// AutoBackupWallet runs one backup attempt. When w is non-nil it is
// consulted for the locked-for-derivation check and its key-pool size is
// recorded. The backup itself is always a file copy of path; db is not
// consulted.
func (m *BackupManager) AutoBackupWallet(ctx context.Context, db kv.DB, w Wallet, path string, now time.Time) (n int, err error) {
	if m.retention <= 0 {
		return m.retention, nil
	}

	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		m.retention = BackupDisabledNoDir
		return BackupDisabledNoDir, fmt.Errorf("walletdb: backup: create directory: %w", err)
	}

	dest := filepath.Join(m.dir, backupFileName(m.walletName, now))
	if _, err := os.Stat(dest); err == nil {
		// spec §4.7 step 3: refuse to overwrite a same-named existing
		// backup, since the minute-resolution name can collide.
		return m.retention, fmt.Errorf("walletdb: backup: %s already exists", dest)
	}

	if w != nil {
		if w.IsLockedForDerivation() {
			return BackupAbortedLocked, fmt.Errorf("walletdb: backup: wallet locked for key derivation")
		}
		m.mu.Lock()
		m.keysLeftSince = w.KeyPoolSize()
		m.mu.Unlock()
	}

	op := func() error { return copyFileAtomic(path, dest) }
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return m.retention, fmt.Errorf("walletdb: backup: copy: %w", err)
	}

	if err := m.enforceRetention(); err != nil {
		return m.retention, fmt.Errorf("walletdb: backup: retention cleanup: %w", err)
	}
	return m.retention, nil
}

// copyFileAtomic copies src to dest via a uuid-named temp file in the
// same directory followed by a rename, so a crash mid-copy never leaves a
// partially-written file at the final backup name (spec §4.7 step 3:
// "the copy itself must not leave a half-written file at the final
// name").
func copyFileAtomic(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := filepath.Join(filepath.Dir(dest), "."+uuid.NewString()+".tmp")
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}

// enforceRetention deletes the oldest backups beyond the configured
// retention count (spec §4.7 step 5).
func (m *BackupManager) enforceRetention() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return err
	}
	prefix := m.walletName + "."
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), prefix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names) // timestamp suffix sorts lexicographically = chronologically

	excess := len(names) - m.retention
	for i := 0; i < excess; i++ {
		if err := os.Remove(filepath.Join(m.dir, names[i])); err != nil {
			return err
		}
	}
	return nil
}

// KeysLeftSinceBackup reports the key-pool size recorded by the most
// recent backup attempt given an unlocked wallet (recorded before the
// copy, so a failed copy still updates it), spec §4.7 step 4's "refresh
// the keys-left-since-backup counter".
func (m *BackupManager) KeysLeftSinceBackup() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keysLeftSince
}
