package walletdb

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeTempWalletFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wallet.dat")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestAutoBackupWalletDisabledWhenRetentionNonPositive(t *testing.T) {
	path := writeTempWalletFile(t, "data")
	mgr := NewBackupManager(filepath.Join(t.TempDir(), "backups"), "wallet", 0)
	n, err := mgr.AutoBackupWallet(context.Background(), nil, nil, path, time.Now())
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestAutoBackupWalletCopiesFile(t *testing.T) {
	path := writeTempWalletFile(t, "data")
	dir := filepath.Join(t.TempDir(), "backups")
	mgr := NewBackupManager(dir, "wallet", 3)

	now := time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC)
	n, err := mgr.AutoBackupWallet(context.Background(), nil, nil, path, now)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	contents, err := os.ReadFile(filepath.Join(dir, "wallet.2026-01-02-03-04"))
	require.NoError(t, err)
	require.Equal(t, "data", string(contents))
}

func TestAutoBackupWalletRefusesDuplicateTimestamp(t *testing.T) {
	path := writeTempWalletFile(t, "data")
	dir := filepath.Join(t.TempDir(), "backups")
	mgr := NewBackupManager(dir, "wallet", 3)
	now := time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC)

	_, err := mgr.AutoBackupWallet(context.Background(), nil, nil, path, now)
	require.NoError(t, err)

	_, err = mgr.AutoBackupWallet(context.Background(), nil, nil, path, now)
	require.Error(t, err)
}

func TestAutoBackupWalletEnforcesRetention(t *testing.T) {
	path := writeTempWalletFile(t, "data")
	dir := filepath.Join(t.TempDir(), "backups")
	mgr := NewBackupManager(dir, "wallet", 2)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		_, err := mgr.AutoBackupWallet(context.Background(), nil, nil, path, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestAutoBackupWalletAbortsWhenLockedForDerivation(t *testing.T) {
	path := writeTempWalletFile(t, "data")
	dir := filepath.Join(t.TempDir(), "backups")
	mgr := NewBackupManager(dir, "wallet", 3)
	w := newFakeWallet()
	w.lockedForDerv = true

	n, err := mgr.AutoBackupWallet(context.Background(), nil, w, path, time.Now())
	require.Error(t, err)
	require.Equal(t, BackupAbortedLocked, n)
}
