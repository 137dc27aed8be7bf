// Command walletdb-inspect is a small operator tool over the walletdb
// core: verify a file loads cleanly, list or zap transactions, run a
// filtered salvage pass, or take a manual backup snapshot.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kong"

	log "github.com/erigontech/erigon-lib/log/v3"

	"github.com/erigontech/erigon-walletdb/kv"
	"github.com/erigontech/erigon-walletdb/walletdb"
)

var cli struct {
	Verify struct {
		Path          string `arg:"" help:"wallet database path"`
		FeatureLatest int32  `default:"1000000" help:"highest version this tool understands"`
	} `cmd:"" help:"run LoadWallet against a file and report the outcome without mutating it"`

	List struct {
		Path string `arg:"" help:"wallet database path"`
	} `cmd:"" help:"list every tx record's hash"`

	Zap struct {
		Path string `arg:"" help:"wallet database path"`
	} `cmd:"" help:"erase every tx record"`

	Recover struct {
		Path    string `arg:"" help:"source wallet database path"`
		OutPath string `arg:"" help:"destination path for salvaged records"`
	} `cmd:"" help:"copy only key-bearing records into a fresh database"`

	Backup struct {
		Path      string `arg:"" help:"wallet database path"`
		Dir       string `arg:"" help:"backup directory"`
		Retention int    `default:"10" help:"number of timestamped backups to retain"`
	} `cmd:"" help:"take a manual timestamped backup snapshot"`
}

func main() {
	ctx := kong.Parse(&cli)
	logger := log.New()

	var err error
	switch ctx.Command() {
	case "verify <path>":
		err = runVerify(logger)
	case "list <path>":
		err = runList(logger)
	case "zap <path>":
		err = runZap(logger)
	case "recover <path> <out-path>":
		err = runRecover(logger)
	case "backup <path> <dir>":
		err = runBackup(logger)
	default:
		err = fmt.Errorf("unhandled command %q", ctx.Command())
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "walletdb-inspect:", err)
		os.Exit(1)
	}
}

func runVerify(logger log.Logger) error {
	res, err := walletdb.VerifyDatabaseFile(context.Background(), cli.Verify.Path, cli.Verify.FeatureLatest, logger)
	if err != nil {
		return err
	}
	fmt.Println(res)
	return nil
}

func runList(logger log.Logger) error {
	db, err := kv.Open(cli.List.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	hashes, txs, err := walletdb.FindWalletTx(context.Background(), db)
	if err != nil {
		return err
	}
	for i, h := range hashes {
		fmt.Printf("%x  orderpos=%d\n", h, txs[i].OrderPos)
	}
	fmt.Printf("%d transactions\n", len(hashes))
	return nil
}

func runZap(logger log.Logger) error {
	db, err := kv.Open(cli.Zap.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	erased, err := walletdb.ZapWalletTx(context.Background(), db)
	if err != nil {
		return err
	}
	fmt.Printf("erased %d transactions\n", len(erased))
	return nil
}

func runRecover(logger log.Logger) error {
	res, err := walletdb.Recover(context.Background(), cli.Recover.Path, cli.Recover.OutPath, walletdb.KeysOnlyFilter, logger)
	if err != nil {
		return err
	}
	fmt.Printf("kept %d records, skipped %d\n", res.Kept, res.Skipped)
	return nil
}

func runBackup(logger log.Logger) error {
	mgr := walletdb.NewBackupManager(cli.Backup.Dir, baseName(cli.Backup.Path), cli.Backup.Retention)
	n, err := mgr.AutoBackupWallet(context.Background(), nil, nil, cli.Backup.Path, time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("backup complete, retention=%d\n", n)
	return nil
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
