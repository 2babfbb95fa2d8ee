// Command gstrgate-account manages operator logins in the gstrgate record store.
//
//	gstrgate-account [-db path] add|passwd|validate <login_id>
//
// The password is read from GSTRGATE_ACCOUNT_PASSWORD.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/gstrgate/gstrgate/internal/account"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "gstrgate-account:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("gstrgate-account", flag.ContinueOnError)
	dbPath := fs.String("db", envOr("GSTRGATE_DB_PATH", "gstrgate.db"), "account database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("usage: gstrgate-account [-db path] add|passwd|validate <login_id>")
	}
	cmd, loginID := fs.Arg(0), fs.Arg(1)
	password := os.Getenv("GSTRGATE_ACCOUNT_PASSWORD")
	if password == "" {
		return errors.New("GSTRGATE_ACCOUNT_PASSWORD must be set")
	}

	store, err := account.NewSQLiteStore(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	switch cmd {
	case "add":
		err = store.Add(ctx, loginID, password)
	case "passwd":
		err = store.SetPassword(ctx, loginID, password)
	case "validate":
		err = store.Validate(ctx, loginID, password)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s %s: ok\n", cmd, loginID)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
