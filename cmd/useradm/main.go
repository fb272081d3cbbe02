// Command useradm maintains the user database read by the server.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/andy6609/textserver/internal/userdb"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "useradm:", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("useradm", flag.ContinueOnError)
	fs.SetOutput(stderr)
	database := fs.String("database", "", "user database path")
	scheme := fs.String("scheme", "sha256", "secret scheme: sha256, bcrypt or plain")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: useradm -database=<path> [-scheme=sha256|bcrypt|plain] add <name> <password> [privilege]")
		fmt.Fprintln(stderr, "       useradm -database=<path> del <name>")
		fmt.Fprintln(stderr, "       useradm -database=<path> show <name>")
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *database == "" || fs.NArg() < 2 {
		fs.Usage()
		return errors.New("missing arguments")
	}

	store, err := userdb.OpenSQLStore(*database)
	if err != nil {
		return err
	}
	defer store.Close()

	verb, name := fs.Arg(0), fs.Arg(1)
	switch verb {
	case "add":
		if fs.NArg() < 3 {
			fs.Usage()
			return errors.New("missing password")
		}
		priv := 0
		if fs.NArg() > 3 {
			if priv, err = strconv.Atoi(fs.Arg(3)); err != nil {
				return fmt.Errorf("invalid privilege %q", fs.Arg(3))
			}
		}
		secret, err := encode(*scheme, fs.Arg(2))
		if err != nil {
			return err
		}
		if err := store.Put(userdb.Credential{Name: name, Secret: secret, Privilege: priv}); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "user %s saved\n", name)
	case "del":
		if err := store.Delete(name); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "user %s deleted\n", name)
	case "show":
		c, err := store.Lookup(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s privilege=%d challenge=%t\n", c.Name, c.Privilege, userdb.SupportsChallenge(c.Secret))
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", verb)
	}
	return nil
}

func encode(scheme, pw string) (string, error) {
	switch scheme {
	case "sha256":
		return userdb.DigestSecret(pw), nil
	case "bcrypt":
		return userdb.HashPassword(pw)
	case "plain":
		return userdb.SchemePlain + pw, nil
	}
	return "", fmt.Errorf("unknown scheme %q", scheme)
}
