// Command tixctl is an operator tool for a tixledger deployment.
//
//	tixctl token --sub org --ttl 1h
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/kirinyoku/tixledger/internal/auth"
	"github.com/kirinyoku/tixledger/internal/domain"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "tixctl:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		usage()
		return errors.New("missing command")
	}

	switch args[0] {
	case "token":
		return runToken(args[1:])
	case "help", "-h", "--help":
		usage()
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: tixctl token --sub <identity> [--ttl 1h] [--secret s]")
}

// runToken prints a bearer token proving the --sub identity.
func runToken(args []string) error {
	fs := pflag.NewFlagSet("token", pflag.ContinueOnError)
	sub := fs.String("sub", "", "identity the token proves")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	secret := fs.String("secret", "", "signing secret, defaults to JWT_SECRET")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *sub == "" {
		return errors.New("--sub is required")
	}

	if *ttl <= 0 {
		return errors.New("--ttl must be positive")
	}

	if *secret == "" {
		_ = godotenv.Load()
		*secret = os.Getenv("JWT_SECRET")
	}
	if *secret == "" {
		return errors.New("no signing secret: set JWT_SECRET or pass --secret")
	}

	token, err := auth.NewTokenIssuer([]byte(*secret)).Issue(domain.Identity(*sub), *ttl)
	if err != nil {
		return err
	}

	fmt.Println(token)

	return nil
}
