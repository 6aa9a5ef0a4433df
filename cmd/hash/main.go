// Package main is a utility for generating bcrypt hashes of account secrets.
// In hashed secret mode the server stores only bcrypt hashes, so this tool is
// used to produce a value for SG_ADMIN_SECRET_HASH or for seeding accounts
// directly in the database without running the full server.
//
// Usage:
//
//	hash [-cost N] [secret]
//
// When no secret argument is given it is read from stdin (first line).
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/scriptgate/scriptgate/internal/auth"
)

func main() {
	cost := flag.Int("cost", auth.DefaultBcryptCost, "bcrypt cost factor (4-31)")
	flag.Parse()

	secret, err := readSecret(flag.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	hash, err := hashSecret(secret, *cost)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(hash)
}

func readSecret(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("no secret given on the command line or stdin")
	}
	secret := strings.TrimRight(line, "\r\n")
	if secret == "" {
		return "", fmt.Errorf("secret must not be empty")
	}
	return secret, nil
}

func hashSecret(secret string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return "", fmt.Errorf("cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hash), nil
}
