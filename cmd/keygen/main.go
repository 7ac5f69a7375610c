// Keygen generates sealing keys and seals provider credentials for use in
// config.yaml.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/tjfontaine/autopilot-gateway/internal/tenant"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  keygen newkey                    generate a sealing key")
	fmt.Fprintln(os.Stderr, "  keygen seal <hex-key> <api-key>  seal a provider credential")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	switch os.Args[1] {
	case "newkey":
		key := make([]byte, tenant.KeySize)
		if _, err := rand.Read(key); err != nil {
			fmt.Fprintf(os.Stderr, "generate key: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(hex.EncodeToString(key))
		fmt.Fprintln(os.Stderr, "\nAdd to config.yaml (or set GATEWAY_SEALING_KEY):")
		fmt.Fprintln(os.Stderr, "  sealing:")
		fmt.Fprintf(os.Stderr, "    key: %q\n", hex.EncodeToString(key))

	case "seal":
		if len(os.Args) != 4 {
			usage()
		}
		key, err := tenant.ParseKey(os.Args[2])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		sealed, err := tenant.Seal(key, os.Args[3])
		if err != nil {
			fmt.Fprintf(os.Stderr, "seal credential: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(sealed)
		fmt.Fprintln(os.Stderr, "\nAdd to the provider entry in config.yaml:")
		fmt.Fprintf(os.Stderr, "  api_key_sealed: %q\n", sealed)

	default:
		usage()
	}
}
