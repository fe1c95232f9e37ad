package main

import (
	"flag"
	"fmt"
	"os"

	"consentd/pkg/consentsign"
)

func runKeygen(args []string) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var outSeedPath string
	fs.StringVar(&outSeedPath, "out-seed", "", "write the seed hex to a file instead of stdout")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	seedHex, publicKeyBase64, err := consentsign.GenerateKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate key: %v\n", err)
		return 1
	}
	if outSeedPath != "" {
		if err := os.WriteFile(outSeedPath, []byte(seedHex+"\n"), 0o600); err != nil {
			fmt.Fprintf(os.Stderr, "write seed: %v\n", err)
			return 1
		}
	} else {
		fmt.Printf("seed_hex=%s\n", seedHex)
	}
	fmt.Printf("public_key_base64=%s\n", publicKeyBase64)
	return 0
}
