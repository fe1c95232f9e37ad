package main

import (
	"crypto/ed25519"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"consentd/pkg/consentsign"
)

func runSignRevoke(args []string) int {
	fs := flag.NewFlagSet("sign-revoke", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var subject string
	var consentID string
	var keyHex string
	var keyBase64 string
	var issuedAt string
	var outPath string

	fs.StringVar(&subject, "subject", "", "subject identifier")
	fs.StringVar(&consentID, "consent-id", "", "consent id to revoke")
	fs.StringVar(&keyHex, "key-hex", "", "ed25519 private key hex (seed or private key)")
	fs.StringVar(&keyBase64, "key-base64", "", "ed25519 private key base64 (seed or private key)")
	fs.StringVar(&issuedAt, "issued-at", "", "issued_at (RFC3339, default now)")
	fs.StringVar(&outPath, "out", "", "output request path (default stdout)")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if subject == "" || consentID == "" {
		fmt.Fprintln(os.Stderr, "sign-revoke requires --subject and --consent-id")
		return 1
	}
	if (keyHex == "" && keyBase64 == "") || (keyHex != "" && keyBase64 != "") {
		fmt.Fprintln(os.Stderr, "sign-revoke requires exactly one of --key-hex or --key-base64")
		return 1
	}

	var privateKey ed25519.PrivateKey
	var keyErr error
	if keyHex != "" {
		privateKey, keyErr = consentsign.ParseEd25519PrivateKeyHex(keyHex)
	} else {
		privateKey, keyErr = consentsign.ParseEd25519PrivateKeyBase64(keyBase64)
	}
	if keyErr != nil {
		fmt.Fprintf(os.Stderr, "parse private key: %v\n", keyErr)
		return 1
	}

	at := time.Now()
	if issuedAt != "" {
		parsed, err := time.Parse(time.RFC3339, issuedAt)
		if err != nil {
			fmt.Fprintf(os.Stderr, "parse issued-at: %v\n", err)
			return 1
		}
		at = parsed
	}

	request, err := consentsign.SignRevocation(subject, consentID, at, privateKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign revocation: %v\n", err)
		return 1
	}
	payload, err := json.Marshal(request)
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal request: %v\n", err)
		return 1
	}
	if err := writeOutput(outPath, payload); err != nil {
		fmt.Fprintf(os.Stderr, "write output: %v\n", err)
		return 1
	}
	return 0
}

func runRef(args []string) int {
	fs := flag.NewFlagSet("ref", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var kind string
	var value string
	fs.StringVar(&kind, "kind", "", "ref kind: subject, controller or purpose")
	fs.StringVar(&value, "value", "", "raw identifier")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if value == "" {
		fmt.Fprintln(os.Stderr, "ref requires --value")
		return 1
	}

	switch kind {
	case "subject":
		fmt.Println(consentsign.SubjectRef(value))
	case "controller":
		fmt.Println(consentsign.ControllerRef(value))
	case "purpose":
		fmt.Println(consentsign.PurposeRef(value))
	default:
		fmt.Fprintln(os.Stderr, "ref requires --kind subject, controller or purpose")
		return 1
	}
	return 0
}
