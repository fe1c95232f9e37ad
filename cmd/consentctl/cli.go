package main

import (
	"fmt"
	"os"
	"path/filepath"
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	if len(args) < 2 {
		usage(args)
		return 1
	}

	switch args[1] {
	case "keygen":
		return runKeygen(args[2:])
	case "sign-revoke":
		return runSignRevoke(args[2:])
	case "ref":
		return runRef(args[2:])
	case "bundle":
		if len(args) >= 3 && args[2] == "verify" {
			return runBundleVerify(args[3:])
		}
	}

	usage(args)
	return 1
}

func usage(args []string) {
	name := "consentctl"
	if len(args) > 0 && args[0] != "" {
		name = filepath.Base(args[0])
	}
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  %s keygen [--out-seed <file>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s sign-revoke --subject <id> --consent-id <hex> (--key-hex <hex>|--key-base64 <b64>) [--issued-at <rfc3339>] [--out <file>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s ref --kind <subject|controller|purpose> --value <raw>\n", name)
	fmt.Fprintf(os.Stderr, "  %s bundle verify <evidence_bundle.json>\n", name)
}
