package main

import (
	"fmt"
	"os"

	"consentd/pkg/consentsign"
)

func runBundleVerify(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "bundle verify requires <evidence_bundle.json>")
		return 1
	}

	payload, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "read bundle: %v\n", err)
		return 1
	}

	summary, err := consentsign.VerifyEvidenceBundle(payload)
	if err != nil {
		fmt.Printf("status=fail\n")
		fmt.Fprintf(os.Stderr, "verify evidence bundle: %v\n", err)
		return 1
	}

	fmt.Printf("status=pass\n")
	fmt.Printf("consent_id=%s consent_status=%s audit_events=%d anchored=%t\n",
		summary.ConsentID, summary.Status, summary.AuditEvents, summary.Anchored)
	fmt.Printf("bundle_digest=%s\n", summary.Digest)
	return 0
}
