package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/canonical"
	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/policy"
	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/policy/bundle"
	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/policy/keyless"
)

func runBundleCmd(args []string, stdout, stderr io.Writer) int {
	switch args[0] {
	case "build":
		return runBundleBuild(args[1:], stdout, stderr)
	case "sign":
		return runBundleSign(args[1:], stdout, stderr)
	case "verify":
		return runBundleVerify(args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown bundle subcommand: %s\n", args[0])
		return 2
	}
}

func writeBundle(b *bundle.Bundle, path string) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func runBundleBuild(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("bundle build", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		policyPath   string
		schemaPath   string
		requiredSigs int
		createdAt    string
		outPath      string
	)
	cmd.StringVar(&policyPath, "policy", "", "Path to the policy file (REQUIRED)")
	cmd.StringVar(&schemaPath, "schema", "", "Path to the policy JSON schema (REQUIRED)")
	cmd.IntVar(&requiredSigs, "required-signatures", 1, "Signature quorum for verification")
	cmd.StringVar(&createdAt, "created-at", "", "Bundle creation time, ISO-8601 (default now)")
	cmd.StringVar(&outPath, "out", "", "Output path for the bundle (REQUIRED)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if policyPath == "" || schemaPath == "" || outPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --policy, --schema and --out are required")
		cmd.Usage()
		return 2
	}

	policyData, err := os.ReadFile(policyPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error reading policy: %v\n", err)
		return 1
	}
	doc, err := policy.DecodeDocument(policyData, policyPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	// Refuse to bundle a policy that would not parse at gate time.
	if _, err := policy.Parse(doc); err != nil {
		printGovernanceError(stderr, err)
		return 1
	}
	schemaData, err := os.ReadFile(schemaPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error reading schema: %v\n", err)
		return 1
	}

	b, err := bundle.BuildTemplate(doc, schemaPath, canonical.HashBytes(schemaData), requiredSigs, createdAt)
	if err != nil {
		printGovernanceError(stderr, err)
		return 1
	}
	if err := writeBundle(b, outPath); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error writing bundle: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "Bundle written: %s (policySha256 %s)\n", outPath, b.PolicySha256)
	return 0
}

func runBundleSign(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("bundle sign", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		bundlePath    string
		keyPath       string
		keyID         string
		useKeyless    bool
		signerID      string
		identityToken string
		fulcioURL     string
		rekorURL      string
		tlogUpload    bool
		outPath       string
	)
	cmd.StringVar(&bundlePath, "bundle", "", "Path to the bundle to sign (REQUIRED)")
	cmd.StringVar(&keyPath, "key", "", "Path to an RSA private key PEM")
	cmd.StringVar(&keyID, "key-id", "", "Key identifier recorded in the signature slot")
	cmd.BoolVar(&useKeyless, "keyless", false, "Sign with an ephemeral sigstore-style identity")
	cmd.StringVar(&signerID, "signer-id", "", "Signer identifier for keyless signatures")
	cmd.StringVar(&identityToken, "identity-token", "", "OIDC identity token for keyless signing")
	cmd.StringVar(&fulcioURL, "fulcio-url", "", "Certificate authority URL")
	cmd.StringVar(&rekorURL, "rekor-url", "", "Transparency log URL")
	cmd.BoolVar(&tlogUpload, "tlog-upload", false, "Record the signature in the transparency log")
	cmd.StringVar(&outPath, "out", "", "Output path (default: sign in place)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if bundlePath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --bundle is required")
		cmd.Usage()
		return 2
	}
	if outPath == "" {
		outPath = bundlePath
	}

	data, err := os.ReadFile(bundlePath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error reading bundle: %v\n", err)
		return 1
	}
	b, err := bundle.Parse(data)
	if err != nil {
		printGovernanceError(stderr, err)
		return 1
	}

	switch {
	case useKeyless:
		if signerID == "" || identityToken == "" {
			_, _ = fmt.Fprintln(stderr, "Error: --keyless requires --signer-id and --identity-token")
			return 2
		}
		// Keyless signatures live in the v2 envelope shape.
		if b.SchemaVersion < 2 {
			b.SchemaVersion = 2
		}
		err = bundle.SignKeyless(b, signerID, keyless.New(), bundle.SigstoreSignOptions{
			FulcioURL:     fulcioURL,
			RekorURL:      rekorURL,
			TlogUpload:    tlogUpload,
			IdentityToken: identityToken,
		})
	case keyPath != "":
		if keyID == "" {
			_, _ = fmt.Fprintln(stderr, "Error: --key requires --key-id")
			return 2
		}
		var pemData []byte
		if pemData, err = os.ReadFile(keyPath); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error reading key: %v\n", err)
			return 1
		}
		key, kerr := bundle.ParseRSAPrivateKeyPEM(pemData)
		if kerr != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", kerr)
			return 1
		}
		err = bundle.SignRSA(b, keyID, key)
	default:
		_, _ = fmt.Fprintln(stderr, "Error: --key or --keyless is required")
		cmd.Usage()
		return 2
	}
	if err != nil {
		printGovernanceError(stderr, err)
		return 1
	}

	if err := writeBundle(b, outPath); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error writing bundle: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "Bundle signed: %s (%d signatures)\n", outPath, len(b.Signatures))
	return 0
}

func runBundleVerify(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("bundle verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		bundlePath     string
		schemaPath     string
		publicKeys     stringList
		trustStorePath string
	)
	cmd.StringVar(&bundlePath, "bundle", "", "Path to the bundle (REQUIRED)")
	cmd.StringVar(&schemaPath, "schema", "", "Path to the policy JSON schema (REQUIRED)")
	cmd.Var(&publicKeys, "public-key", "Trusted RSA key as keyId=path (repeatable)")
	cmd.StringVar(&trustStorePath, "trust-store", "", "Path to the signer trust store")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if bundlePath == "" || schemaPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --bundle and --schema are required")
		cmd.Usage()
		return 2
	}
	if (len(publicKeys) == 0) == (trustStorePath == "") {
		_, _ = fmt.Fprintln(stderr, "Error: exactly one of --public-key or --trust-store is required")
		return 2
	}

	data, err := os.ReadFile(bundlePath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error reading bundle: %v\n", err)
		return 1
	}
	b, err := bundle.Parse(data)
	if err != nil {
		printGovernanceError(stderr, err)
		return 1
	}
	schemaData, err := os.ReadFile(schemaPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error reading schema: %v\n", err)
		return 1
	}
	schemaSha := canonical.HashBytes(schemaData)

	var result *bundle.VerifyResult
	if trustStorePath != "" {
		storeData, rerr := os.ReadFile(trustStorePath)
		if rerr != nil {
			_, _ = fmt.Fprintf(stderr, "Error reading trust store: %v\n", rerr)
			return 1
		}
		store, perr := bundle.ParseTrustStore(storeData)
		if perr != nil {
			printGovernanceError(stderr, perr)
			return 1
		}
		result, err = bundle.VerifyWithTrustStore(b, store, schemaSha, keyless.New())
	} else {
		trustedKeys := make(map[string]string, len(publicKeys))
		for _, entry := range publicKeys {
			id, path, ok := strings.Cut(entry, "=")
			if !ok {
				_, _ = fmt.Fprintf(stderr, "Error: --public-key expects keyId=path, got %q\n", entry)
				return 2
			}
			pemData, rerr := os.ReadFile(path)
			if rerr != nil {
				_, _ = fmt.Fprintf(stderr, "Error reading public key: %v\n", rerr)
				return 1
			}
			trustedKeys[id] = string(pemData)
		}
		result, err = bundle.Verify(b, trustedKeys, schemaSha)
	}
	if err != nil {
		printGovernanceError(stderr, err)
		return 1
	}

	_, _ = fmt.Fprintf(stdout, "Bundle verified: %s\n", bundlePath)
	_, _ = fmt.Fprintf(stdout, "  Valid signatures: %s\n", strings.Join(result.ValidSignatures, ", "))
	return 0
}
