package main

// ---------------------------------------------------------------------------
// cmd_certs.go — provision trust anchors and device certificates
//
// Usage:
//   gridward certs anchor --out anchor                 # anchor keypair
//   gridward certs issue --anchor anchor.key \
//       --device TRANSMISSION_LINE_345KV_001 --out device   # signed cert
//
// The anchor public key (hex) goes into channel.trust_anchors in the
// config; the issued certificate JSON goes into channel.device_cert_files.
// ---------------------------------------------------------------------------

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/nacl/box"

	"github.com/gridward-project/gridward/internal/securechannel"
)

func cmdCerts(args []string) {
	if len(args) > 0 {
		switch args[0] {
		case "anchor":
			cmdCertsAnchor(args[1:])
			return
		case "issue":
			cmdCertsIssue(args[1:])
			return
		}
	}
	cmdHelp("certs")
	os.Exit(1)
}

func cmdCertsAnchor(args []string) {
	fs := flag.NewFlagSet("certs-anchor", flag.ExitOnError)
	out := fs.String("out", "anchor", "Output file prefix (<out>.key, <out>.pub)")
	fs.Parse(args)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		errorf("generating anchor keypair: %v", err)
	}

	keyPath := *out + ".key"
	pubPath := *out + ".pub"

	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(priv)+"\n"), 0o600); err != nil {
		errorf("writing %s: %v", keyPath, err)
	}
	if err := os.WriteFile(pubPath, []byte(hex.EncodeToString(pub)+"\n"), 0o644); err != nil {
		errorf("writing %s: %v", pubPath, err)
	}

	fmt.Fprintf(os.Stdout, "%s Trust anchor written: %s (private), %s (public)\n",
		green("✓"), keyPath, pubPath)
	fmt.Fprintf(os.Stdout, "\n  Add to config under %s:\n", bold("channel.trust_anchors"))
	fmt.Fprintf(os.Stdout, "    - %s\n\n", cyan(hex.EncodeToString(pub)))
	fmt.Fprintf(os.Stdout, "  %s Keep %s offline. Anyone holding it can certify devices.\n",
		yellow("!"), keyPath)
}

func cmdCertsIssue(args []string) {
	fs := flag.NewFlagSet("certs-issue", flag.ExitOnError)
	anchorPath := fs.String("anchor", "anchor.key", "Anchor private key file (hex)")
	deviceID := fs.String("device", "", "Device identifier (required)")
	validStr := fs.String("valid", "8760h", "Certificate validity duration")
	out := fs.String("out", "", "Output file prefix (default: device ID)")
	fs.Parse(args)

	if *deviceID == "" {
		errorf("--device is required")
	}
	if *out == "" {
		*out = *deviceID
	}

	validFor, err := time.ParseDuration(*validStr)
	if err != nil {
		errorf("invalid validity %q: %v", *validStr, err)
	}

	raw, err := os.ReadFile(*anchorPath)
	if err != nil {
		errorf("reading anchor key: %v", err)
	}
	keyBytes, err := hex.DecodeString(trimmed(string(raw)))
	if err != nil {
		errorf("decoding anchor key: %v", err)
	}
	if len(keyBytes) != ed25519.PrivateKeySize {
		errorf("anchor key must be %d bytes, got %d", ed25519.PrivateKeySize, len(keyBytes))
	}
	anchor := ed25519.PrivateKey(keyBytes)

	devicePub, devicePriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		errorf("generating device keypair: %v", err)
	}

	cert := securechannel.IssueCertificate(anchor, *deviceID, *devicePub, validFor)

	certPath := *out + ".cert.json"
	keyPath := *out + ".key"

	certData, err := json.MarshalIndent(cert, "", "  ")
	if err != nil {
		errorf("encoding certificate: %v", err)
	}
	if err := os.WriteFile(certPath, append(certData, '\n'), 0o644); err != nil {
		errorf("writing %s: %v", certPath, err)
	}
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(devicePriv[:])+"\n"), 0o600); err != nil {
		errorf("writing %s: %v", keyPath, err)
	}

	fmt.Fprintf(os.Stdout, "%s Certificate issued for %s, valid until %s\n",
		green("✓"), cyan(*deviceID), cert.NotAfter.Format(time.RFC3339))
	fmt.Fprintf(os.Stdout, "  %s %s — add to %s\n", dim("▸"), certPath, bold("channel.device_cert_files"))
	fmt.Fprintf(os.Stdout, "  %s %s — device-side private key, deploy to the device\n", dim("▸"), keyPath)
}

func trimmed(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r' || s[len(s)-1] == ' ') {
		s = s[:len(s)-1]
	}
	return s
}
