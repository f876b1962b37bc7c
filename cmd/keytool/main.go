// keytool manages the daemon's identity from the command line: generate a
// keypair with a password-wrapped backup, import a backup, inspect the
// installed identity and verify a login token offline.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"latchkey/go-backend/internal/composition/daemon"
	"latchkey/go-backend/internal/config"
	"latchkey/go-backend/internal/identity"
	"latchkey/go-backend/internal/login"
	"latchkey/go-backend/internal/logintoken"
	"latchkey/go-backend/internal/securestore"
	"latchkey/go-backend/pkg/models"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	switch os.Args[1] {
	case "generate":
		runGenerate(os.Args[2:])
	case "import":
		runImport(os.Args[2:])
	case "inspect":
		runInspect(os.Args[2:])
	case "verify":
		runVerify(os.Args[2:])
	default:
		usage()
	}
}

func usage() {
	fail(`usage: keytool <command> [flags]

commands:
  generate   create a new identity and write a password-wrapped backup
  import     restore an identity from a wrapped backup file
  inspect    print the installed identity's fingerprint and public key
  verify     check a login token against a base64url SPKI public key`)
}

func runGenerate(args []string) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config.yaml (optional)")
	dataDir := fs.String("data-dir", "", "Directory for daemon local data (optional)")
	password := fs.String("password", "", "Backup wrapping password (empty suggests one)")
	out := fs.String("out", "backup.json", "Path for the wrapped backup file")
	_ = fs.Parse(args)

	svc := buildService(*configPath, *dataDir)
	if svc.Identity.Installed() {
		fail("an identity is already installed; reset the data dir first")
	}

	pw := strings.TrimSpace(*password)
	suggested := false
	if pw == "" {
		var err error
		pw, err = securestore.SuggestBackupPassword()
		if err != nil {
			failf("suggest password: %v", err)
		}
		suggested = true
	}

	created, err := svc.Identity.CreateIdentity()
	if err != nil {
		failf("create identity: %v", err)
	}
	payload, err := securestore.Wrap(created.Backup, pw)
	if err != nil {
		failf("wrap backup: %v", err)
	}
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		failf("marshal backup: %v", err)
	}
	if err := os.WriteFile(*out, raw, 0o600); err != nil {
		failf("write backup: %v", err)
	}

	writeStdoutf("identity created: %s\n", created.Identity.Fingerprint)
	writeStdoutf("backup written: %s\n", *out)
	if suggested {
		writeStdoutf("backup password (store it safely): %s\n", pw)
	}
}

func runImport(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config.yaml (optional)")
	dataDir := fs.String("data-dir", "", "Directory for daemon local data (optional)")
	password := fs.String("password", "", "Backup wrapping password")
	in := fs.String("in", "backup.json", "Path to the wrapped backup file")
	_ = fs.Parse(args)

	if strings.TrimSpace(*password) == "" {
		fail("password is required")
	}

	raw, err := os.ReadFile(*in)
	if err != nil {
		failf("read backup: %v", err)
	}
	var payload models.WrappedKeyPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		failf("parse backup: %v", err)
	}
	material, err := securestore.Unwrap(&payload, *password)
	if err != nil {
		failf("unwrap backup: %v", err)
	}

	svc := buildService(*configPath, *dataDir)
	installed, err := svc.Identity.ImportFromKeyMaterial(material)
	if err != nil {
		failf("install identity: %v", err)
	}
	writeStdoutf("identity restored: %s\n", installed.Fingerprint)
}

func runInspect(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config.yaml (optional)")
	dataDir := fs.String("data-dir", "", "Directory for daemon local data (optional)")
	_ = fs.Parse(args)

	svc := buildService(*configPath, *dataDir)
	key, err := svc.Identity.VerifyingKey()
	if err != nil {
		fail("no identity installed")
	}
	fingerprint, err := key.Fingerprint()
	if err != nil {
		failf("fingerprint: %v", err)
	}
	spki, err := identity.EncodeVerifyingKeySPKI(key)
	if err != nil {
		failf("encode public key: %v", err)
	}
	writeStdoutf("fingerprint: %s\n", fingerprint)
	writeStdoutf("pubKey: %s\n", spki)
}

func runVerify(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	token := fs.String("token", "", "Login token to check")
	pubKey := fs.String("pubkey", "", "base64url SPKI public key")
	_ = fs.Parse(args)

	if strings.TrimSpace(*token) == "" || strings.TrimSpace(*pubKey) == "" {
		fail("token and pubkey are required")
	}
	key, err := identity.ParseVerifyingKeySPKI(*pubKey)
	if err != nil {
		failf("parse public key: %v", err)
	}
	claims, err := logintoken.Verifier{}.Verify(*token, key.ECDSA())
	if err != nil {
		failf("token rejected: %v", err)
	}
	raw, err := json.MarshalIndent(claims, "", "  ")
	if err != nil {
		failf("marshal claims: %v", err)
	}
	writeStdoutf("token valid\n%s\n", raw)
}

func buildService(configPath, dataDir string) *login.Service {
	cfg := config.LoadFromPath(configPath)
	if dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}
	svc, err := daemon.BuildService(cfg)
	if err != nil {
		failf("initialize storage: %v", err)
	}
	return svc
}

func fail(msg string) {
	if _, err := fmt.Fprintln(os.Stderr, msg); err != nil {
		os.Exit(1)
	}
	os.Exit(1)
}

func failf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format+"\n", args...); err != nil {
		os.Exit(1)
	}
	os.Exit(1)
}

func writeStdoutf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stdout, format, args...); err != nil {
		os.Exit(1)
	}
}
