// Package daemon assembles the daemon from its parts: configuration, the
// encrypted keystore, the identity manager, the trust store and the HTTP
// surface.
package daemon

import (
	"log/slog"
	"os"
	"path/filepath"

	"latchkey/go-backend/internal/config"
	"latchkey/go-backend/internal/identity"
	"latchkey/go-backend/internal/keystore"
	"latchkey/go-backend/internal/login"
	"latchkey/go-backend/internal/logintoken"
	"latchkey/go-backend/internal/platform/metrics"
	"latchkey/go-backend/internal/platform/privacylog"
	"latchkey/go-backend/internal/platform/ratelimiter"
	"latchkey/go-backend/internal/trust"
)

// BuildServer loads configuration and wires the full daemon. A missing
// identity is not an error; the daemon starts and /login answers 409 until
// keytool installs one.
func BuildServer(addr, configPath, dataDir string) (*login.Server, error) {
	cfg := config.LoadFromPath(configPath)
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}

	logger := slog.New(privacylog.WrapHandler(slog.NewJSONHandler(os.Stderr, nil)))
	slog.SetDefault(logger)

	svc, err := BuildService(cfg)
	if err != nil {
		return nil, err
	}

	limiter := ratelimiter.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst, cfg.RateLimit.IdleTTL)
	return login.NewServer(cfg.Server.Addr, svc, limiter, logger), nil
}

// BuildService wires the service layer without the HTTP transport.
func BuildService(cfg config.Config) (*login.Service, error) {
	secret, err := StorageSecret(cfg.Storage.DataDir, cfg.Storage.StoreSecret)
	if err != nil {
		return nil, err
	}

	store, err := keystore.NewFileStore(filepath.Join(cfg.Storage.DataDir, "keystore.enc"), secret)
	if err != nil {
		return nil, err
	}
	manager := identity.NewManager(store)
	if err := manager.Bootstrap(); err != nil {
		return nil, err
	}

	trustPath := cfg.Trust.StorePath
	if trustPath == "" {
		trustPath = filepath.Join(cfg.Storage.DataDir, "trusted.json")
	}
	records, err := trust.NewFileRecordStore(trustPath)
	if err != nil {
		return nil, err
	}

	return &login.Service{
		Identity: manager,
		Issuer:   logintoken.Issuer{},
		Verifier: logintoken.Verifier{},
		Policy: trust.Policy{
			SelfHost:      cfg.Server.PublicHost,
			SecureContext: cfg.SecureContext(),
			Records:       records,
		},
		Metrics: metrics.New(),
	}, nil
}
