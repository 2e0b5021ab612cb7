package peerdoc

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"
	"golang.org/x/crypto/bcrypt"

	"pkt.systems/pslog"
)

// BootstrapOptions configures Bootstrap.
type BootstrapOptions struct {
	// Path is the config file to write; DefaultConfigPath when empty.
	Path   string
	Config Config
	// Force overwrites an existing config file.
	Force  bool
	Logger pslog.Logger
}

// BootstrapResult reports what Bootstrap wrote. AdminKey is the plaintext
// admin key; only its bcrypt hash is stored.
type BootstrapResult struct {
	Path     string
	AdminKey string
}

// Bootstrap writes a config file with a fresh token secret and admin key.
func Bootstrap(opts BootstrapOptions) (BootstrapResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = pslog.LoggerFromEnv()
	}
	path := opts.Path
	if path == "" {
		path = DefaultConfigPath()
	}
	if _, err := os.Stat(path); err == nil {
		if !opts.Force {
			return BootstrapResult{}, fmt.Errorf("config already exists at %s", path)
		}
	} else if !os.IsNotExist(err) {
		return BootstrapResult{}, err
	}

	secret, err := randomKey(32)
	if err != nil {
		return BootstrapResult{}, err
	}
	adminKey, err := randomKey(24)
	if err != nil {
		return BootstrapResult{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(adminKey), bcrypt.DefaultCost)
	if err != nil {
		return BootstrapResult{}, err
	}

	cfg := opts.Config
	cfg.Tokens.Secret = secret
	cfg.Server.AdminKeyHash = string(hash)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return BootstrapResult{}, err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return BootstrapResult{}, err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return BootstrapResult{}, err
	}
	logger.Info("bootstrapped config", "path", path)
	return BootstrapResult{Path: path, AdminKey: adminKey}, nil
}

func randomKey(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
