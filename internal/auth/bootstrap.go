package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
)

// BootstrapResult describes a bootstrapped shared secret.
type BootstrapResult struct {
	SecretFile string
	Secret     string
	Created    bool
}

// BootstrapSecret checks if the secret file exists. If not, it creates one
// with a random shared secret so developers can start a pair of agents
// without manual setup.
func BootstrapSecret(path string) (*BootstrapResult, error) {
	if path == "" {
		return nil, fmt.Errorf("secret file path required")
	}
	if data, err := os.ReadFile(path); err == nil {
		return &BootstrapResult{SecretFile: path, Secret: string(data), Created: false}, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("check secret file: %w", err)
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(secret), 0600); err != nil {
		return nil, fmt.Errorf("write secret file: %w", err)
	}
	return &BootstrapResult{SecretFile: path, Secret: secret, Created: true}, nil
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
