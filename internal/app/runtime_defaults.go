package app

import (
	"fmt"
	"strings"

	"github.com/uconnect/uconnect/pkg/crypto"
)

const adminPasswordBytes = 12

// ApplyRuntimeDefaults fills settings that are safe to generate when no
// configuration supplies them. It returns the generated values keyed by
// config path so the caller can surface them once at startup.
func ApplyRuntimeDefaults(cfg *Config) (map[string]string, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]string)

	if strings.TrimSpace(cfg.Admin.Password) == "" {
		password, err := crypto.GenerateToken(adminPasswordBytes)
		if err != nil {
			return nil, fmt.Errorf("generate admin password: %w", err)
		}
		cfg.Admin.Password = password
		generated["admin.password"] = password
	}

	if strings.TrimSpace(cfg.Auth.JWT.Issuer) == "" {
		cfg.Auth.JWT.Issuer = "uconnect"
	}

	return generated, nil
}
