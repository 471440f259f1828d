package app

import (
	"github.com/uconnect/uconnect/internal/auth"
)

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	sessionTTL := c.JWT.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = auth.DefaultSessionTTL
	}
	verificationTTL := c.JWT.VerificationTTL
	if verificationTTL <= 0 {
		verificationTTL = auth.DefaultVerificationTTL
	}

	return auth.JWTConfig{
		Secret:          c.JWT.Secret,
		Issuer:          c.JWT.Issuer,
		SessionTTL:      sessionTTL,
		VerificationTTL: verificationTTL,
	}
}
