package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/uconnect/uconnect/pkg/logger"
)

// RequestMeta carries client details recorded alongside audit entries.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// recordAudit logs the supplied entry while tolerating audit failures.
func recordAudit(audit *AuditService, ctx context.Context, entry AuditEntry) {
	if audit == nil {
		return
	}
	if err := audit.Log(ctx, entry); err != nil {
		logger.WithModule("audit").Warn("audit write failed",
			zap.String("action", entry.Action),
			zap.Error(err),
		)
	}
}

func actorPtr(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}
