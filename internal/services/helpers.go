package services

import (
	"context"
	"strings"

	"github.com/uconnect/uconnect/internal/models"
	"github.com/uconnect/uconnect/internal/tasks"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func normaliseIdentifier(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// DomainAllowed reports whether email belongs to one of domains. An empty
// allow-list accepts every address; subdomains of a listed domain match.
func DomainAllowed(email string, domains []string) bool {
	if len(domains) == 0 {
		return true
	}
	host := models.EmailDomain(email)
	if host == "" {
		return false
	}
	for _, domain := range domains {
		domain = strings.TrimPrefix(normaliseIdentifier(domain), "@")
		if domain == "" {
			continue
		}
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

func normalisePage(page, perPage int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	return page, perPage
}

// TaskRunner schedules best-effort background work. *tasks.Dispatcher
// satisfies it.
type TaskRunner interface {
	Go(name string, fn tasks.Func) error
}

// dispatch runs fn through runner, or inline on a background context when no
// runner is configured. Errors are reported through the runner's logging.
func dispatch(runner TaskRunner, name string, fn tasks.Func) error {
	if runner == nil {
		return fn(context.Background())
	}
	return runner.Go(name, fn)
}
