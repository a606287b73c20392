package usecases

import (
	"net/mail"
	"strings"

	"github.com/MyCarrier-DevOps/git-expired-branch/internal/domain"
)

// CommitterResolver picks the notification recipient for a branch.
type CommitterResolver struct {
	fallback string
}

// NewCommitterResolver creates a resolver that degrades to fallback whenever the
// branch author email is unusable.
func NewCommitterResolver(fallback string) *CommitterResolver {
	return &CommitterResolver{fallback: strings.TrimSpace(fallback)}
}

// Resolve returns the last commit author's email, or the fallback address when it
// is empty or malformed.
func (r *CommitterResolver) Resolve(branch domain.BranchInfo) string {
	if addr, ok := parseAddress(branch.LastCommitAuthorEmail); ok {
		return addr
	}
	return r.fallback
}

// parseAddress accepts a single bare address such as "dev@example.com".
func parseAddress(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	parsed, err := mail.ParseAddress(raw)
	if err != nil {
		return "", false
	}
	if !strings.Contains(parsed.Address, "@") {
		return "", false
	}
	return parsed.Address, true
}
