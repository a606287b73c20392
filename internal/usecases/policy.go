package usecases

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ryanuber/go-glob"

	"github.com/MyCarrier-DevOps/git-expired-branch/internal/domain"
)

// regexPatternPrefix marks an exclusion entry as a regular expression.
const regexPatternPrefix = "regex:"

// ValidateExpirationConfig checks the policy invariants.
func ValidateExpirationConfig(cfg domain.ExpirationConfig) error {
	if cfg.MaxAgeDays <= 0 {
		return fmt.Errorf("%w: maxAgeDays must be positive, got %d", domain.ErrConfiguration, cfg.MaxAgeDays)
	}
	if _, err := compileExclusions(cfg.ExcludedBranches); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}
	return nil
}

// exclusions is a compiled exclusion list. Entries are exact names, globs
// containing "*", or "regex:" expressions. Regular expressions are not anchored;
// write ^ and $ to match a whole name.
type exclusions struct {
	exact   map[string]struct{}
	globs   []string
	regexes []*regexp.Regexp
}

// compileExclusions compiles patterns once. Invalid expressions are reported
// and left out of the returned matcher.
func compileExclusions(patterns []string) (*exclusions, error) {
	ex := &exclusions{exact: make(map[string]struct{}, len(patterns))}
	var firstErr error
	for _, pattern := range patterns {
		if expr, ok := strings.CutPrefix(pattern, regexPatternPrefix); ok {
			re, err := regexp.Compile(expr)
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("excluded branch pattern %q: %w", pattern, err)
				}
				continue
			}
			ex.regexes = append(ex.regexes, re)
			continue
		}
		if strings.Contains(pattern, "*") {
			ex.globs = append(ex.globs, pattern)
			continue
		}
		ex.exact[pattern] = struct{}{}
	}
	return ex, firstErr
}

func (ex *exclusions) match(name string) bool {
	if _, ok := ex.exact[name]; ok {
		return true
	}
	for _, g := range ex.globs {
		if glob.Glob(g, name) {
			return true
		}
	}
	for _, re := range ex.regexes {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// IsExcluded reports whether name matches any exclusion pattern. Matching is
// case-sensitive and applied to the short branch name. Invalid expressions
// never match.
func IsExcluded(name string, patterns []string) bool {
	ex, _ := compileExclusions(patterns)
	return ex.match(name)
}

// IsExpired reports whether branch is expired at now. A branch aged exactly
// MaxAgeDays is not expired.
func IsExpired(branch domain.BranchInfo, cfg domain.ExpirationConfig, now time.Time) bool {
	ex, _ := compileExclusions(cfg.ExcludedBranches)
	return isExpired(branch, ex, cfg.MaxAge(), now)
}

func isExpired(branch domain.BranchInfo, ex *exclusions, maxAge time.Duration, now time.Time) bool {
	if ex.match(branch.ShortName()) {
		return false
	}
	return now.Sub(branch.LastCommitTimestamp) > maxAge
}

// Classify returns the expired branches in input order.
func Classify(branches []domain.BranchInfo, cfg domain.ExpirationConfig, now time.Time) []domain.BranchInfo {
	ex, _ := compileExclusions(cfg.ExcludedBranches)
	maxAge := cfg.MaxAge()
	expired := make([]domain.BranchInfo, 0, len(branches))
	for _, b := range branches {
		if isExpired(b, ex, maxAge, now) {
			expired = append(expired, b)
		}
	}
	return expired
}
