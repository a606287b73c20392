package usecases

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MyCarrier-DevOps/git-expired-branch/internal/domain"
)

var referenceNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func branchAged(name string, age time.Duration) domain.BranchInfo {
	return domain.BranchInfo{
		Name:                "origin/" + name,
		Remote:              "origin",
		LastCommitTimestamp: referenceNow.Add(-age),
	}
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func TestValidateExpirationConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     domain.ExpirationConfig
		wantErr bool
	}{
		{name: "valid", cfg: domain.ExpirationConfig{MaxAgeDays: 30, ExcludedBranches: []string{"master", "release/*", `regex:^hotfix-\d+$`}}},
		{name: "zero days", cfg: domain.ExpirationConfig{MaxAgeDays: 0}, wantErr: true},
		{name: "negative days", cfg: domain.ExpirationConfig{MaxAgeDays: -3}, wantErr: true},
		{name: "bad regex", cfg: domain.ExpirationConfig{MaxAgeDays: 30, ExcludedBranches: []string{"regex:[unclosed"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateExpirationConfig(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrConfiguration)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestIsExcluded(t *testing.T) {
	patterns := []string{"master", "release/*", `regex:^hotfix-\d+$`, "*-keep"}

	tests := []struct {
		name string
		want bool
	}{
		{name: "master", want: true},
		{name: "Master", want: false},
		{name: "master2", want: false},
		{name: "release/1.2", want: true},
		{name: "release", want: false},
		{name: "hotfix-42", want: true},
		{name: "hotfix-x", want: false},
		{name: "feature-keep", want: true},
		{name: "feature/a", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsExcluded(tt.name, patterns))
		})
	}
}

func TestIsExcluded_InvalidRegexNeverMatches(t *testing.T) {
	assert.False(t, IsExcluded("anything", []string{"regex:("}))
}

func TestIsExcluded_RegexIsUnanchored(t *testing.T) {
	assert.True(t, IsExcluded("team/wip-login", []string{"regex:wip"}))
	assert.False(t, IsExcluded("team/wip-login", []string{"regex:^wip"}))
}

func TestCompileExclusions(t *testing.T) {
	ex, err := compileExclusions([]string{"master", "release/*", "regex:(", `regex:^hotfix-\d+$`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"regex:("`)

	assert.Len(t, ex.regexes, 1, "patterns are compiled once and invalid ones dropped")
	assert.True(t, ex.match("master"))
	assert.True(t, ex.match("release/2.0"))
	assert.True(t, ex.match("hotfix-7"))
	assert.False(t, ex.match("feature/a"))
}

func TestClassify_InvalidPatternKeepsOtherExclusions(t *testing.T) {
	cfg := domain.ExpirationConfig{MaxAgeDays: 30, ExcludedBranches: []string{"regex:(", "master"}}
	branches := []domain.BranchInfo{
		branchAged("master", days(400)),
		branchAged("feature/a", days(40)),
	}

	assert.Equal(t, []string{"feature/a"}, shortNames(Classify(branches, cfg, referenceNow)))
}

func TestIsExpired_Boundary(t *testing.T) {
	cfg := domain.ExpirationConfig{MaxAgeDays: 30}

	tests := []struct {
		name string
		age  time.Duration
		want bool
	}{
		{name: "exactly max age", age: days(30), want: false},
		{name: "one second past", age: days(30) + time.Second, want: true},
		{name: "one second short", age: days(30) - time.Second, want: false},
		{name: "fresh", age: time.Hour, want: false},
		{name: "committed in the future", age: -time.Hour, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsExpired(branchAged("feature/a", tt.age), cfg, referenceNow))
		})
	}
}

func TestIsExpired_ExclusionOverridesAge(t *testing.T) {
	cfg := domain.ExpirationConfig{
		MaxAgeDays:       30,
		ExcludedBranches: domain.DefaultExcludedBranches,
	}

	assert.False(t, IsExpired(branchAged("master", days(400)), cfg, referenceNow))
	assert.True(t, IsExpired(branchAged("feature/a", days(400)), cfg, referenceNow))
}

func TestIsExpired_MatchesOnShortName(t *testing.T) {
	cfg := domain.ExpirationConfig{MaxAgeDays: 30, ExcludedBranches: []string{"dev"}}

	qualified := domain.BranchInfo{
		Name:                "refs/remotes/origin/dev",
		Remote:              "origin",
		LastCommitTimestamp: referenceNow.Add(-days(40)),
	}
	assert.False(t, IsExpired(qualified, cfg, referenceNow))
}

func TestClassify(t *testing.T) {
	cfg := domain.ExpirationConfig{MaxAgeDays: 30, ExcludedBranches: []string{"master"}}
	branches := []domain.BranchInfo{
		branchAged("feature/a", days(40)),
		branchAged("master", days(40)),
		branchAged("feature/b", days(10)),
		branchAged("feature/c", days(90)),
	}

	expired := Classify(branches, cfg, referenceNow)

	require.Len(t, expired, 2)
	assert.Equal(t, "feature/a", expired[0].ShortName())
	assert.Equal(t, "feature/c", expired[1].ShortName())
}

func TestClassify_Empty(t *testing.T) {
	assert.Empty(t, Classify(nil, domain.ExpirationConfig{MaxAgeDays: 30}, referenceNow))
}
