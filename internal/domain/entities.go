// Package domain defines the core business entities and interfaces for git-expired-branch.
package domain

import (
	"strings"
	"time"
)

// DefaultRemoteName is the remote whose branches are inspected when none is configured.
const DefaultRemoteName = "origin"

// Default policy values applied when the configuration omits them.
const (
	DefaultMaxAgeDays = 30
	DefaultBaseBranch = "master"
)

// DefaultExcludedBranches lists the branches never considered expired unless the
// configuration supplies its own exclusion list.
var DefaultExcludedBranches = []string{"master", "main", "dev", "HEAD"}

// BranchInfo is a snapshot of a remote branch taken at enumeration time.
type BranchInfo struct {
	// Name is the remote-qualified branch name, e.g. "origin/feature/a".
	Name string

	// Remote is the remote the branch was read from, e.g. "origin".
	Remote string

	// LastCommitHash is the full SHA of the branch tip.
	LastCommitHash string

	// LastCommitTimestamp is the committer time of the branch tip.
	LastCommitTimestamp time.Time

	LastCommitAuthorEmail string
	LastCommitAuthorName  string

	// LastCommitMessage is the first line of the tip commit message.
	LastCommitMessage string
}

// ShortName returns the branch name with ref and remote decorations removed,
// e.g. "feature/a" for "refs/remotes/origin/feature/a" or "origin/feature/a".
func (b BranchInfo) ShortName() string {
	return ShortBranchName(b.Name, b.Remote)
}

// ShortBranchName strips "refs/heads/", "refs/remotes/<remote>/" and "<remote>/"
// from name.
func ShortBranchName(name, remote string) string {
	if remote == "" {
		remote = DefaultRemoteName
	}
	for _, prefix := range []string{
		"refs/heads/",
		"refs/remotes/" + remote + "/",
		remote + "/",
	} {
		if strings.HasPrefix(name, prefix) {
			return strings.TrimPrefix(name, prefix)
		}
	}
	return name
}

// ExpirationConfig holds the staleness policy.
type ExpirationConfig struct {
	// MaxAgeDays is the number of days without commits after which a branch expires.
	MaxAgeDays int

	// ExcludedBranches are exact names, globs ("release/*") or regular expressions
	// prefixed with "regex:". A match always overrides age-based expiration.
	ExcludedBranches []string
}

// MaxAge returns the threshold as a duration.
func (c ExpirationConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeDays) * 24 * time.Hour
}

// GitAccessConfig describes how to reach the repository and its remote.
type GitAccessConfig struct {
	// RepoDir is the path of the local clone.
	RepoDir string

	// RemoteName is the remote to enumerate and push to (default "origin").
	RemoteName string

	// Username is the git actor name and the user for ssh/http authentication.
	Username string

	// Email is the git actor email and the fallback notification recipient.
	Email string

	// PrivateKeyPath is an optional ssh private key used for push-based deletion.
	PrivateKeyPath string

	// PrivateKeyPassphrase decrypts PrivateKeyPath when it is encrypted.
	PrivateKeyPassphrase string

	// UseSSHAgent enables ssh-agent authentication when no key path is set.
	UseSSHAgent bool

	// Password enables http basic authentication with Username.
	Password string

	// StrictHostKeyChecking verifies ssh host keys against known_hosts. When
	// false any host key is accepted.
	StrictHostKeyChecking bool

	// Fetch refreshes remote-tracking refs before enumeration.
	Fetch bool
}

// Remote returns the configured remote name or DefaultRemoteName.
func (c GitAccessConfig) Remote() string {
	if c.RemoteName == "" {
		return DefaultRemoteName
	}
	return c.RemoteName
}

// EmailConfig describes the SMTP connection.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	StartTLS bool
}

// NotificationMode selects how expiration notices are grouped.
type NotificationMode string

const (
	// NotificationModePerCommitter sends one message per resolved committer.
	NotificationModePerCommitter NotificationMode = "per-committer"

	// NotificationModeDigest sends a single message to the operator address.
	NotificationModeDigest NotificationMode = "digest"
)

// NotificationConfig holds addressing for outgoing messages.
type NotificationConfig struct {
	Mode NotificationMode

	// OperatorEmail receives the single digest in digest mode.
	OperatorEmail string

	// NotifierEmail is the sender of expiration notices.
	NotifierEmail string

	// RemoverEmail is the sender of deletion notices.
	RemoverEmail string

	// AdminEmail receives a copy of any message whose delivery failed.
	AdminEmail string

	// RepositoryName is shown in subjects and bodies.
	RepositoryName string

	// RemoveAfterDays is quoted in deletion notices.
	RemoveAfterDays int

	// NotifyAfterDays is quoted in expiration notices.
	NotifyAfterDays int
}

// ArchiveConfig enables saving branch diffs before deletion.
type ArchiveConfig struct {
	// RepositoryURL is the archive remote; archiving is disabled when empty.
	RepositoryURL string

	// BaseBranch is the branch diffs are computed against.
	BaseBranch string
}

// Enabled reports whether archiving is configured.
func (c ArchiveConfig) Enabled() bool {
	return strings.TrimSpace(c.RepositoryURL) != ""
}

// Stage names where a per-branch failure happened.
type Stage string

const (
	StageArchive  Stage = "archive"
	StageDelete   Stage = "delete"
	StageNotify   Stage = "notify"
	StageCanceled Stage = "canceled"
)

// ExpiredBranchResult records what happened to one expired branch in a run.
type ExpiredBranchResult struct {
	Branch    BranchInfo
	Recipient string
	Archived  bool
	Deleted   bool
	Notified  bool

	// Archive is set when Archived is true.
	Archive ArchiveLocation

	// AdminNotified is set when a failed delivery was copied to the admin address.
	AdminNotified bool

	Stage     Stage
	ErrorKind ErrorKind
	Error     error
}

// ArchiveLocation identifies an archived branch patch.
type ArchiveLocation struct {
	RepositoryURL string
	Branch        string
}

// Failed reports whether any step for the branch failed.
func (r ExpiredBranchResult) Failed() bool {
	return r.Error != nil
}

// Operation names the two invokable runs.
type Operation string

const (
	OperationNotify Operation = "notifyAboutGitExpiredBranches"
	OperationRemove Operation = "removeExpiredGitBranches"
)

// RunCounts aggregates per-branch outcomes.
type RunCounts struct {
	Total    int
	Expired  int
	Deleted  int
	Notified int
	Failed   int

	// Skipped counts expired branches left unprocessed by a canceled run.
	Skipped int
}

// RunReport is the terminal output of a run.
type RunReport struct {
	RunID      string
	Operation  Operation
	StartedAt  time.Time
	FinishedAt time.Time

	// Canceled is set when the run stopped before every branch was processed.
	Canceled bool

	Counts  RunCounts
	Results []ExpiredBranchResult
}

// FailedResults returns the results that recorded an error.
func (r *RunReport) FailedResults() []ExpiredBranchResult {
	var failed []ExpiredBranchResult
	for _, res := range r.Results {
		if res.Failed() && res.Stage != StageCanceled {
			failed = append(failed, res)
		}
	}
	return failed
}

// Tally recomputes Counts from Results. total is the number of enumerated branches.
func (r *RunReport) Tally(total int) {
	counts := RunCounts{Total: total, Expired: len(r.Results)}
	for _, res := range r.Results {
		if res.Deleted {
			counts.Deleted++
		}
		if res.Notified {
			counts.Notified++
		}
		switch {
		case res.Stage == StageCanceled:
			counts.Skipped++
		case res.Failed():
			counts.Failed++
		}
	}
	r.Counts = counts
}
