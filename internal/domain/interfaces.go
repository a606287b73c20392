package domain

import "context"

// RepositoryGateway wraps a local clone and its remote.
type RepositoryGateway interface {
	// ListRemoteBranches enumerates remote-tracking branches with their tip commit.
	// Returns ErrRepositoryAccess when a fetch fails and ErrRepositoryState when
	// the local refs cannot be read.
	ListRemoteBranches(ctx context.Context) ([]BranchInfo, error)

	// DeleteBranch push-deletes the named branch on the remote. name is the
	// remote's own branch name (BranchInfo.ShortName) and is not stripped again.
	// Deleting a branch that is already absent succeeds.
	DeleteBranch(ctx context.Context, name string) error

	// RepositoryName returns a display name derived from the remote URL.
	RepositoryName(ctx context.Context) string

	// Close releases any resources held by the gateway.
	Close() error
}

// BranchArchiver saves the content of a branch somewhere recoverable before it
// is deleted.
type BranchArchiver interface {
	// ArchiveBranch returns where the branch content was stored.
	ArchiveBranch(ctx context.Context, branch BranchInfo) (ArchiveLocation, error)
}

// Message is a plain-text email.
type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// MailTransport delivers a single message. Implementations perform exactly one
// attempt per call.
type MailTransport interface {
	Send(ctx context.Context, msg Message) error
}

// Delivery is the outcome of one attempted message.
type Delivery struct {
	Recipient string

	// Branches are the short names the message covered.
	Branches []string

	// AdminNotified is set when the failed message was copied to the admin.
	AdminNotified bool

	Err error
}

// Notifier composes and sends expiration and deletion messages.
type Notifier interface {
	// SendExpirationDigest notifies about expired branches. One delivery is
	// returned per attempted message.
	SendExpirationDigest(ctx context.Context, branches []BranchInfo) []Delivery

	// SendDeletionNotice notifies the branch's committer that it was deleted.
	// archive is nil when the branch was not archived.
	SendDeletionNotice(ctx context.Context, branch BranchInfo, archive *ArchiveLocation) Delivery
}

// RecipientResolver maps a branch to the address responsible for it.
type RecipientResolver interface {
	Resolve(branch BranchInfo) string
}

// ReportWriter renders a finished run.
type ReportWriter interface {
	WriteReport(report *RunReport) error
}
