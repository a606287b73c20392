package usecases

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MyCarrier-DevOps/git-expired-branch/internal/domain"
)

// fakeTransport records messages and fails deliveries to the listed addresses.
type fakeTransport struct {
	mu     sync.Mutex
	sent   []domain.Message
	failTo map[string]error
}

func (f *fakeTransport) Send(_ context.Context, msg domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	for _, to := range msg.To {
		if err, ok := f.failTo[to]; ok {
			return err
		}
	}
	return nil
}

func (f *fakeTransport) messages() []domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Message(nil), f.sent...)
}

// mockLogger implements Logger and counts errors.
type mockLogger struct {
	mu       sync.Mutex
	infos    []string
	warnings []string
	errors   []string
}

func (m *mockLogger) Info(_ context.Context, msg string, _ map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}
func (m *mockLogger) Debug(_ context.Context, _ string, _ map[string]interface{}) {}
func (m *mockLogger) Warn(_ context.Context, msg string, _ map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnings = append(m.warnings, msg)
}
func (m *mockLogger) Error(_ context.Context, msg string, _ error, _ map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

func notificationConfig() domain.NotificationConfig {
	return domain.NotificationConfig{
		Mode:            domain.NotificationModePerCommitter,
		NotifierEmail:   "notifier@example.com",
		RemoverEmail:    "remover@example.com",
		RepositoryName:  "org/repo",
		NotifyAfterDays: 30,
		RemoveAfterDays: 45,
	}
}

func authoredBranch(name, email, author string, committed time.Time) domain.BranchInfo {
	return domain.BranchInfo{
		Name:                  "origin/" + name,
		Remote:                "origin",
		LastCommitTimestamp:   committed,
		LastCommitAuthorEmail: email,
		LastCommitAuthorName:  author,
		LastCommitMessage:     "work on " + name,
	}
}

func TestMailNotifier_PerCommitterGroupsByRecipient(t *testing.T) {
	transport := &fakeTransport{}
	n := NewMailNotifier(transport, NewCommitterResolver("bot@example.com"), notificationConfig(), &mockLogger{})

	base := time.Date(2024, 1, 10, 9, 30, 0, 0, time.UTC)
	branches := []domain.BranchInfo{
		authoredBranch("feature/a", "alice@example.com", "Alice", base.Add(48*time.Hour)),
		authoredBranch("feature/b", "bob@example.com", "Bob", base),
		authoredBranch("feature/c", "alice@example.com", "Alice", base),
	}

	deliveries := n.SendExpirationDigest(context.Background(), branches)

	require.Len(t, deliveries, 2)
	assert.Equal(t, "alice@example.com", deliveries[0].Recipient)
	assert.Equal(t, []string{"feature/a", "feature/c"}, deliveries[0].Branches)
	assert.Equal(t, "bob@example.com", deliveries[1].Recipient)
	assert.NoError(t, deliveries[0].Err)
	assert.NoError(t, deliveries[1].Err)

	sent := transport.messages()
	require.Len(t, sent, 2)
	alice := sent[0]
	assert.Equal(t, "notifier@example.com", alice.From)
	assert.Equal(t, []string{"alice@example.com"}, alice.To)
	assert.Equal(t, "Reminder about expired branches in org/repo", alice.Subject)
	assert.Contains(t, alice.Body, "Hello, Alice!")
	assert.Contains(t, alice.Body, "more than 30 days")
	assert.Contains(t, alice.Body, "Branches:")
	assert.Contains(t, alice.Body, "10.01.2024 09:30")
	assert.Less(t, strings.Index(alice.Body, "feature/c"), strings.Index(alice.Body, "feature/a"),
		"oldest branch first")
	assert.NotContains(t, alice.Body, "alice@example.com")
}

func TestMailNotifier_InvalidAuthorFallsBack(t *testing.T) {
	transport := &fakeTransport{}
	n := NewMailNotifier(transport, NewCommitterResolver("bot@example.com"), notificationConfig(), &mockLogger{})

	deliveries := n.SendExpirationDigest(context.Background(), []domain.BranchInfo{
		authoredBranch("feature/a", "not-an-email", "", time.Now()),
	})

	require.Len(t, deliveries, 1)
	assert.Equal(t, "bot@example.com", deliveries[0].Recipient)
	assert.Contains(t, transport.messages()[0].Body, "Hello, colleague!")
	assert.Contains(t, transport.messages()[0].Body, "Branch:\n")
}

func TestMailNotifier_DigestMode(t *testing.T) {
	transport := &fakeTransport{}
	cfg := notificationConfig()
	cfg.Mode = domain.NotificationModeDigest
	cfg.OperatorEmail = "ops@example.com"
	n := NewMailNotifier(transport, NewCommitterResolver("bot@example.com"), cfg, &mockLogger{})

	now := time.Now()
	deliveries := n.SendExpirationDigest(context.Background(), []domain.BranchInfo{
		authoredBranch("feature/a", "alice@example.com", "Alice", now),
		authoredBranch("feature/b", "bob@example.com", "Bob", now),
	})

	require.Len(t, deliveries, 1)
	assert.Equal(t, "ops@example.com", deliveries[0].Recipient)
	assert.Equal(t, []string{"feature/a", "feature/b"}, deliveries[0].Branches)

	sent := transport.messages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Body, "(alice@example.com)")
	assert.Contains(t, sent[0].Body, "(bob@example.com)")
}

func TestMailNotifier_NoBranchesSendsNothing(t *testing.T) {
	transport := &fakeTransport{}
	n := NewMailNotifier(transport, NewCommitterResolver("bot@example.com"), notificationConfig(), &mockLogger{})

	assert.Empty(t, n.SendExpirationDigest(context.Background(), nil))
	assert.Empty(t, transport.messages())
}

func TestMailNotifier_FailureIsolatedPerRecipient(t *testing.T) {
	transport := &fakeTransport{failTo: map[string]error{"bob@example.com": errors.New("550 mailbox unavailable")}}
	log := &mockLogger{}
	n := NewMailNotifier(transport, NewCommitterResolver("bot@example.com"), notificationConfig(), log)

	now := time.Now()
	deliveries := n.SendExpirationDigest(context.Background(), []domain.BranchInfo{
		authoredBranch("feature/a", "alice@example.com", "Alice", now),
		authoredBranch("feature/b", "bob@example.com", "Bob", now),
		authoredBranch("feature/c", "carol@example.com", "Carol", now),
	})

	require.Len(t, deliveries, 3)
	assert.NoError(t, deliveries[0].Err)
	require.Error(t, deliveries[1].Err)
	assert.ErrorIs(t, deliveries[1].Err, domain.ErrNotification)
	assert.False(t, deliveries[1].AdminNotified)
	assert.NoError(t, deliveries[2].Err)
	assert.Len(t, transport.messages(), 3, "no retry")
	assert.Len(t, log.errors, 1)
}

func TestMailNotifier_AdminCopyOnFailure(t *testing.T) {
	transport := &fakeTransport{failTo: map[string]error{"bob@example.com": errors.New("550 mailbox unavailable")}}
	cfg := notificationConfig()
	cfg.AdminEmail = "admin@example.com"
	n := NewMailNotifier(transport, NewCommitterResolver("bot@example.com"), cfg, &mockLogger{})

	deliveries := n.SendExpirationDigest(context.Background(), []domain.BranchInfo{
		authoredBranch("feature/b", "bob@example.com", "Bob", time.Now()),
	})

	require.Len(t, deliveries, 1)
	assert.Error(t, deliveries[0].Err)
	assert.True(t, deliveries[0].AdminNotified)

	sent := transport.messages()
	require.Len(t, sent, 2)
	assert.Equal(t, []string{"admin@example.com"}, sent[1].To)
	assert.Contains(t, sent[1].Body, "550 mailbox unavailable")
	assert.Equal(t, sent[0].Subject, sent[1].Subject)
}

func TestMailNotifier_AdminCopyFailureKeepsOriginalError(t *testing.T) {
	transport := &fakeTransport{failTo: map[string]error{
		"bob@example.com":   errors.New("550 mailbox unavailable"),
		"admin@example.com": errors.New("relay down"),
	}}
	cfg := notificationConfig()
	cfg.AdminEmail = "admin@example.com"
	log := &mockLogger{}
	n := NewMailNotifier(transport, NewCommitterResolver("bot@example.com"), cfg, log)

	d := n.SendDeletionNotice(context.Background(), authoredBranch("feature/b", "bob@example.com", "Bob", time.Now()), nil)

	require.Error(t, d.Err)
	assert.Contains(t, d.Err.Error(), "550")
	assert.False(t, d.AdminNotified)
	assert.Len(t, log.errors, 2)
}

func TestMailNotifier_EmptyRecipientIsNotificationError(t *testing.T) {
	transport := &fakeTransport{}
	n := NewMailNotifier(transport, NewCommitterResolver(""), notificationConfig(), &mockLogger{})

	d := n.SendDeletionNotice(context.Background(), authoredBranch("feature/a", "", "", time.Now()), nil)

	require.Error(t, d.Err)
	assert.ErrorIs(t, d.Err, domain.ErrNotification)
	assert.Empty(t, transport.messages())
}

func TestMailNotifier_SendDeletionNotice(t *testing.T) {
	transport := &fakeTransport{}
	n := NewMailNotifier(transport, NewCommitterResolver("bot@example.com"), notificationConfig(), &mockLogger{})

	committed := time.Date(2023, 11, 5, 16, 45, 0, 0, time.UTC)
	d := n.SendDeletionNotice(context.Background(), authoredBranch("feature/old", "dev@example.com", "Dev", committed), nil)

	require.NoError(t, d.Err)
	assert.Equal(t, "dev@example.com", d.Recipient)
	assert.Equal(t, []string{"feature/old"}, d.Branches)

	sent := transport.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "remover@example.com", sent[0].From)
	assert.Equal(t, "Expired branches deleted in org/repo", sent[0].Subject)
	assert.Contains(t, sent[0].Body, "more than 45 days")
	assert.Contains(t, sent[0].Body, "feature/old")
	assert.Contains(t, sent[0].Body, "05.11.2023 16:45")
	assert.Contains(t, sent[0].Body, "work on feature/old")
	assert.NotContains(t, sent[0].Body, "archived")
}

func TestMailNotifier_SendDeletionNoticeNamesArchive(t *testing.T) {
	transport := &fakeTransport{}
	n := NewMailNotifier(transport, NewCommitterResolver("bot@example.com"), notificationConfig(), &mockLogger{})

	archive := &domain.ArchiveLocation{
		RepositoryURL: "git@git.example.com:org/archive.git",
		Branch:        "org_repo_feature/old-20240601120000",
	}
	d := n.SendDeletionNotice(context.Background(),
		authoredBranch("feature/old", "dev@example.com", "Dev", time.Now()), archive)

	require.NoError(t, d.Err)
	sent := transport.messages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Body, "git@git.example.com:org/archive.git")
	assert.Contains(t, sent[0].Body, "branch org_repo_feature/old-20240601120000")
}

func TestMailNotifier_StopsWhenContextDone(t *testing.T) {
	transport := &fakeTransport{}
	n := NewMailNotifier(transport, NewCommitterResolver("bot@example.com"), notificationConfig(), &mockLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	deliveries := n.SendExpirationDigest(ctx, []domain.BranchInfo{
		authoredBranch("feature/a", "alice@example.com", "Alice", time.Now()),
	})

	assert.Empty(t, deliveries)
	assert.Empty(t, transport.messages())
}

func TestNewMailNotifier_DefaultsToPerCommitter(t *testing.T) {
	cfg := notificationConfig()
	cfg.Mode = ""
	n := NewMailNotifier(&fakeTransport{}, NewCommitterResolver("bot@example.com"), cfg, &mockLogger{})

	assert.Equal(t, domain.NotificationModePerCommitter, n.cfg.Mode)
}
