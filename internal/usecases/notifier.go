package usecases

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/MyCarrier-DevOps/git-expired-branch/internal/domain"
)

// lastCommitLayout formats commit dates in message bodies.
const lastCommitLayout = "02.01.2006 15:04"

// MailNotifier composes expiration and deletion messages and hands them to a
// MailTransport. Each message is sent once; failures are reported, not retried.
type MailNotifier struct {
	transport domain.MailTransport
	resolver  domain.RecipientResolver
	cfg       domain.NotificationConfig
	logger    Logger
}

// NewMailNotifier creates a MailNotifier.
func NewMailNotifier(
	transport domain.MailTransport,
	resolver domain.RecipientResolver,
	cfg domain.NotificationConfig,
	log Logger,
) *MailNotifier {
	if cfg.Mode == "" {
		cfg.Mode = domain.NotificationModePerCommitter
	}
	return &MailNotifier{
		transport: transport,
		resolver:  resolver,
		cfg:       cfg,
		logger:    log,
	}
}

// SendExpirationDigest sends one message per committer, or a single digest to the
// operator address in digest mode.
func (n *MailNotifier) SendExpirationDigest(ctx context.Context, branches []domain.BranchInfo) []domain.Delivery {
	if len(branches) == 0 {
		return nil
	}

	if n.cfg.Mode == domain.NotificationModeDigest {
		msg := n.expirationMessage(n.cfg.OperatorEmail, "", branches)
		return []domain.Delivery{n.deliver(ctx, msg, branches)}
	}

	groups, order := n.groupByRecipient(branches)
	deliveries := make([]domain.Delivery, 0, len(order))
	for _, recipient := range order {
		if err := ctx.Err(); err != nil {
			break
		}
		group := groups[recipient]
		msg := n.expirationMessage(recipient, group[0].LastCommitAuthorName, group)
		deliveries = append(deliveries, n.deliver(ctx, msg, group))
	}
	return deliveries
}

// SendDeletionNotice tells the branch's committer the branch was removed.
// When archive is set the message says where the branch patch was stored.
func (n *MailNotifier) SendDeletionNotice(
	ctx context.Context,
	branch domain.BranchInfo,
	archive *domain.ArchiveLocation,
) domain.Delivery {
	recipient := n.resolver.Resolve(branch)

	var body strings.Builder
	fmt.Fprintf(&body, "Hello, %s!\n\n", displayName(branch.LastCommitAuthorName))
	fmt.Fprintf(&body, "Repository %s had no commits in the following branch for more than %d days, so it was deleted.\n",
		n.cfg.RepositoryName, n.cfg.RemoveAfterDays)
	fmt.Fprintf(&body, "Branch:\n\t* %s\n\t  last commit: %s, %s\n",
		branch.ShortName(), branch.LastCommitTimestamp.Format(lastCommitLayout), branch.LastCommitMessage)
	if archive != nil {
		fmt.Fprintf(&body, "\nThe branch patch was archived to %s in branch %s.\n", archive.RepositoryURL, archive.Branch)
	}

	msg := domain.Message{
		From:    n.cfg.RemoverEmail,
		To:      []string{recipient},
		Subject: "Expired branches deleted in " + n.cfg.RepositoryName,
		Body:    body.String(),
	}
	return n.deliver(ctx, msg, []domain.BranchInfo{branch})
}

func (n *MailNotifier) groupByRecipient(branches []domain.BranchInfo) (map[string][]domain.BranchInfo, []string) {
	groups := make(map[string][]domain.BranchInfo)
	var order []string
	for _, b := range branches {
		recipient := n.resolver.Resolve(b)
		if _, seen := groups[recipient]; !seen {
			order = append(order, recipient)
		}
		groups[recipient] = append(groups[recipient], b)
	}
	return groups, order
}

func (n *MailNotifier) expirationMessage(recipient, name string, branches []domain.BranchInfo) domain.Message {
	sorted := make([]domain.BranchInfo, len(branches))
	copy(sorted, branches)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].LastCommitTimestamp.Before(sorted[j].LastCommitTimestamp)
	})

	var body strings.Builder
	fmt.Fprintf(&body, "Hello, %s!\n\n", displayName(name))
	fmt.Fprintf(&body, "Repository %s has branches without commits for more than %d days.\n",
		n.cfg.RepositoryName, n.cfg.NotifyAfterDays)
	body.WriteString("Please update (merge, rebase) or delete them.\n")
	if len(sorted) > 1 {
		body.WriteString("Branches:\n")
	} else {
		body.WriteString("Branch:\n")
	}
	for _, b := range sorted {
		fmt.Fprintf(&body, "\t* %s\n\t  last commit: %s, %s", b.ShortName(),
			b.LastCommitTimestamp.Format(lastCommitLayout), b.LastCommitMessage)
		if n.cfg.Mode == domain.NotificationModeDigest && b.LastCommitAuthorEmail != "" {
			fmt.Fprintf(&body, " (%s)", b.LastCommitAuthorEmail)
		}
		body.WriteByte('\n')
	}

	return domain.Message{
		From:    n.cfg.NotifierEmail,
		To:      []string{recipient},
		Subject: "Reminder about expired branches in " + n.cfg.RepositoryName,
		Body:    body.String(),
	}
}

// deliver sends msg once. On failure a copy carrying the error is sent to the
// admin address, if one is configured.
func (n *MailNotifier) deliver(ctx context.Context, msg domain.Message, branches []domain.BranchInfo) domain.Delivery {
	delivery := domain.Delivery{
		Recipient: strings.Join(msg.To, ","),
		Branches:  shortNames(branches),
	}

	err := n.send(ctx, msg)
	if err == nil {
		n.logger.Debug(ctx, "notification sent", map[string]interface{}{
			"recipient": delivery.Recipient,
			"branches":  delivery.Branches,
		})
		return delivery
	}

	delivery.Err = err
	n.logger.Error(ctx, "failed to send notification", err, map[string]interface{}{
		"recipient": delivery.Recipient,
		"branches":  delivery.Branches,
	})

	if n.cfg.AdminEmail == "" || ctx.Err() != nil {
		return delivery
	}
	adminMsg := msg
	adminMsg.To = []string{n.cfg.AdminEmail}
	adminMsg.Body = msg.Body + "\n" + err.Error()
	if adminErr := n.send(ctx, adminMsg); adminErr != nil {
		n.logger.Error(ctx, "failed to send notification to admin", adminErr, map[string]interface{}{
			"admin": n.cfg.AdminEmail,
		})
		return delivery
	}
	delivery.AdminNotified = true
	return delivery
}

func (n *MailNotifier) send(ctx context.Context, msg domain.Message) error {
	if len(msg.To) == 0 || strings.TrimSpace(msg.To[0]) == "" {
		return fmt.Errorf("%w: no recipient address", domain.ErrNotification)
	}
	err := n.transport.Send(ctx, msg)
	if err != nil && !errors.Is(err, domain.ErrNotification) {
		return fmt.Errorf("%w: %w", domain.ErrNotification, err)
	}
	return err
}

func shortNames(branches []domain.BranchInfo) []string {
	names := make([]string, len(branches))
	for i, b := range branches {
		names[i] = b.ShortName()
	}
	return names
}

func displayName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "colleague"
	}
	return name
}
