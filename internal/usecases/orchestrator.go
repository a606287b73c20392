// Package usecases contains the application business logic.
// This package orchestrates domain entities and interfaces to fulfill use cases.
package usecases

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MyCarrier-DevOps/git-expired-branch/internal/domain"
)

// Logger defines the logging interface required by the use cases.
// This abstracts the logger dependency to avoid coupling to a specific implementation.
type Logger interface {
	Info(ctx context.Context, msg string, fields map[string]interface{})
	Debug(ctx context.Context, msg string, fields map[string]interface{})
	Warn(ctx context.Context, msg string, fields map[string]interface{})
	Error(ctx context.Context, msg string, err error, fields map[string]interface{})
}

// OrchestratorOptions tunes a run.
type OrchestratorOptions struct {
	// Expiration is the policy used by the notify run.
	Expiration domain.ExpirationConfig

	// DeleteAfterDays overrides Expiration.MaxAgeDays for the remove run when positive.
	DeleteAfterDays int

	// Concurrency bounds the number of branches processed at once. Values below 1
	// mean sequential processing.
	Concurrency int

	// Now returns the reference time. Defaults to time.Now.
	Now func() time.Time

	// NewRunID returns the report identifier. Defaults to a random UUID.
	NewRunID func() string
}

// ExpiredBranchOrchestrator runs the notify-only and notify-and-delete pipelines.
type ExpiredBranchOrchestrator struct {
	gateway  domain.RepositoryGateway
	notifier domain.Notifier
	resolver domain.RecipientResolver
	archiver domain.BranchArchiver
	logger   Logger
	opts     OrchestratorOptions
}

// NewExpiredBranchOrchestrator creates an orchestrator. archiver may be nil, in
// which case branches are deleted without being archived.
func NewExpiredBranchOrchestrator(
	gateway domain.RepositoryGateway,
	notifier domain.Notifier,
	resolver domain.RecipientResolver,
	archiver domain.BranchArchiver,
	log Logger,
	opts OrchestratorOptions,
) *ExpiredBranchOrchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewRunID == nil {
		opts.NewRunID = func() string { return uuid.NewString() }
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &ExpiredBranchOrchestrator{
		gateway:  gateway,
		notifier: notifier,
		resolver: resolver,
		archiver: archiver,
		logger:   log,
		opts:     opts,
	}
}

// Run dispatches to the pipeline named by op.
func (o *ExpiredBranchOrchestrator) Run(ctx context.Context, op domain.Operation) (*domain.RunReport, error) {
	switch op {
	case domain.OperationNotify:
		return o.NotifyExpired(ctx)
	case domain.OperationRemove:
		return o.RemoveExpired(ctx)
	default:
		return nil, fmt.Errorf("%w: unknown operation %q", domain.ErrConfiguration, op)
	}
}

// DeletePolicy returns the policy applied by the remove run.
func (o *ExpiredBranchOrchestrator) DeletePolicy() domain.ExpirationConfig {
	policy := o.opts.Expiration
	if o.opts.DeleteAfterDays > 0 {
		policy.MaxAgeDays = o.opts.DeleteAfterDays
	}
	return policy
}

// NotifyExpired enumerates and classifies branches, then sends expiration notices.
// Only an enumeration failure returns an error without a report.
func (o *ExpiredBranchOrchestrator) NotifyExpired(ctx context.Context) (*domain.RunReport, error) {
	report := o.newReport(domain.OperationNotify)

	branches, expired, err := o.collect(ctx, o.opts.Expiration)
	if err != nil {
		return nil, err
	}

	report.Results = o.newResults(expired)
	o.logger.Info(ctx, "Notifying about git expired branches", map[string]interface{}{
		"expired": len(expired),
	})

	deliveries := o.notifier.SendExpirationDigest(ctx, expired)
	byBranch := make(map[string]domain.Delivery, len(expired))
	for _, d := range deliveries {
		for _, name := range d.Branches {
			byBranch[name] = d
		}
	}

	for i := range report.Results {
		res := &report.Results[i]
		d, ok := byBranch[res.Branch.ShortName()]
		if !ok {
			if ctx.Err() != nil {
				markCanceled(ctx, res)
			} else {
				recordFailure(res, domain.StageNotify,
					fmt.Errorf("%w: no message was attempted for branch", domain.ErrNotification))
			}
			continue
		}
		res.Recipient = d.Recipient
		applyDelivery(res, d)
	}

	return o.finish(ctx, report, len(branches))
}

// RemoveExpired deletes every expired branch independently, then sends a deletion
// notice for each branch that was actually deleted.
func (o *ExpiredBranchOrchestrator) RemoveExpired(ctx context.Context) (*domain.RunReport, error) {
	report := o.newReport(domain.OperationRemove)

	branches, expired, err := o.collect(ctx, o.DeletePolicy())
	if err != nil {
		return nil, err
	}

	report.Results = o.newResults(expired)
	o.logger.Info(ctx, "Deleting branches", map[string]interface{}{
		"expired": len(expired),
	})
	o.forEach(ctx, report.Results, pending, o.deleteOne)

	o.logger.Info(ctx, "Notifying commiters about deletion", map[string]interface{}{
		"deleted": countDeleted(report.Results),
	})
	o.forEach(ctx, report.Results, deleted, o.noticeOne)

	return o.finish(ctx, report, len(branches))
}

// collect runs the Enumerating and Classifying states.
func (o *ExpiredBranchOrchestrator) collect(
	ctx context.Context,
	policy domain.ExpirationConfig,
) ([]domain.BranchInfo, []domain.BranchInfo, error) {
	o.logger.Info(ctx, "Collecting branches", nil)
	branches, err := o.gateway.ListRemoteBranches(ctx)
	if err != nil {
		o.logger.Error(ctx, "failed to enumerate remote branches", err, nil)
		return nil, nil, fmt.Errorf("enumerating branches: %w", err)
	}

	expired := Classify(branches, policy, o.opts.Now())
	o.logger.Info(ctx, "Found expired branches", map[string]interface{}{
		"total":        len(branches),
		"expired":      len(expired),
		"max_age_days": policy.MaxAgeDays,
		"branches":     shortNames(expired),
	})
	return branches, expired, nil
}

func (o *ExpiredBranchOrchestrator) newReport(op domain.Operation) *domain.RunReport {
	return &domain.RunReport{
		RunID:     o.opts.NewRunID(),
		Operation: op,
		StartedAt: o.opts.Now(),
	}
}

func (o *ExpiredBranchOrchestrator) newResults(expired []domain.BranchInfo) []domain.ExpiredBranchResult {
	results := make([]domain.ExpiredBranchResult, len(expired))
	for i, b := range expired {
		results[i] = domain.ExpiredBranchResult{
			Branch:    b,
			Recipient: o.resolver.Resolve(b),
		}
	}
	return results
}

// forEach applies fn to every result selected by want, with at most Concurrency
// workers. Each worker writes only to its own slot, so the slice needs no
// locking. Once ctx is done, the remaining selected slots are marked canceled
// instead of being processed.
func (o *ExpiredBranchOrchestrator) forEach(
	ctx context.Context,
	results []domain.ExpiredBranchResult,
	want func(*domain.ExpiredBranchResult) bool,
	fn func(context.Context, *domain.ExpiredBranchResult),
) {
	var g errgroup.Group
	g.SetLimit(o.opts.Concurrency)
	for i := range results {
		res := &results[i]
		if !want(res) {
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				markCanceled(ctx, res)
				return nil
			}
			fn(ctx, res)
			return nil
		})
	}
	_ = g.Wait()
}

func pending(res *domain.ExpiredBranchResult) bool {
	return res.Stage == ""
}

func deleted(res *domain.ExpiredBranchResult) bool {
	return res.Deleted && res.Stage == ""
}

func (o *ExpiredBranchOrchestrator) deleteOne(ctx context.Context, res *domain.ExpiredBranchResult) {
	name := res.Branch.ShortName()

	if o.archiver != nil {
		loc, err := o.archiver.ArchiveBranch(ctx, res.Branch)
		if err != nil {
			o.logger.Error(ctx, "failed to archive branch; skipping deletion", err, map[string]interface{}{
				"branch": name,
			})
			recordFailure(res, domain.StageArchive, err)
			return
		}
		res.Archived = true
		res.Archive = loc
	}

	if err := o.gateway.DeleteBranch(ctx, name); err != nil {
		o.logger.Error(ctx, "failed to delete branch", err, map[string]interface{}{
			"branch": name,
		})
		recordFailure(res, domain.StageDelete, err)
		return
	}
	res.Deleted = true
	o.logger.Info(ctx, "branch deleted", map[string]interface{}{
		"branch": name,
	})
}

func (o *ExpiredBranchOrchestrator) noticeOne(ctx context.Context, res *domain.ExpiredBranchResult) {
	var archive *domain.ArchiveLocation
	if res.Archived {
		archive = &res.Archive
	}
	d := o.notifier.SendDeletionNotice(ctx, res.Branch, archive)
	res.Recipient = d.Recipient
	applyDelivery(res, d)
}

func (o *ExpiredBranchOrchestrator) finish(
	ctx context.Context,
	report *domain.RunReport,
	total int,
) (*domain.RunReport, error) {
	report.FinishedAt = o.opts.Now()
	report.Tally(total)

	fields := map[string]interface{}{
		"run_id":   report.RunID,
		"total":    report.Counts.Total,
		"expired":  report.Counts.Expired,
		"deleted":  report.Counts.Deleted,
		"notified": report.Counts.Notified,
		"failed":   report.Counts.Failed,
	}

	if err := ctx.Err(); err != nil {
		report.Canceled = true
		fields["skipped"] = report.Counts.Skipped
		o.logger.Warn(ctx, "run canceled before all branches were processed", fields)
		return report, fmt.Errorf("run canceled: %w", err)
	}

	for _, res := range report.FailedResults() {
		o.logger.Warn(ctx, "branch processing failed", map[string]interface{}{
			"branch":     res.Branch.ShortName(),
			"stage":      string(res.Stage),
			"error_kind": string(res.ErrorKind),
			"error":      res.Error.Error(),
		})
	}
	o.logger.Info(ctx, "run complete", fields)
	return report, nil
}

func applyDelivery(res *domain.ExpiredBranchResult, d domain.Delivery) {
	res.AdminNotified = d.AdminNotified
	if d.Err != nil {
		recordFailure(res, domain.StageNotify, d.Err)
		return
	}
	res.Notified = true
}

func recordFailure(res *domain.ExpiredBranchResult, stage domain.Stage, err error) {
	res.Stage = stage
	res.Error = err
	res.ErrorKind = domain.KindOf(err)
}

func markCanceled(ctx context.Context, res *domain.ExpiredBranchResult) {
	err := ctx.Err()
	if err == nil {
		err = context.Canceled
	}
	res.Stage = domain.StageCanceled
	res.Error = err
	res.ErrorKind = domain.ErrorKindCanceled
}

func countDeleted(results []domain.ExpiredBranchResult) int {
	n := 0
	for _, r := range results {
		if r.Deleted {
			n++
		}
	}
	return n
}
