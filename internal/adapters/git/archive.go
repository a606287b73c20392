package git

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/MyCarrier-DevOps/git-expired-branch/internal/domain"
)

const archiveRemoteName = "archive"

// GoGitArchiver implements domain.BranchArchiver. It commits the diff between the
// base branch and the expired branch into an in-memory repository and pushes it
// as a new branch of the archive remote, so the work can be restored after the
// branch is deleted.
type GoGitArchiver struct {
	source *GoGitRepository
	cfg    domain.ArchiveConfig
	now    func() time.Time
}

// NewGoGitArchiver creates an archiver reading branches from source.
func NewGoGitArchiver(source *GoGitRepository, cfg domain.ArchiveConfig) *GoGitArchiver {
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = domain.DefaultBaseBranch
	}
	return &GoGitArchiver{source: source, cfg: cfg, now: time.Now}
}

// ArchiveBranch pushes <base..branch>.diff to
// "<repository>_<branch>-<timestamp>" on the archive remote and returns that location.
func (a *GoGitArchiver) ArchiveBranch(ctx context.Context, branch domain.BranchInfo) (domain.ArchiveLocation, error) {
	short := branch.ShortName()

	diff, fileName, err := a.branchDiff(ctx, branch)
	if err != nil {
		return domain.ArchiveLocation{}, err
	}

	now := a.now()
	target := fmt.Sprintf("%s_%s-%s",
		strings.ReplaceAll(a.source.RepositoryName(ctx), "/", "_"),
		short,
		now.UTC().Format("20060102150405"),
	)

	fs := memfs.New()
	archive, err := git.Init(memory.NewStorage(), fs)
	if err != nil {
		return domain.ArchiveLocation{}, fmt.Errorf("%w: init archive repository: %w", domain.ErrRepositoryState, err)
	}

	f, err := fs.Create(fileName)
	if err != nil {
		return domain.ArchiveLocation{}, fmt.Errorf("%w: create %s: %w", domain.ErrRepositoryState, fileName, err)
	}
	if _, err := f.Write([]byte(diff)); err != nil {
		_ = f.Close()
		return domain.ArchiveLocation{}, fmt.Errorf("%w: write %s: %w", domain.ErrRepositoryState, fileName, err)
	}
	if err := f.Close(); err != nil {
		return domain.ArchiveLocation{}, fmt.Errorf("%w: close %s: %w", domain.ErrRepositoryState, fileName, err)
	}

	wt, err := archive.Worktree()
	if err != nil {
		return domain.ArchiveLocation{}, fmt.Errorf("%w: archive worktree: %w", domain.ErrRepositoryState, err)
	}
	if _, err := wt.Add(fileName); err != nil {
		return domain.ArchiveLocation{}, fmt.Errorf("%w: stage %s: %w", domain.ErrRepositoryState, fileName, err)
	}

	sig := &object.Signature{Name: a.source.cfg.Username, Email: a.source.cfg.Email, When: now}
	if _, err := wt.Commit("archive expired branch "+short, &git.CommitOptions{Author: sig, Committer: sig}); err != nil {
		return domain.ArchiveLocation{}, fmt.Errorf("%w: commit archive: %w", domain.ErrRepositoryState, err)
	}
	head, err := archive.Head()
	if err != nil {
		return domain.ArchiveLocation{}, fmt.Errorf("%w: archive head: %w", domain.ErrRepositoryState, err)
	}

	if _, err := archive.CreateRemote(&config.RemoteConfig{
		Name: archiveRemoteName,
		URLs: []string{a.cfg.RepositoryURL},
	}); err != nil {
		return domain.ArchiveLocation{}, fmt.Errorf("%w: archive remote: %w", domain.ErrRepositoryState, err)
	}

	auth, err := resolveAuth(a.source.cfg, sshUserFromURL(a.cfg.RepositoryURL))
	if err != nil {
		return domain.ArchiveLocation{}, err
	}

	refSpec := config.RefSpec(head.Name().String() + ":" + plumbing.NewBranchReferenceName(target).String())
	err = archive.PushContext(ctx, &git.PushOptions{
		RemoteName: archiveRemoteName,
		RefSpecs:   []config.RefSpec{refSpec},
		Auth:       auth,
	})
	if err != nil {
		return domain.ArchiveLocation{}, fmt.Errorf("%w: push archive %s: %w", a.source.transportErrorKind(err), target, err)
	}

	a.source.logger.Info(ctx, "branch archived", map[string]interface{}{
		"branch":  short,
		"archive": target,
		"file":    fileName,
	})
	return domain.ArchiveLocation{RepositoryURL: a.cfg.RepositoryURL, Branch: target}, nil
}

// branchDiff returns the patch from the base branch tip to the branch tip and the
// file name to store it under: the merge-base hash when one exists, otherwise
// the branch name with slashes replaced.
func (a *GoGitArchiver) branchDiff(ctx context.Context, branch domain.BranchInfo) (string, string, error) {
	repo := a.source.repo
	remoteName := a.source.cfg.Remote()

	tip, err := repo.CommitObject(plumbing.NewHash(branch.LastCommitHash))
	if err != nil {
		return "", "", fmt.Errorf("%w: tip of %s: %w", domain.ErrRepositoryState, branch.Name, err)
	}

	baseRef, err := repo.Reference(plumbing.NewRemoteReferenceName(remoteName, a.cfg.BaseBranch), true)
	if err != nil {
		return "", "", fmt.Errorf("%w: base branch %s/%s: %w", domain.ErrRepositoryState, remoteName, a.cfg.BaseBranch, err)
	}
	base, err := repo.CommitObject(baseRef.Hash())
	if err != nil {
		return "", "", fmt.Errorf("%w: base commit: %w", domain.ErrRepositoryState, err)
	}

	patch, err := base.PatchContext(ctx, tip)
	if err != nil {
		return "", "", fmt.Errorf("%w: diff %s: %w", domain.ErrRepositoryState, branch.Name, err)
	}

	fileName := strings.ReplaceAll(branch.ShortName(), "/", "_") + ".diff"
	if bases, err := tip.MergeBase(base); err == nil && len(bases) > 0 {
		fileName = bases[0].Hash.String() + ".diff"
	}
	return patch.String(), fileName, nil
}
