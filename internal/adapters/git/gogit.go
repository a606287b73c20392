// Package git provides adapters for interacting with local Git repositories and their remotes.
// This package implements domain.RepositoryGateway and domain.BranchArchiver using go-git/v5.
package git

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/MyCarrier-DevOps/git-expired-branch/internal/domain"
)

// Logger defines the logging interface for the git adapter.
// This interface enables dependency injection and testability.
type Logger interface {
	Info(ctx context.Context, msg string, fields map[string]interface{})
	Debug(ctx context.Context, msg string, fields map[string]interface{})
	Warn(ctx context.Context, msg string, fields map[string]interface{})
}

// GoGitRepository implements domain.RepositoryGateway using go-git/v5.
type GoGitRepository struct {
	repo   *git.Repository
	cfg    domain.GitAccessConfig
	logger Logger

	// pushMu serializes pushes; a go-git repository is not safe for concurrent
	// writes to its reference storage.
	pushMu sync.Mutex
}

// NewGoGitRepository opens the repository at cfg.RepoDir. Parent directories are
// searched for a .git directory.
// Returns domain.ErrRepositoryState if the path is not a valid Git repository.
func NewGoGitRepository(cfg domain.GitAccessConfig, log Logger) (*GoGitRepository, error) {
	repoDir := cfg.RepoDir
	if repoDir == "" {
		repoDir = "."
	}

	repo, err := git.PlainOpenWithOptions(repoDir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("%w: cannot open repository at %s: %w", domain.ErrRepositoryState, repoDir, err)
	}

	cfg.RepoDir = repoDir
	return &GoGitRepository{
		repo:   repo,
		cfg:    cfg,
		logger: log,
	}, nil
}

// ListRemoteBranches returns the remote-tracking branches of the configured remote,
// sorted by name. When Fetch is enabled the refs are refreshed first; a fetch
// whose credentials are rejected falls back to the local refs so enumeration
// never depends on the deletion credentials.
func (r *GoGitRepository) ListRemoteBranches(ctx context.Context) ([]domain.BranchInfo, error) {
	remoteName := r.cfg.Remote()
	if _, err := r.repo.Remote(remoteName); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrNoRemote, remoteName, err)
	}

	if r.cfg.Fetch {
		if err := r.fetch(ctx, remoteName); err != nil {
			if !errors.Is(err, domain.ErrAuthentication) {
				return nil, err
			}
			r.logger.Warn(ctx, "fetch failed authentication; using local remote-tracking refs", map[string]interface{}{
				"remote": remoteName,
				"error":  err.Error(),
			})
		}
	}

	refs, err := r.repo.References()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read references: %w", domain.ErrRepositoryState, err)
	}
	defer refs.Close()

	prefix := remoteName + "/"
	var branches []domain.BranchInfo
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ref.Type() != plumbing.HashReference || !ref.Name().IsRemote() {
			return nil
		}

		name := strings.TrimPrefix(ref.Name().String(), "refs/remotes/")
		if !strings.HasPrefix(name, prefix) || name == prefix+"HEAD" {
			return nil
		}

		commit, err := r.repo.CommitObject(ref.Hash())
		if err != nil {
			return fmt.Errorf("%w: cannot resolve tip of %s: %w", domain.ErrRepositoryState, name, err)
		}

		branches = append(branches, domain.BranchInfo{
			Name:                  name,
			Remote:                remoteName,
			LastCommitHash:        commit.Hash.String(),
			LastCommitTimestamp:   commit.Committer.When,
			LastCommitAuthorEmail: commit.Author.Email,
			LastCommitAuthorName:  commit.Author.Name,
			LastCommitMessage:     firstLine(commit.Message),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(branches, func(i, j int) bool { return branches[i].Name < branches[j].Name })

	r.logger.Debug(ctx, "listed remote branches", map[string]interface{}{
		"remote":   remoteName,
		"branches": len(branches),
		"path":     r.cfg.RepoDir,
	})
	return branches, nil
}

func (r *GoGitRepository) fetch(ctx context.Context, remoteName string) error {
	auth, err := r.authMethod()
	if err != nil {
		return err
	}

	err = r.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: remoteName,
		Auth:       auth,
		Prune:      true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("%w: fetch from %s: %w", r.transportErrorKind(err), remoteName, err)
	}
	return nil
}

// DeleteBranch removes refs/heads/<name> on the remote, the equivalent of
// `git push origin :name`. name is the branch name as it exists on the remote
// (BranchInfo.ShortName) and is used verbatim. A branch that is already gone
// is not an error.
func (r *GoGitRepository) DeleteBranch(ctx context.Context, name string) error {
	remoteName := r.cfg.Remote()

	auth, err := r.authMethod()
	if err != nil {
		return err
	}

	refSpec := config.RefSpec(":" + plumbing.NewBranchReferenceName(name).String())

	r.pushMu.Lock()
	defer r.pushMu.Unlock()

	err = r.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: remoteName,
		RefSpecs:   []config.RefSpec{refSpec},
		Auth:       auth,
	})
	switch {
	case err == nil:
	case errors.Is(err, git.NoErrAlreadyUpToDate):
		r.logger.Debug(ctx, "branch already absent on remote", map[string]interface{}{
			"branch": name,
			"remote": remoteName,
		})
	default:
		return fmt.Errorf("%w: deleting %s on %s: %w", r.transportErrorKind(err), name, remoteName, err)
	}

	tracking := plumbing.NewRemoteReferenceName(remoteName, name)
	if err := r.repo.Storer.RemoveReference(tracking); err != nil {
		r.logger.Warn(ctx, "failed to remove remote-tracking ref", map[string]interface{}{
			"ref":   tracking.String(),
			"error": err.Error(),
		})
	}
	return nil
}

// RepositoryName returns owner/repo parsed from the remote URL, or the last path
// element for URLs that do not carry an owner.
func (r *GoGitRepository) RepositoryName(_ context.Context) string {
	url := r.remoteURL()
	if url == "" {
		return path.Base(r.cfg.RepoDir)
	}
	name, err := parseRepoFromURL(url)
	if err != nil {
		return strings.TrimSuffix(path.Base(strings.TrimRight(url, "/")), ".git")
	}
	return name
}

// Close releases any resources held by the repository.
// For go-git, this is a no-op as the repository doesn't hold persistent resources.
func (r *GoGitRepository) Close() error {
	return nil
}

func (r *GoGitRepository) remoteURL() string {
	remote, err := r.repo.Remote(r.cfg.Remote())
	if err != nil {
		return ""
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return ""
	}
	return urls[0]
}

func (r *GoGitRepository) authMethod() (transport.AuthMethod, error) {
	return resolveAuth(r.cfg, sshUserFromURL(r.remoteURL()))
}

// transportErrorKind maps a transport failure to ErrAuthentication when the
// remote rejected credentials we were explicitly given, ErrRepositoryAccess otherwise.
func (r *GoGitRepository) transportErrorKind(err error) error {
	if isAuthFailure(err) && hasExplicitCredentials(r.cfg) {
		return domain.ErrAuthentication
	}
	return domain.ErrRepositoryAccess
}

func firstLine(msg string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(msg), "\n")
	return strings.TrimSpace(line)
}

// Regular expressions for parsing Git remote URLs.
var (
	// httpsURLPattern matches HTTPS URLs like:
	// https://github.com/owner/repo.git
	// https://github.com/owner/repo
	httpsURLPattern = regexp.MustCompile(`^https?://[^/]+/(?:.+/)?([^/]+)/([^/]+?)(?:\.git)?/?$`)

	// sshURLPattern matches scp-like SSH URLs like:
	// git@github.com:owner/repo.git
	// git@github.com:owner/repo
	sshURLPattern = regexp.MustCompile(`^[^@/]+@[^:]+:(?:.+/)?([^/]+)/([^/]+?)(?:\.git)?$`)

	// sshSchemeURLPattern matches ssh:// URLs like:
	// ssh://git@bitbucket.example.com/project/repo.git
	// ssh://git@bitbucket.example.com:7999/project/repo.git
	sshSchemeURLPattern = regexp.MustCompile(`^ssh://[^/]+/(?:.+/)?([^/]+)/([^/]+?)(?:\.git)?/?$`)
)

// parseRepoFromURL extracts owner/repo from a Git remote URL.
// Supports HTTPS, scp-like SSH and ssh:// formats:
//   - https://github.com/owner/repo.git -> owner/repo
//   - git@github.com:owner/repo -> owner/repo
//   - ssh://git@bitbucket.example.com/project/repo.git -> project/repo
func parseRepoFromURL(url string) (string, error) {
	url = strings.TrimSpace(url)

	for _, pattern := range []*regexp.Regexp{httpsURLPattern, sshURLPattern, sshSchemeURLPattern} {
		if matches := pattern.FindStringSubmatch(url); len(matches) == 3 {
			return matches[1] + "/" + matches[2], nil
		}
	}

	return "", fmt.Errorf("unrecognized URL format: %s", url)
}
