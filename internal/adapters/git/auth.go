package git

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	gossh "golang.org/x/crypto/ssh"

	"github.com/MyCarrier-DevOps/git-expired-branch/internal/domain"
)

// defaultSSHUser is used when the remote URL carries no user.
const defaultSSHUser = "git"

// resolveAuth picks the first configured method in order: private key, ssh agent,
// http basic auth. A nil method means anonymous or ambient access. Methods that
// are not configured are never tried.
func resolveAuth(cfg domain.GitAccessConfig, sshUser string) (transport.AuthMethod, error) {
	switch {
	case cfg.PrivateKeyPath != "":
		keys, err := ssh.NewPublicKeysFromFile(sshUser, cfg.PrivateKeyPath, cfg.PrivateKeyPassphrase)
		if err != nil {
			return nil, fmt.Errorf("%w: cannot load private key %s: %w", domain.ErrAuthentication, cfg.PrivateKeyPath, err)
		}
		if !cfg.StrictHostKeyChecking {
			keys.HostKeyCallback = gossh.InsecureIgnoreHostKey()
		}
		return keys, nil

	case cfg.UseSSHAgent:
		agent, err := ssh.NewSSHAgentAuth(sshUser)
		if err != nil {
			return nil, fmt.Errorf("%w: ssh agent unavailable: %w", domain.ErrAuthentication, err)
		}
		if !cfg.StrictHostKeyChecking {
			agent.HostKeyCallback = gossh.InsecureIgnoreHostKey()
		}
		return agent, nil

	case cfg.Password != "":
		return &http.BasicAuth{Username: cfg.Username, Password: cfg.Password}, nil

	default:
		return nil, nil
	}
}

func hasExplicitCredentials(cfg domain.GitAccessConfig) bool {
	return cfg.PrivateKeyPath != "" || cfg.UseSSHAgent || cfg.Password != ""
}

// isAuthFailure reports whether err is the remote rejecting our credentials.
func isAuthFailure(err error) bool {
	if errors.Is(err, transport.ErrAuthenticationRequired) || errors.Is(err, transport.ErrAuthorizationFailed) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "permission denied")
}

// sshUserFromURL returns the user part of an ssh remote URL.
func sshUserFromURL(url string) string {
	if url == "" {
		return defaultSSHUser
	}
	ep, err := transport.NewEndpoint(url)
	if err != nil || ep.User == "" {
		return defaultSSHUser
	}
	return ep.User
}
