// Package main is the entry point for the git-expired-branch CLI application.
// git-expired-branch emails the last committers of stale remote branches and
// can delete those branches once they pass a second age threshold.
package main

import (
	"context"
	"io"
	"os"

	"github.com/MyCarrier-DevOps/goLibMyCarrier/logger"

	"github.com/MyCarrier-DevOps/git-expired-branch/cmd"
	"github.com/MyCarrier-DevOps/git-expired-branch/internal/adapters/git"
	logadapter "github.com/MyCarrier-DevOps/git-expired-branch/internal/adapters/logger"
	"github.com/MyCarrier-DevOps/git-expired-branch/internal/adapters/mail"
	"github.com/MyCarrier-DevOps/git-expired-branch/internal/adapters/output"
	"github.com/MyCarrier-DevOps/git-expired-branch/internal/domain"
	"github.com/MyCarrier-DevOps/git-expired-branch/internal/infrastructure/config"
	"github.com/MyCarrier-DevOps/git-expired-branch/internal/usecases"
)

func main() {
	cmd.SetDefaultDependencies(newDependencies())
	cmd.Execute()
}

// newDependencies wires up production dependencies.
func newDependencies() *cmd.Dependencies {
	return &cmd.Dependencies{
		// The zap logger is created per run so that LOG_LEVEL set by --verbose applies.
		LoggerFactory: func(fields map[string]interface{}) cmd.Logger {
			return logadapter.NewZapAdapter(logger.NewZapLoggerFromConfig()).With(fields)
		},

		ConfigLoader: loadConfig,

		GatewayFactory: func(cfg domain.GitAccessConfig, log cmd.Logger) (domain.RepositoryGateway, error) {
			return git.NewGoGitRepository(cfg, log)
		},

		ArchiverFactory: newArchiver,

		TransportFactory: func(cfg domain.EmailConfig, log cmd.Logger) (domain.MailTransport, error) {
			return mail.NewSMTPTransport(cfg, log)
		},

		OrchestratorFactory: newOrchestrator,

		ReportWriterFactory: func(out io.Writer, format string) (domain.ReportWriter, error) {
			f, err := output.ParseFormat(format)
			if err != nil {
				return nil, err
			}
			return output.NewWriterWithOutput(out, f), nil
		},

		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

func loadConfig(ctx context.Context, path string) (*cmd.AppConfig, error) {
	cfg, err := config.Load(ctx, config.LoadOptions{
		ConfigFile:  path,
		SearchPaths: []string{"."},
	})
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cmd.AppConfig{
		Git:             cfg.Git,
		Email:           cfg.Email,
		Expiration:      cfg.Expiration,
		Notification:    cfg.Notification,
		Archive:         cfg.Archive,
		DeleteAfterDays: cfg.DeleteAfterDays,
		Concurrency:     cfg.Concurrency,
		LogLevel:        cfg.LogLevel,
		LogAppName:      cfg.LogAppName,
	}, nil
}

func newArchiver(gateway domain.RepositoryGateway, cfg domain.ArchiveConfig, _ cmd.Logger) (domain.BranchArchiver, error) {
	repo, ok := gateway.(*git.GoGitRepository)
	if !ok {
		return nil, newConfigTypeError("*git.GoGitRepository")
	}
	return git.NewGoGitArchiver(repo, cfg), nil
}

func newOrchestrator(ctx context.Context, in cmd.RunInput) cmd.Orchestrator {
	cfg := in.Config

	notification := cfg.Notification
	if notification.RepositoryName == "" {
		notification.RepositoryName = in.Gateway.RepositoryName(ctx)
	}

	resolver := usecases.NewCommitterResolver(cfg.Git.Email)
	notifier := usecases.NewMailNotifier(in.Transport, resolver, notification, in.Logger)

	runID := in.RunID
	return usecases.NewExpiredBranchOrchestrator(in.Gateway, notifier, resolver, in.Archiver, in.Logger,
		usecases.OrchestratorOptions{
			Expiration:      cfg.Expiration,
			DeleteAfterDays: cfg.DeleteAfterDays,
			Concurrency:     cfg.Concurrency,
			NewRunID:        func() string { return runID },
		})
}

func newConfigTypeError(expected string) error {
	return &configTypeError{expected: expected}
}

// configTypeError is returned when a dependency type assertion fails.
type configTypeError struct {
	expected string
}

func (e *configTypeError) Error() string {
	return "invalid dependency type: expected " + e.expected
}
