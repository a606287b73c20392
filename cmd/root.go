// Package cmd provides the CLI commands for git-expired-branch.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/MyCarrier-DevOps/git-expired-branch/internal/domain"
	"github.com/MyCarrier-DevOps/git-expired-branch/internal/usecases"
)

// Logger defines the logging interface used by the command.
type Logger interface {
	Info(ctx context.Context, msg string, fields map[string]interface{})
	Debug(ctx context.Context, msg string, fields map[string]interface{})
	Warn(ctx context.Context, msg string, fields map[string]interface{})
	Error(ctx context.Context, msg string, err error, fields map[string]interface{})
}

// Orchestrator runs one of the branch maintenance operations.
type Orchestrator interface {
	Run(ctx context.Context, op domain.Operation) (*domain.RunReport, error)
}

// RunInput carries everything the OrchestratorFactory needs for one run.
type RunInput struct {
	Config    *AppConfig
	Gateway   domain.RepositoryGateway
	Transport domain.MailTransport
	// Archiver is nil unless the remove run archives branches.
	Archiver domain.BranchArchiver
	RunID    string
	Logger   Logger
}

// Dependencies holds all injectable dependencies for the command.
// This enables testing by allowing mock implementations to be injected.
type Dependencies struct {
	// LoggerFactory creates a logger that stamps every entry with fields.
	LoggerFactory func(fields map[string]interface{}) Logger

	// ConfigLoader loads and validates application configuration. path is the
	// --config flag value and may be empty.
	ConfigLoader func(ctx context.Context, path string) (*AppConfig, error)

	// GatewayFactory opens the repository described by cfg.
	GatewayFactory func(cfg domain.GitAccessConfig, log Logger) (domain.RepositoryGateway, error)

	// ArchiverFactory creates the archiver used before deletion.
	ArchiverFactory func(gateway domain.RepositoryGateway, cfg domain.ArchiveConfig, log Logger) (domain.BranchArchiver, error)

	// TransportFactory creates the mail transport.
	TransportFactory func(cfg domain.EmailConfig, log Logger) (domain.MailTransport, error)

	// OrchestratorFactory creates the orchestrator for a run.
	OrchestratorFactory func(ctx context.Context, in RunInput) Orchestrator

	// ReportWriterFactory creates the writer for the run report.
	ReportWriterFactory func(out io.Writer, format string) (domain.ReportWriter, error)

	// Stdout is the writer for the run report.
	Stdout io.Writer

	// Stderr is the writer for standard error (for warnings/errors).
	Stderr io.Writer
}

// AppConfig holds application configuration loaded by ConfigLoader.
type AppConfig struct {
	Git          domain.GitAccessConfig
	Email        domain.EmailConfig
	Expiration   domain.ExpirationConfig
	Notification domain.NotificationConfig
	Archive      domain.ArchiveConfig

	// DeleteAfterDays is the threshold for the remove run; 0 means Expiration.MaxAgeDays.
	DeleteAfterDays int

	// Concurrency bounds per-branch parallelism.
	Concurrency int

	// LogLevel is the log level setting.
	LogLevel string

	// LogAppName is the application name for logging.
	LogAppName string
}

// rootOptions holds the persistent command-line flags.
type rootOptions struct {
	configPath  string
	repoDir     string
	output      string
	concurrency int
	verbose     bool
}

// defaultDeps holds the production dependencies.
// This is set by the production wiring in main or via SetDefaultDependencies.
var defaultDeps *Dependencies

// SetDefaultDependencies sets the default dependencies for production use.
// This should be called from main() before Execute().
func SetDefaultDependencies(deps *Dependencies) {
	defaultDeps = deps
}

// NewRootCmd creates the root command for git-expired-branch.
func NewRootCmd() *cobra.Command {
	return NewRootCmdWithDeps(defaultDeps)
}

// NewRootCmdWithDeps creates the root command with explicit dependencies.
// This is the primary constructor that enables testing via dependency injection.
func NewRootCmdWithDeps(deps *Dependencies) *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "git-expired-branch",
		Short: "Notify about and remove stale remote Git branches",
		Long: `git-expired-branch finds remote branches whose last commit is older than
the configured age, emails their last committers, and optionally deletes them.

Configuration is read from git-expired-branch.yaml (or --config) and GEB_*
environment variables. Credentials can be read from Vault by setting
VAULT_SECRETS_PATH.

Examples:
  # Email committers of branches older than expiration.maxAgeDays
  git-expired-branch notifyAboutGitExpiredBranches

  # Delete expired branches in another checkout and print a JSON report
  git-expired-branch remove --repo /path/to/repo --output json

  # Process four branches at a time with debug logging
  git-expired-branch remove --concurrency 4 -v`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "",
		"Path to the configuration file")
	flags.StringVar(&opts.repoDir, "repo", "",
		"Path to the Git repository (overrides git.repoDir)")
	flags.StringVarP(&opts.output, "output", "o", "text",
		"Report format: text, yaml or json")
	flags.IntVar(&opts.concurrency, "concurrency", 0,
		"Branches processed in parallel (overrides concurrency)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false,
		"Enable verbose/debug logging")

	rootCmd.AddCommand(
		newOperationCmd(domain.OperationNotify, "notify",
			"Email the last committers of expired branches", opts, deps),
		newOperationCmd(domain.OperationRemove, "remove",
			"Delete expired branches and tell their last committers", opts, deps),
	)

	return rootCmd
}

func newOperationCmd(op domain.Operation, alias, short string, opts *rootOptions, deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:          string(op),
		Aliases:      []string{alias},
		Short:        short,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOperation(cmd, op, opts, deps)
		},
	}
}

// runOperation executes one operation with injected dependencies. Per-branch
// failures end up in the report; only fatal errors are returned.
func runOperation(cmd *cobra.Command, op domain.Operation, opts *rootOptions, deps *Dependencies) error {
	if deps == nil {
		return errors.New("dependencies not configured")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	stdout := deps.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := deps.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	// Set log level based on verbose flag (best-effort)
	if opts.verbose {
		if err := os.Setenv("LOG_LEVEL", "debug"); err != nil {
			writeWarningf(stderr, "warning: could not set log level: %v\n", err)
		}
	}

	runID := uuid.NewString()
	log := deps.LoggerFactory(map[string]interface{}{
		"run_id":    runID,
		"operation": string(op),
	})

	log.Info(ctx, "starting git-expired-branch", map[string]interface{}{
		"config":  opts.configPath,
		"verbose": opts.verbose,
	})

	// Everything up to the gateway is local validation; nothing below touches
	// the repository or the network until it passes.
	cfg, err := deps.ConfigLoader(ctx, opts.configPath)
	if err != nil {
		log.Error(ctx, "failed to load configuration", err, nil)
		return fmt.Errorf("configuration error: %w", err)
	}
	applyFlags(cfg, opts)
	if err := usecases.ValidateExpirationConfig(cfg.Expiration); err != nil {
		log.Error(ctx, "invalid expiration settings", err, nil)
		return fmt.Errorf("configuration error: %w", err)
	}

	writer, err := deps.ReportWriterFactory(stdout, opts.output)
	if err != nil {
		log.Error(ctx, "invalid output format", err, map[string]interface{}{
			"output": opts.output,
		})
		return fmt.Errorf("configuration error: %w", err)
	}

	transport, err := deps.TransportFactory(cfg.Email, log)
	if err != nil {
		log.Error(ctx, "failed to initialize mail transport", err, nil)
		return fmt.Errorf("configuration error: %w", err)
	}

	gateway, err := deps.GatewayFactory(cfg.Git, log)
	if err != nil {
		log.Error(ctx, "failed to open git repository", err, map[string]interface{}{
			"path": cfg.Git.RepoDir,
		})
		return err
	}
	defer func() {
		if closeErr := gateway.Close(); closeErr != nil {
			log.Warn(ctx, "failed to close git repository", map[string]interface{}{
				"error": closeErr.Error(),
			})
		}
	}()

	var archiver domain.BranchArchiver
	if op == domain.OperationRemove && cfg.Archive.Enabled() {
		archiver, err = deps.ArchiverFactory(gateway, cfg.Archive, log)
		if err != nil {
			log.Error(ctx, "failed to initialize branch archiver", err, nil)
			return fmt.Errorf("configuration error: %w", err)
		}
	}

	orchestrator := deps.OrchestratorFactory(ctx, RunInput{
		Config:    cfg,
		Gateway:   gateway,
		Transport: transport,
		Archiver:  archiver,
		RunID:     runID,
		Logger:    log,
	})

	report, runErr := orchestrator.Run(ctx, op)
	if report != nil {
		if err := writer.WriteReport(report); err != nil {
			log.Error(ctx, "failed to write report", err, nil)
			if runErr == nil {
				return fmt.Errorf("output error: %w", err)
			}
		}
	}
	if runErr != nil {
		log.Error(ctx, "run failed", runErr, nil)
		return runErr
	}

	return nil
}

func applyFlags(cfg *AppConfig, opts *rootOptions) {
	if opts.repoDir != "" {
		cfg.Git.RepoDir = opts.repoDir
	}
	if opts.concurrency > 0 {
		cfg.Concurrency = opts.concurrency
	}
}

// Execute runs the root command. SIGINT and SIGTERM cancel the run; branches
// already processed keep their results.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	rootCmd := NewRootCmd()
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// writeWarningf writes a warning message to the given writer.
// This is a best-effort operation; errors are intentionally ignored
// because there is no recovery action if stderr writes fail.
func writeWarningf(w io.Writer, format string, args ...any) {
	_, err := fmt.Fprintf(w, format, args...)
	if err != nil {
		// Intentionally ignored: no recovery action for failed stderr writes
		return
	}
}
