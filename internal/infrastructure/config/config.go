// Package config provides configuration loading for the git-expired-branch application.
// Settings are read from an optional YAML file and GEB_* environment variables;
// secrets can additionally be read from HashiCorp Vault.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/MyCarrier-DevOps/goLibMyCarrier/vault"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/MyCarrier-DevOps/git-expired-branch/internal/domain"
)

// Environment variable names.
const (
	// EnvPrefix prefixes every configuration key read from the environment,
	// e.g. GEB_EMAIL_EMAILHOST for email.emailHost.
	EnvPrefix = "GEB"

	// EnvConfigFile is the path to the configuration file.
	EnvConfigFile = "GEB_CONFIG"

	// EnvLogLevel is the log level (debug, info, error).
	EnvLogLevel = "LOG_LEVEL"

	// EnvLogAppName is the application name for log context.
	EnvLogAppName = "LOG_APP_NAME"

	// EnvVaultSecretsPath is the path in Vault KV where credentials are stored.
	EnvVaultSecretsPath = "VAULT_SECRETS_PATH"

	// EnvVaultSecretsMount is the Vault KV mount point (defaults to "secret").
	EnvVaultSecretsMount = "VAULT_SECRETS_MOUNT"
)

// Default values.
const (
	DefaultConfigName       = "git-expired-branch"
	DefaultLogLevel         = "info"
	DefaultLogAppName       = "git-expired-branch"
	DefaultVaultSecretMount = "secret"
	DefaultConcurrency      = 1
)

// Configuration errors.
var (
	// ErrVaultClientFailed indicates failure to create or authenticate with Vault.
	ErrVaultClientFailed = errors.New("failed to create Vault client")

	// ErrVaultSecretNotFound indicates the secret was not found in Vault.
	ErrVaultSecretNotFound = errors.New("credentials not found in Vault")
)

// VaultClient defines the interface for Vault operations.
// This interface allows for dependency injection and testing.
type VaultClient interface {
	// GetKVSecret retrieves a secret from Vault's KV v2 secrets engine.
	GetKVSecret(ctx context.Context, path, mount string) (map[string]interface{}, error)
}

// VaultClientFactory creates a VaultClient using AppRole authentication.
type VaultClientFactory func(ctx context.Context) (VaultClient, error)

// DefaultVaultClientFactory creates a VaultClient using goLibMyCarrier/vault with AppRole auth.
func DefaultVaultClientFactory(ctx context.Context) (VaultClient, error) {
	// Uses: VAULT_ADDRESS, VAULT_ROLE_ID, VAULT_SECRET_ID
	vaultConfig, err := vault.VaultLoadConfig()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVaultClientFailed, err)
	}

	client, err := vault.CreateVaultClient(ctx, vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVaultClientFailed, err)
	}

	return client, nil
}

// fileConfig mirrors the configuration file layout. Key names follow the
// emailForGitExpiredBranches / gitForGitExpiredBranches / expiredBranchSettings
// blocks of the build plugin this tool replaces.
type fileConfig struct {
	Email struct {
		EmailHost         string `mapstructure:"emailHost"`
		EmailPort         int    `mapstructure:"emailPort"`
		EmailAuthUser     string `mapstructure:"emailAuthUser"`
		EmailAuthPassword string `mapstructure:"emailAuthPassword"`
		StartTLS          bool   `mapstructure:"startTls"`
	} `mapstructure:"email"`

	Git struct {
		RepoDir                string `mapstructure:"repoDir"`
		Remote                 string `mapstructure:"remote"`
		Email                  string `mapstructure:"email"`
		Username               string `mapstructure:"username"`
		PathToGitPrivateSSHKey string `mapstructure:"pathToGitPrivateSshKey"`
		PassphraseSSHKey       string `mapstructure:"passphraseSshKey"`
		UseSSHAgent            bool   `mapstructure:"useSshAgent"`
		Password               string `mapstructure:"password"`
		StrictHostKeyChecking  bool   `mapstructure:"strictHostKeyChecking"`
		Fetch                  bool   `mapstructure:"fetch"`
	} `mapstructure:"git"`

	Expiration struct {
		MaxAgeDays       int      `mapstructure:"maxAgeDays"`
		DeleteAfterDays  int      `mapstructure:"deleteAfterDays"`
		ExcludedBranches []string `mapstructure:"excludedBranches"`
	} `mapstructure:"expiration"`

	Notification struct {
		Mode           string `mapstructure:"mode"`
		OperatorEmail  string `mapstructure:"operatorEmail"`
		NotifierEmail  string `mapstructure:"notifierEmail"`
		RemoverEmail   string `mapstructure:"removerEmail"`
		AdminEmail     string `mapstructure:"adminEmail"`
		RepositoryName string `mapstructure:"repositoryName"`
	} `mapstructure:"notification"`

	Archive struct {
		RepositoryURL string `mapstructure:"repositoryUrl"`
		BaseBranch    string `mapstructure:"baseBranch"`
	} `mapstructure:"archive"`

	Concurrency int `mapstructure:"concurrency"`
}

// vaultSecrets are the credential keys read from Vault.
type vaultSecrets struct {
	EmailAuthPassword string `mapstructure:"emailAuthPassword"`
	PassphraseSSHKey  string `mapstructure:"passphraseSshKey"`
	GitPassword       string `mapstructure:"gitPassword"`
}

// defaultValues registers every key so that environment overrides are picked up
// by Unmarshal even when the key is absent from the file.
var defaultValues = map[string]any{
	"email.emailHost":                "",
	"email.emailPort":                0,
	"email.emailAuthUser":            "",
	"email.emailAuthPassword":        "",
	"email.startTls":                 false,
	"git.repoDir":                    ".",
	"git.remote":                     domain.DefaultRemoteName,
	"git.email":                      "",
	"git.username":                   "",
	"git.pathToGitPrivateSshKey":     "",
	"git.passphraseSshKey":           "",
	"git.useSshAgent":                false,
	"git.password":                   "",
	"git.strictHostKeyChecking":      false,
	"git.fetch":                      false,
	"expiration.maxAgeDays":          domain.DefaultMaxAgeDays,
	"expiration.deleteAfterDays":     0,
	"expiration.excludedBranches":    domain.DefaultExcludedBranches,
	"notification.mode":              string(domain.NotificationModePerCommitter),
	"notification.operatorEmail":     "",
	"notification.notifierEmail":     "",
	"notification.removerEmail":      "",
	"notification.adminEmail":        "",
	"notification.repositoryName":    "",
	"archive.repositoryUrl":          "",
	"archive.baseBranch":             domain.DefaultBaseBranch,
	"concurrency":                    DefaultConcurrency,
}

// Config holds all application configuration.
type Config struct {
	Email        domain.EmailConfig
	Git          domain.GitAccessConfig
	Expiration   domain.ExpirationConfig
	Notification domain.NotificationConfig
	Archive      domain.ArchiveConfig

	// DeleteAfterDays is the threshold for the remove run; 0 means Expiration.MaxAgeDays.
	DeleteAfterDays int

	// Concurrency bounds per-branch parallelism.
	Concurrency int

	// LogLevel is the logging level (debug, info, error).
	LogLevel string

	// LogAppName is the application name for log context.
	LogAppName string

	// ConfigFileUsed is the file that was read, empty when only defaults and
	// environment were used.
	ConfigFileUsed string
}

// LoadOptions controls where configuration is read from.
type LoadOptions struct {
	// ConfigFile is an explicit file path. When empty, GEB_CONFIG is consulted and
	// then git-expired-branch.yaml is searched in SearchPaths.
	ConfigFile string

	// SearchPaths are directories searched for the default file name.
	SearchPaths []string

	// VaultClientFactory overrides DefaultVaultClientFactory.
	VaultClientFactory VaultClientFactory
}

// Load loads the application configuration.
//
// For Vault loading, requires:
//   - VAULT_ADDRESS, VAULT_ROLE_ID, VAULT_SECRET_ID
//   - VAULT_SECRETS_PATH: path to the secret holding emailAuthPassword,
//     passphraseSshKey and gitPassword
//   - VAULT_SECRETS_MOUNT: KV mount point (optional, defaults to "secret")
//
// Load does not validate; call Validate before using the result.
func Load(ctx context.Context, opts LoadOptions) (*Config, error) {
	v := viper.New()
	v.SetConfigName(DefaultConfigName)
	v.SetConfigType("yaml")
	for _, p := range opts.SearchPaths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, value := range defaultValues {
		v.SetDefault(key, value)
	}

	configFile := opts.ConfigFile
	if configFile == "" {
		configFile = os.Getenv(EnvConfigFile)
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: failed to read configuration: %w", domain.ErrConfiguration, err)
		}
	}

	var raw fileConfig
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("%w: failed to parse configuration: %w", domain.ErrConfiguration, err)
	}

	cfg := fromFile(raw)
	cfg.ConfigFileUsed = v.ConfigFileUsed()

	// Validate only reads non-secret settings, so a broken configuration fails
	// before Vault is contacted.
	if os.Getenv(EnvVaultSecretsPath) != "" {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if err := applyVaultSecrets(ctx, opts.VaultClientFactory, cfg); err != nil {
		return nil, err
	}

	cfg.LogLevel = os.Getenv(EnvLogLevel)
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	cfg.LogAppName = os.Getenv(EnvLogAppName)
	if cfg.LogAppName == "" {
		cfg.LogAppName = DefaultLogAppName
	}

	return cfg, nil
}

func fromFile(raw fileConfig) *Config {
	cfg := &Config{
		Email: domain.EmailConfig{
			Host:     strings.TrimSpace(raw.Email.EmailHost),
			Port:     raw.Email.EmailPort,
			Username: raw.Email.EmailAuthUser,
			Password: raw.Email.EmailAuthPassword,
			StartTLS: raw.Email.StartTLS,
		},
		Git: domain.GitAccessConfig{
			RepoDir:               raw.Git.RepoDir,
			RemoteName:            strings.TrimSpace(raw.Git.Remote),
			Username:              strings.TrimSpace(raw.Git.Username),
			Email:                 strings.TrimSpace(raw.Git.Email),
			PrivateKeyPath:        strings.TrimSpace(raw.Git.PathToGitPrivateSSHKey),
			PrivateKeyPassphrase:  raw.Git.PassphraseSSHKey,
			UseSSHAgent:           raw.Git.UseSSHAgent,
			Password:              raw.Git.Password,
			StrictHostKeyChecking: raw.Git.StrictHostKeyChecking,
			Fetch:                 raw.Git.Fetch,
		},
		Expiration: domain.ExpirationConfig{
			MaxAgeDays:       raw.Expiration.MaxAgeDays,
			ExcludedBranches: sanitizeList(raw.Expiration.ExcludedBranches),
		},
		Notification: domain.NotificationConfig{
			Mode:           domain.NotificationMode(strings.TrimSpace(raw.Notification.Mode)),
			OperatorEmail:  strings.TrimSpace(raw.Notification.OperatorEmail),
			NotifierEmail:  strings.TrimSpace(raw.Notification.NotifierEmail),
			RemoverEmail:   strings.TrimSpace(raw.Notification.RemoverEmail),
			AdminEmail:     strings.TrimSpace(raw.Notification.AdminEmail),
			RepositoryName: strings.TrimSpace(raw.Notification.RepositoryName),
		},
		Archive: domain.ArchiveConfig{
			RepositoryURL: strings.TrimSpace(raw.Archive.RepositoryURL),
			BaseBranch:    strings.TrimSpace(raw.Archive.BaseBranch),
		},
		DeleteAfterDays: raw.Expiration.DeleteAfterDays,
		Concurrency:     raw.Concurrency,
	}

	if cfg.Notification.Mode == "" {
		cfg.Notification.Mode = domain.NotificationModePerCommitter
	}
	if cfg.Notification.NotifierEmail == "" {
		cfg.Notification.NotifierEmail = cfg.Git.Email
	}
	if cfg.Notification.RemoverEmail == "" {
		cfg.Notification.RemoverEmail = cfg.Git.Email
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultConcurrency
	}
	cfg.Notification.NotifyAfterDays = cfg.Expiration.MaxAgeDays
	cfg.Notification.RemoveAfterDays = cfg.RemoveAfterDays()
	return cfg
}

// RemoveAfterDays returns the threshold applied by the remove run.
func (c *Config) RemoveAfterDays() int {
	if c.DeleteAfterDays > 0 {
		return c.DeleteAfterDays
	}
	return c.Expiration.MaxAgeDays
}

// Validate checks the settings every run needs. It touches neither the
// repository nor the network.
func (c *Config) Validate() error {
	var problems []string
	if c.Email.Host == "" {
		problems = append(problems, "email.emailHost is required")
	}
	if c.Email.Port <= 0 {
		problems = append(problems, "email.emailPort is required")
	}
	if c.Git.Email == "" {
		problems = append(problems, "git.email is required")
	}
	if c.Git.Username == "" {
		problems = append(problems, "git.username is required")
	}
	switch c.Notification.Mode {
	case domain.NotificationModePerCommitter:
	case domain.NotificationModeDigest:
		if c.Notification.OperatorEmail == "" {
			problems = append(problems, "notification.operatorEmail is required in digest mode")
		}
	default:
		problems = append(problems, fmt.Sprintf("notification.mode %q is not supported", c.Notification.Mode))
	}
	if c.DeleteAfterDays < 0 {
		problems = append(problems, "expiration.deleteAfterDays must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// applyVaultSecrets overlays credentials from Vault when VAULT_SECRETS_PATH is set.
func applyVaultSecrets(ctx context.Context, factory VaultClientFactory, cfg *Config) error {
	path := os.Getenv(EnvVaultSecretsPath)
	if path == "" {
		return nil
	}
	if factory == nil {
		factory = DefaultVaultClientFactory
	}

	client, err := factory(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}

	mount := os.Getenv(EnvVaultSecretsMount)
	if mount == "" {
		mount = DefaultVaultSecretMount
	}

	data, err := client.GetKVSecret(ctx, path, mount)
	if err != nil {
		return fmt.Errorf("%w: %w at path %s: %w", domain.ErrConfiguration, ErrVaultSecretNotFound, path, err)
	}

	var secrets vaultSecrets
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &secrets,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}
	if err := decoder.Decode(data); err != nil {
		return fmt.Errorf("%w: invalid Vault secret at %s: %w", domain.ErrConfiguration, path, err)
	}

	if secrets.EmailAuthPassword != "" {
		cfg.Email.Password = secrets.EmailAuthPassword
	}
	if secrets.PassphraseSSHKey != "" {
		cfg.Git.PrivateKeyPassphrase = secrets.PassphraseSSHKey
	}
	if secrets.GitPassword != "" {
		cfg.Git.Password = secrets.GitPassword
	}
	return nil
}

func sanitizeList(raw []string) []string {
	sanitized := make([]string, 0, len(raw))
	for _, candidate := range raw {
		trimmed := strings.TrimSpace(candidate)
		if trimmed == "" {
			continue
		}
		sanitized = append(sanitized, trimmed)
	}
	return sanitized
}
