package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/inletworks/inlet/internal/config"
	"github.com/inletworks/inlet/internal/logging"
	"github.com/inletworks/inlet/internal/secrets"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "inlet",
	Short:   "Inlet - scheduled file discovery engine",
	Long:    `Inlet watches FTP, HTTPS and Azure Blob sources on cron schedules and publishes an event for every new file it discovers.`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Inlet %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate <seed-file>",
	Short: "Validate a seed file without applying it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configs, err := config.LoadSeed(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d configuration(s) valid\n", args[0], len(configs))
		return nil
	},
}

var checkTenant, checkConfig, checkAt string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one file check immediately and print the outcome",
	RunE: func(cmd *cobra.Command, args []string) error {
		instant := time.Now().UTC()
		if checkAt != "" {
			parsed, err := time.Parse(time.RFC3339, checkAt)
			if err != nil {
				return fmt.Errorf("invalid --at instant %q: %w", checkAt, err)
			}
			instant = parsed.UTC()
		}
		return runCheck(cmd.Context(), checkTenant, checkConfig, instant)
	},
}

var testConnectionCmd = &cobra.Command{
	Use:   "test-connection",
	Short: "Verify a configuration's source is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTestConnection(cmd.Context(), checkTenant, checkConfig)
	},
}

var secretsPassphrase string

var writeSecretsCmd = &cobra.Command{
	Use:   "write-secrets <file> <ref=value>...",
	Short: "Write an encrypted secrets file from ref=value pairs",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		values := make(map[string]string, len(args)-1)
		for _, pair := range args[1:] {
			ref, value, ok := splitPair(pair)
			if !ok {
				return fmt.Errorf("expected ref=value, got %q", pair)
			}
			values[ref] = value
		}
		if err := secrets.WriteFile(args[0], secretsPassphrase, values); err != nil {
			return err
		}
		fmt.Printf("wrote %d secret(s) to %s\n", len(values), args[0])
		return nil
	},
}

func splitPair(s string) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i], s[i+1:], i > 0
		}
	}
	return "", "", false
}

func init() {
	checkCmd.Flags().StringVar(&checkTenant, "tenant", "", "tenant ID")
	checkCmd.Flags().StringVar(&checkConfig, "config", "", "configuration ID")
	checkCmd.Flags().StringVar(&checkAt, "at", "", "RFC 3339 instant to resolve date tokens against (default now)")
	checkCmd.MarkFlagRequired("tenant")
	checkCmd.MarkFlagRequired("config")

	testConnectionCmd.Flags().StringVar(&checkTenant, "tenant", "", "tenant ID")
	testConnectionCmd.Flags().StringVar(&checkConfig, "config", "", "configuration ID")
	testConnectionCmd.MarkFlagRequired("tenant")
	testConnectionCmd.MarkFlagRequired("config")

	writeSecretsCmd.Flags().StringVar(&secretsPassphrase, "passphrase", "", "passphrase used to encrypt the file")
	writeSecretsCmd.MarkFlagRequired("passphrase")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(testConnectionCmd)
	rootCmd.AddCommand(writeSecretsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadRuntime parses the environment and initializes logging.
func loadRuntime() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Config{
		Format:     cfg.LogFormat,
		Level:      cfg.LogLevel,
		Component:  "inlet",
		FilePath:   cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSize,
		MaxAgeDays: cfg.LogMaxAge,
	})
	log.Debug().Str("dataDir", cfg.DataDir).Msg("Runtime configuration loaded")
	return cfg, nil
}

// secretsResolver builds the resolver chain: encrypted file first when
// configured, environment variables as the fallback.
func secretsResolver(cfg *config.Config) secrets.Resolver {
	env := secrets.NewEnv(cfg.SecretsPrefix)
	if cfg.SecretsFile == "" {
		return env
	}
	return secrets.Chain{secrets.NewFile(cfg.SecretsFile, cfg.SecretsKey), env}
}
