// Package deskcli is the projectdesk command line: first-time setup, running
// the servers, building the stylesheet and a few offline tools.
package deskcli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/phillip-england/projectdesk/internal/config"
	"github.com/phillip-england/projectdesk/internal/console"
	"github.com/phillip-england/projectdesk/internal/devapi"
	"github.com/phillip-england/projectdesk/internal/envutil"
	"github.com/phillip-england/projectdesk/internal/logging"
	"github.com/phillip-england/projectdesk/internal/security"
)

var ErrUsage = errors.New("usage")

// consoleStartDelay gives the API a moment to bind before the console starts
// calling it under `run all`.
const consoleStartDelay = 500 * time.Millisecond

type globalOptions struct {
	configPath string
	envFile    string
}

// Execute runs the command line with args (without the program name).
func Execute(args []string) error {
	cmd := newRootCmd(os.Stdout, os.Stderr)
	cmd.SetArgs(args)
	return cmd.Execute()
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "projectdesk",
		Short:         "Construction workflow admin console",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = cmd.Usage()
			return fmt.Errorf("%w: projectdesk <setup|run|assets|render|audit> [...]", ErrUsage)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath, "path to the YAML config file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "path to .env file")

	root.AddCommand(
		newSetupCmd(opts),
		newRunCmd(opts),
		newAssetsCmd(),
		newRenderCmd(opts),
		newAuditCmd(opts),
	)
	return root
}

// PrintUsage writes the root help text, for callers that got ErrUsage back.
func PrintUsage(w io.Writer) {
	cmd := newRootCmd(w, w)
	_ = cmd.Usage()
}

func newSetupCmd(opts *globalOptions) *cobra.Command {
	var (
		adminEmail string
		adminPass  string
		adminName   string
		force       bool
		writeConfig bool
	)
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Write a .env file with an admin account and fresh secrets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if adminPass == "" {
				return errors.New("--admin-password is required")
			}
			if _, err := security.HashPassword(adminPass); err != nil {
				return fmt.Errorf("invalid admin password: %w", err)
			}
			jwtSecret, err := security.RandomToken(32)
			if err != nil {
				return err
			}
			sessionSecret, err := security.RandomToken(32)
			if err != nil {
				return err
			}

			defaults := config.Default()
			values := map[string]string{
				"ADMIN_EMAIL":        adminEmail,
				"ADMIN_PASSWORD":     adminPass,
				"ADMIN_NAME":         adminName,
				"JWT_SECRET":         jwtSecret,
				"SESSION_SECRET":     sessionSecret,
				"AUTH_DB_PATH":       defaults.API.DBPath,
				"SESSION_STORE_PATH": "console.db",
				"API_ADDR":           defaults.API.Addr,
				"CONSOLE_ADDR":       defaults.Console.Addr,
				"API_BASE_URL":       defaults.Console.APIBaseURL,
			}
			if writeConfig && !force {
				if _, err := os.Stat(opts.configPath); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", opts.configPath)
				}
			}
			if err := envutil.WriteDotEnv(opts.envFile, values, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", opts.envFile)
			if !writeConfig {
				return nil
			}
			if err := writeDefaultConfig(opts.configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", opts.configPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&adminEmail, "admin-email", "admin@example.com", "initial admin email")
	cmd.Flags().StringVar(&adminPass, "admin-password", "", "initial admin password (min 12 chars)")
	cmd.Flags().StringVar(&adminName, "admin-name", "Administrator", "initial admin display name")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing env and config files")
	cmd.Flags().BoolVar(&writeConfig, "write-config", false, "also write the default YAML config to --config")
	return cmd
}

// writeDefaultConfig saves the defaults without secrets; those stay in .env.
func writeDefaultConfig(path string) error {
	cfg := config.Default()
	cfg.Console.StorePath = "console.db"
	if err := ensureParentDirs(path); err != nil {
		return err
	}
	return cfg.Save(path)
}

func newRunCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "run <api|console|all>",
		Short:     "Run the development API, the console, or both",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"api", "console", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, cleanup, err := loadRuntime(opts)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			switch args[0] {
			case "api":
				return runAPI(ctx, cfg, logger)
			case "console":
				return runConsole(ctx, cfg, logger)
			default:
				return runAll(ctx, cfg, logger)
			}
		},
	}
}

// loadRuntime reads .env, then the config file, and builds the logger.
func loadRuntime(opts *globalOptions) (*config.Config, *zap.Logger, func(), error) {
	applied, err := envutil.LoadDotEnv(opts.envFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load %s: %w", opts.envFile, err)
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, cleanup, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, nil, err
	}
	undo := zap.ReplaceGlobals(logger)
	if len(applied) > 0 {
		logger.Debug("loaded env file", zap.String("path", opts.envFile), zap.Strings("keys", applied))
	}
	return cfg, logger, func() {
		undo()
		cleanup()
	}, nil
}

func runAPI(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if err := cfg.ValidateAPI(); err != nil {
		return err
	}
	if err := ensureParentDirs(cfg.API.DBPath); err != nil {
		return err
	}
	if err := devapi.Run(ctx, cfg.API, logger.Named("api")); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runConsole(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if err := cfg.ValidateConsole(); err != nil {
		return err
	}
	if cfg.Console.StorePath != "" {
		if err := ensureParentDirs(cfg.Console.StorePath); err != nil {
			return err
		}
	}
	if err := console.Run(ctx, cfg.Console, logger.Named("console")); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runAll stops both servers as soon as either one fails.
func runAll(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if err := errors.Join(cfg.ValidateAPI(), cfg.ValidateConsole()); err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runAPI(ctx, cfg, logger) })
	g.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(consoleStartDelay):
		}
		return runConsole(ctx, cfg, logger)
	})
	return g.Wait()
}

func ensureParentDirs(paths ...string) error {
	for _, p := range paths {
		dir := filepath.Dir(p)
		if dir == "." || dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
