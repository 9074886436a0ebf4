package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"quiz-match-service/internal/config"
)

var (
	port       string
	configPath string
	env        *viper.Viper
)

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("QUIZ")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	env = v

	cmd := &cobra.Command{
		Use:   "quiz-match-service",
		Short: "Live multiplayer quiz matches over Gorilla WebSocket",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			overlayEnv(v, cmd.Flags())
			return nil
		},
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&port, "port", "", "port to listen on, overrides server.port (env: QUIZ_PORT)")
	flags.StringVar(&configPath, "config", "config/config.yaml", "path to YAML config (env: QUIZ_CONFIG)")

	cmd.AddCommand(NewStartCmd(&configPath, &port))
	cmd.AddCommand(NewMigrateCmd(&configPath))
	cmd.AddCommand(NewTokenCmd(&configPath))
	cmd.CompletionOptions.HiddenDefaultCmd = true
	return cmd
}

// overlayEnv fills flags the user did not set from QUIZ_* environment variables.
func overlayEnv(v *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = flags.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

// loadConfig reads the YAML file and applies QUIZ_* overrides for deployment secrets.
func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if env == nil {
		return cfg, nil
	}
	for key, dst := range map[string]*string{
		"postgres.url":      &cfg.Postgres.URL,
		"redis.addr":        &cfg.Redis.Addr,
		"redis.password":    &cfg.Redis.Password,
		"auth.secret":       &cfg.Auth.Secret,
		"server.public_url": &cfg.Server.PublicURL,
		"logging.level":     &cfg.Logging.Level,
	} {
		if env.IsSet(key) {
			*dst = env.GetString(key)
		}
	}
	return cfg, nil
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:   level,
		NoColor: !cfg.Logging.Color,
	}))
}
