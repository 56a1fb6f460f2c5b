package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/escapecode/bughunt/internal/session"
)

type config struct {
	backendURL string
	dataDir    string
	verbose    bool

	// entry parameters for play; they override the stored session
	team  string
	token string
	round int
	page  int

	// serve
	listen string
}

func main() {
	// .env is optional; missing is fine
	_ = godotenv.Load()

	cfg := &config{}
	if err := newRootCmd(cfg).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(cfg *config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("BUGHUNT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "bughunt",
		Short:         "Terminal client for the team bug-hunt game.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// env vars fill any flag the user didn't set explicitly
			bind := func(fs *pflag.FlagSet) {
				fs.VisitAll(func(f *pflag.Flag) {
					_ = v.BindPFlag(f.Name, f)
					_ = v.BindEnv(f.Name)
					if !f.Changed && v.IsSet(f.Name) {
						_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
					}
				})
			}
			bind(cmd.Root().PersistentFlags())
			bind(cmd.Flags())
			return nil
		},
	}

	fs := root.PersistentFlags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	fs.StringVar(&cfg.backendURL, "backend-url", "http://localhost:8000", "game backend root URL")
	fs.StringVar(&cfg.dataDir, "data-dir", defaultDataDir(), "directory for the stored session")
	fs.BoolVar(&cfg.verbose, "verbose", false, "debug logging")

	root.AddCommand(newPlayCmd(cfg), newServeCmd(cfg), newLogoutCmd(cfg))
	return root
}

func newLogoutCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the stored session.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := newLogger(cfg.verbose)
			if err != nil {
				return err
			}
			defer log.Sync()

			if err := session.NewStore(cfg.dataDir, log).Clear(); err != nil {
				return fmt.Errorf("clear session: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "session cleared")
			return nil
		},
	}
}

func defaultDataDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ".bughunt"
	}
	return filepath.Join(base, "bughunt")
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	}
	return cfg.Build()
}
