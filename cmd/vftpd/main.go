// Command vftpd serves a directory, an in-memory tree or a bbolt database
// over FTP.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newCommand builds the root command. Flags are bound to a fresh copy of
// DefaultConfig so that commands built in tests do not share state.
func newCommand() *cobra.Command {
	opt := DefaultConfig
	var configPath string

	cmd := &cobra.Command{
		Use:   "vftpd",
		Short: "Serve a virtual file tree over FTP.",
		Long: `vftpd runs an FTP server over one of three content backends:

  fs      a directory on the local disk (--root-dir)
  memory  an empty tree kept in memory, lost on exit
  bolt    a tree persisted in a bbolt database file (--bolt-path)

Settings can be read from a YAML file given with --config. Flags set on
the command line take precedence over the file. The file may also hold a
"users" map of user name to password.

Without --user or a users map every login is accepted.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			overrideFromFlags(&cfg, cmd.Flags(), &opt)

			logger, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			return a.run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML configuration file.")
	addFlags(cmd.Flags(), &opt)
	return cmd
}
