// Package cli implements the owctl command tree.
package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"owconsole/internal/app"
	"owconsole/internal/config"
)

// env opens the client lazily so commands that need no API (storage
// verify) run without configuration.
type env struct {
	cfg *config.Config
	app *app.App

	loadConfig func() (*config.Config, error)
	stdin      io.Reader
}

func (e *env) App(ctx context.Context) (*app.App, error) {
	if e.app != nil {
		return e.app, nil
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	e.cfg, e.app = cfg, a
	return a, nil
}

func (e *env) close() {
	if e.app == nil {
		return
	}
	if err := e.app.Close(); err != nil {
		glog.Warningf("cli: close: %v", err)
	}
	e.app = nil
}

// Execute runs owctl until the command finishes or SIGINT/SIGTERM arrives.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer glog.Flush()

	e := &env{loadConfig: config.Load, stdin: os.Stdin}
	defer e.close()
	return newRootCmd(e).ExecuteContext(ctx)
}

func newRootCmd(e *env) *cobra.Command {
	var noColor bool
	rootCmd := &cobra.Command{
		Use:           "owctl",
		Short:         "OpenWorkers console client",
		Long:          "owctl manages OpenWorkers workers, environments, databases, KV namespaces and storage, and edits worker scripts with the AI assistant.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)

	rootCmd.AddCommand(
		newListCmd(e),
		newGetCmd(e),
		newCreateCmd(e),
		newDeleteCmd(e),
		newWatchCmd(e),
		newCronCmd(e),
		newNameCheckCmd(e),
		newChatCmd(e),
		newLoginCmd(e),
		newLogoutCmd(e),
		newWhoamiCmd(e),
		newKVCmd(e),
		newStorageCmd(e),
	)
	return rootCmd
}
