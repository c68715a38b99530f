// Package cmd implements the autopilot command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/xiaot623/gogo/autopilot/internal/apiclient"
	"github.com/xiaot623/gogo/autopilot/internal/config"
)

var version = "v0.1.0"

const defaultServerURL = "http://localhost:8080"

// app carries the state shared by every subcommand.
type app struct {
	cfgFile string
	v       *viper.Viper
	confirm func(label string, in io.Reader, out io.Writer) (bool, error)
}

func (a *app) load() error {
	v, err := config.New(a.cfgFile)
	if err != nil {
		return err
	}
	v.SetDefault("server_url", defaultServerURL)
	a.v = v
	return nil
}

func (a *app) client() *apiclient.Client {
	return apiclient.NewClient(a.v.GetString("server_url"))
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{confirm: promptConfirm})
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "autopilot",
		Short:         "autopilot plans, applies and verifies code changes for a project",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			if f := cmd.Flags().Lookup("server"); f != nil && f.Changed {
				a.v.Set("server_url", f.Value.String())
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default ./autopilot.yaml)")
	root.PersistentFlags().String("server", defaultServerURL, "orchestrator address (env SERVER_URL)")

	root.AddCommand(
		newServeCmd(a),
		newStartCmd(a),
		newStatusCmd(a),
		newCancelCmd(a),
		newPlansCmd(a),
		newApproveCmd(a),
		newRejectCmd(a),
		newRolesCmd(a),
		newPreviewCmd(a),
	)
	return root
}

// Execute runs the command line.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}
