// Package cli implements rollcallctl, the operator CLI for merges, conflict
// review and legacy sync.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"rollcall/internal/app"
	"rollcall/internal/platform/config"
	"rollcall/internal/platform/logger"
	"rollcall/pkg/requestcontext"
)

// Builder assembles the services a command runs against.
type Builder func(ctx context.Context) (*app.App, error)

// DefaultBuilder loads configuration the same way the server does. Commands
// run notifications inline since the process exits right after.
func DefaultBuilder(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	log := logger.New(cfg.Server.Environment, cfg.Server.LogLevel)
	return app.Build(ctx, cfg, log, app.Options{InlineDispatch: true})
}

type rootOptions struct {
	build Builder
	actor string
}

// NewRootCmd builds the command tree. build is called once per command.
func NewRootCmd(build Builder) *cobra.Command {
	opts := &rootOptions{build: build}
	root := &cobra.Command{
		Use:   "rollcallctl",
		Short: "Operate the rollcall identity store",
		Long: `rollcallctl merges duplicate people, reviews email conflicts, reads the
merge audit trail and refreshes people from the legacy source. It uses the
same configuration as the server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.actor, "as", "", "Operator recorded on audit trails (defaults to $USER)")

	root.AddCommand(
		newMergeCmd(opts),
		newResolveCmd(opts),
		newConflictsCmd(opts),
		newAuditsCmd(opts),
		newSyncCmd(opts),
		newEmailCmd(opts),
		newTokenCmd(opts),
	)
	return root
}

// Execute runs rollcallctl with the process configuration.
func Execute(ctx context.Context) error {
	return NewRootCmd(DefaultBuilder).ExecuteContext(ctx)
}

type runFunc func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error

// withApp builds the services, stamps the actor on the context and closes
// everything once fn returns.
func (o *rootOptions) withApp(fn runFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := o.build(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(requestcontext.WithActor(ctx, o.resolveActor()), a, cmd, args)
	}
}

func (o *rootOptions) resolveActor() string {
	if o.actor != "" {
		return o.actor
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return requestcontext.SystemActor
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
