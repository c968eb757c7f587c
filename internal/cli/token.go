package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"rollcall/internal/app"
	"rollcall/pkg/platform/middleware/admin"
	"rollcall/pkg/requestcontext"
)

const defaultTokenTTL = 12 * time.Hour

func newTokenCmd(o *rootOptions) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed operator token for the admin API",
		Long: `Prints a bearer token signed with ROLLCALL_ADMIN_JWT_SECRET. The operator
named by --as is recorded on every audit written with the token.`,
		Args: cobra.NoArgs,
	}
	cmd.Flags().DurationVar(&ttl, "ttl", defaultTokenTTL, "How long the token stays valid")
	cmd.RunE = o.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, _ []string) error {
		secret := a.Config.Server.AdminJWTSecret
		if secret == "" {
			return errors.New("ROLLCALL_ADMIN_JWT_SECRET is not set")
		}
		tokens, err := admin.NewOperatorTokens(secret)
		if err != nil {
			return err
		}
		signed, err := tokens.Issue(requestcontext.Actor(ctx), ttl)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), signed)
		return err
	})
	return cmd
}
