package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"rollcall/internal/app"
	"rollcall/internal/identity/conflict"
	"rollcall/internal/identity/handler"
	"rollcall/internal/identity/merge"
	"rollcall/internal/identity/models"
	id "rollcall/pkg/domain"
	"rollcall/pkg/requestcontext"
)

func newMergeCmd(o *rootOptions) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "merge <target-person-id> <source-person-id>",
		Short: "Fold the source person into the target",
		Long: `Moves every membership, lecture, invitation and account of the source
person onto the target and soft-deletes the source. The attempt is recorded
in the merge audit trail whether or not it succeeds.`,
		Args: cobra.ExactArgs(2),
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Why the records are the same person")
	cmd.RunE = o.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
		targetID, err := id.ParsePersonID(args[0])
		if err != nil {
			return err
		}
		sourceID, err := id.ParsePersonID(args[1])
		if err != nil {
			return err
		}
		res := a.Merger.Merge(ctx, merge.Request{
			TargetID: targetID,
			SourceID: sourceID,
			Actor:    requestcontext.Actor(ctx),
			Reason:   reason,
		})
		if !res.Success() {
			return fmt.Errorf("merge failed: %w", res.Err)
		}
		return printJSON(cmd.OutOrStdout(), handler.FromMergeResult(res))
	})
	return cmd
}

func newResolveCmd(o *rootOptions) *cobra.Command {
	var action, reason string
	cmd := &cobra.Command{
		Use:   "resolve <conflict-id>",
		Short: "Resolve an email conflict",
		Long: `Resolves a pending conflict. "merge" keeps the recommended record,
"merge_opposite" keeps the other one and "reject" marks the pair as
different people.`,
		Args: cobra.ExactArgs(1),
	}
	cmd.Flags().StringVar(&action, "action", "", "reject, merge or merge_opposite")
	cmd.Flags().StringVar(&reason, "reason", "", "Reviewer note")
	_ = cmd.MarkFlagRequired("action")
	cmd.RunE = o.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
		conflictID, err := id.ParseConflictID(args[0])
		if err != nil {
			return err
		}
		act, err := conflict.ParseAction(action)
		if err != nil {
			return err
		}
		res, err := a.Conflicts.Resolve(ctx, conflictID, act, requestcontext.Actor(ctx), reason)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), handler.FromResolveResult(res))
	})
	return cmd
}

func newConflictsCmd(o *rootOptions) *cobra.Command {
	var filter string
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List email conflicts",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().StringVar(&filter, "filter", "pending", "pending, resolved, high_priority, recent_invitations or all")
	cmd.RunE = o.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, _ []string) error {
		f, err := models.ParseConflictFilter(filter)
		if err != nil {
			return err
		}
		cs, err := a.Conflicts.List(ctx, f)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), handler.ConflictListResponse{
			Filter:    string(f),
			Conflicts: handler.FromConflicts(cs),
		})
	})

	show := &cobra.Command{
		Use:   "show <conflict-id>",
		Short: "Show a conflict with its recommendation and related group",
		Args:  cobra.ExactArgs(1),
	}
	show.RunE = o.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
		conflictID, err := id.ParseConflictID(args[0])
		if err != nil {
			return err
		}
		review, err := a.Conflicts.Review(ctx, conflictID)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), handler.FromReview(review))
	})

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Count conflicts by state",
		Args:  cobra.NoArgs,
	}
	stats.RunE = o.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, _ []string) error {
		st, err := a.Conflicts.Stats(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), st)
	})

	cmd.AddCommand(show, stats)
	return cmd
}

func newAuditsCmd(o *rootOptions) *cobra.Command {
	var filter, person string
	cmd := &cobra.Command{
		Use:   "audits",
		Short: "List merge audit records",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().StringVar(&filter, "filter", "recent", "recent, failed or completed")
	cmd.Flags().StringVar(&person, "person", "", "Only audits naming this person id as source or target")
	cmd.RunE = o.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, _ []string) error {
		var (
			recs []*models.MergeAuditRecord
			err  error
		)
		if person != "" {
			personID, perr := id.ParsePersonID(person)
			if perr != nil {
				return perr
			}
			recs, err = a.Audits.ForPerson(ctx, personID)
		} else {
			recs, err = a.Audits.List(ctx, models.AuditFilter(filter))
		}
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), handler.AuditListResponse{
			Filter: filter,
			Audits: handler.FromAudits(recs),
		})
	})
	return cmd
}

func newSyncCmd(o *rootOptions) *cobra.Command {
	var stale bool
	cmd := &cobra.Command{
		Use:   "sync [person-id...]",
		Short: "Refresh people from the legacy source",
		Long: `Refreshes the named people from the legacy source, or with --stale every
linked person not updated within the configured window. Problems are sent
to staff as one error report.`,
	}
	cmd.Flags().BoolVar(&stale, "stale", false, "Sync every stale linked person")
	cmd.RunE = o.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
		if stale == (len(args) > 0) {
			return fmt.Errorf("pass person ids or --stale, not both")
		}
		if stale {
			res, err := a.Sync.SyncStale(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		}
		ids := make([]id.PersonID, 0, len(args))
		for _, arg := range args {
			personID, err := id.ParsePersonID(arg)
			if err != nil {
				return err
			}
			ids = append(ids, personID)
		}
		res, err := a.Sync.SyncBatch(ctx, ids)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	})
	return cmd
}

func newEmailCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "email <person-id> <address>",
		Short: "Change a person's email, merging or opening conflicts as needed",
		Args:  cobra.ExactArgs(2),
	}
	cmd.RunE = o.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
		personID, err := id.ParsePersonID(args[0])
		if err != nil {
			return err
		}
		change, err := a.Sync.ChangeEmail(ctx, personID, args[1], requestcontext.Actor(ctx))
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), handler.FromEmailChange(change))
	})
	return cmd
}
