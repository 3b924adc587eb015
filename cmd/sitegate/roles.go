package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/alfredjeanlab/sitegate/internal/model"
	"github.com/alfredjeanlab/sitegate/internal/privilege"
	"github.com/alfredjeanlab/sitegate/internal/session"
	"github.com/alfredjeanlab/sitegate/internal/store"
	"github.com/spf13/cobra"
)

// operatorActor is recorded as the performer of offline role changes.
const operatorActor = "operator"

var grantCmd = &cobra.Command{
	Use:     "grant <identity-ref> <email> <tier>",
	Short:   "Assign a privilege tier to an identity",
	Long:    "Assign viewer, editor or admin to an identity. An existing assignment is replaced.",
	GroupID: "admin",
	Args:    cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		st, _, err := openAdminStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		rec, err := grantRole(ctx, st, args[0], args[1], args[2])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), rec)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "granted %s to %s\n", rec.Tier, rec.IdentityRef)
		return nil
	},
}

var revokeRoleCmd = &cobra.Command{
	Use:     "revoke-role <identity-ref>",
	Short:   "Remove an identity's privilege tier",
	GroupID: "admin",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		st, _, err := openAdminStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		ref, err := revokeRole(ctx, st, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "revoked role for %s\n", ref)
		return nil
	},
}

var rolesCmd = &cobra.Command{
	Use:     "roles",
	Short:   "List privilege assignments",
	GroupID: "admin",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		st, _, err := openAdminStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		recs, err := st.ListPrivileges(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), recs)
		}
		printRoles(cmd.OutOrStdout(), recs)
		return nil
	},
}

// grantRole validates the arguments and stores the assignment together
// with its audit entry.
func grantRole(ctx context.Context, st store.Store, rawRef, email, rawTier string) (*model.PrivilegeRecord, error) {
	ref, err := session.ParseIdentityRef(rawRef)
	if err != nil {
		return nil, err
	}
	tier, err := privilege.ParseTier(rawTier)
	if err != nil {
		return nil, err
	}

	rec := &model.PrivilegeRecord{IdentityRef: ref, Email: email, Tier: tier}
	if err := model.ValidatePrivilegeRecord(rec); err != nil {
		return nil, err
	}
	err = st.RunInTransaction(ctx, func(tx store.Store) error {
		prev, err := tx.GetPrivilege(ctx, ref)
		if err != nil {
			return err
		}
		if err := tx.SetPrivilege(ctx, rec); err != nil {
			return err
		}
		details := map[string]any{"identity_ref": ref, "tier": tier}
		if prev != nil {
			details["previous_tier"] = prev.Tier
		}
		return recordAudit(ctx, tx, model.ActionPrivilegeGranted, details)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// revokeRole deletes the assignment for rawRef and audits it.
func revokeRole(ctx context.Context, st store.Store, rawRef string) (string, error) {
	ref, err := session.ParseIdentityRef(rawRef)
	if err != nil {
		return "", err
	}
	err = st.RunInTransaction(ctx, func(tx store.Store) error {
		prev, err := tx.GetPrivilege(ctx, ref)
		if err != nil {
			return err
		}
		if err := tx.DeletePrivilege(ctx, ref); err != nil {
			return err
		}
		details := map[string]any{"identity_ref": ref}
		if prev != nil {
			details["previous_tier"] = prev.Tier
		}
		return recordAudit(ctx, tx, model.ActionPrivilegeRevoked, details)
	})
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("no role assigned to %s", ref)
	}
	return ref, err
}

func recordAudit(ctx context.Context, st store.Store, action string, details any) error {
	raw, err := json.Marshal(details)
	if err != nil {
		return err
	}
	return st.RecordAudit(ctx, &model.AuditEntry{
		Action:      action,
		Details:     raw,
		PerformedBy: operatorActor,
	})
}

func printRoles(w io.Writer, recs []*model.PrivilegeRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "no roles assigned")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "IDENTITY\tEMAIL\tTIER\tSINCE")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.IdentityRef, r.Email, r.Tier, r.CreatedAt.Format(timeLayout))
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d roles\n", len(recs))
}
