package main

import (
	"context"
	"fmt"
	"time"

	"github.com/alfredjeanlab/sitegate/internal/config"
	"github.com/alfredjeanlab/sitegate/internal/model"
	"github.com/alfredjeanlab/sitegate/internal/session"
	"github.com/alfredjeanlab/sitegate/internal/store"
	"github.com/spf13/cobra"
)

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:     "token",
	Short:   "Issue and revoke session tokens",
	GroupID: "admin",
}

type issuedToken struct {
	IdentityRef string    `json:"identity_ref"`
	SessionID   string    `json:"session_id"`
	ExpiresAt   time.Time `json:"expires_at"`
	Token       string    `json:"token"`
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue <identity-ref>",
	Short: "Mint a session token for an identity",
	Long: `Mint a session token signed with SITEGATE_SESSION_SECRET.

The token only authenticates; what it may do depends on the role assigned
with 'sitegate grant'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		ttl := cfg.SessionTTL
		if tokenTTL > 0 {
			ttl = tokenTTL
		}
		tokens, err := session.NewTokens(cfg.SessionSecret, ttl, nil)
		if err != nil {
			return err
		}
		res, err := issueToken(tokens, args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), res)
		}
		fmt.Fprintln(cmd.OutOrStdout(), res.Token)
		return nil
	},
}

var tokenRevokeCmd = &cobra.Command{
	Use:   "revoke <token>",
	Short: "Sign a session out",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.MemoryStore {
			return errMemoryStore
		}
		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		tokens, err := session.NewTokens(cfg.SessionSecret, cfg.SessionTTL, st)
		if err != nil {
			return err
		}
		id, err := revokeToken(ctx, st, tokens, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "revoked session %s for %s\n", id.SessionID, id.Ref)
		return nil
	},
}

func init() {
	tokenIssueCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default SITEGATE_SESSION_TTL)")

	tokenCmd.AddCommand(tokenIssueCmd)
	tokenCmd.AddCommand(tokenRevokeCmd)
}

func issueToken(tokens *session.Tokens, rawRef string) (*issuedToken, error) {
	ref, err := session.ParseIdentityRef(rawRef)
	if err != nil {
		return nil, err
	}
	tok, id, err := tokens.Issue(ref)
	if err != nil {
		return nil, err
	}
	return &issuedToken{IdentityRef: id.Ref, SessionID: id.SessionID, ExpiresAt: id.ExpiresAt, Token: tok}, nil
}

// revokeToken verifies raw and records its session as revoked. A token
// that is already revoked or expired is an error.
func revokeToken(ctx context.Context, st store.Store, tokens *session.Tokens, raw string) (*model.Identity, error) {
	id, err := tokens.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	if err := tokens.Revoke(ctx, id); err != nil {
		return nil, err
	}
	if err := recordAudit(ctx, st, model.ActionSessionRevoked, map[string]any{
		"identity_ref": id.Ref,
		"session_id":   id.SessionID,
	}); err != nil {
		return nil, err
	}
	return id, nil
}
