package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ajramos/ebbsync/internal/codec"
	"github.com/ajramos/ebbsync/internal/config"
	"github.com/ajramos/ebbsync/internal/db"
	"github.com/ajramos/ebbsync/internal/gmail"
	"github.com/ajramos/ebbsync/internal/model"
	"github.com/ajramos/ebbsync/internal/reconcile"
	"github.com/ajramos/ebbsync/internal/services"
	"github.com/ajramos/ebbsync/internal/version"
	"github.com/ajramos/ebbsync/pkg/auth"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
)

// withApp opens the app for the duration of fn
func withApp(cmd *cobra.Command, opts *rootOptions, override func(*config.Config), fn func(a *app) error) error {
	a, err := openApp(cmd.Context(), getConfigPath(opts.configPath), override)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// newImportTokenCmd stores an OAuth token JSON produced by another tool
func newImportTokenCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import-token <token.json>",
		Short: "Store an existing OAuth token for Gmail access",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(expandPath(args[0]))
			if err != nil {
				return fmt.Errorf("read token: %w", err)
			}
			var token oauth2.Token
			if err := json.Unmarshal(data, &token); err != nil {
				return fmt.Errorf("parse token: %w", err)
			}
			return withApp(cmd, opts, nil, func(a *app) error {
				session, err := a.requireSession()
				if err != nil {
					return err
				}
				if err := session.Import(&token); err != nil {
					return err
				}
				email, err := a.client.ActiveAccountEmail(cmd.Context())
				if err != nil {
					fmt.Fprintln(cmd.OutOrStdout(), "Token stored.")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Token stored for %s.\n", email)
				return nil
			})
		},
	}
}

// newLLMKeyCmd stores or removes the LLM provider key in the keyring
func newLLMKeyCmd(opts *rootOptions) *cobra.Command {
	var remove bool
	cmd := &cobra.Command{
		Use:   "llm-key [key]",
		Short: "Store the LLM API key in the system keyring (reads stdin when no key is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(getConfigPath(opts.configPath))
			if err != nil {
				return err
			}
			secrets, err := openSecretStore(cfg.Dir)
			if err != nil {
				return err
			}
			if remove {
				if err := secrets.DeleteSecret(auth.LLMAPIKeySecret); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "LLM key removed.")
				return nil
			}

			key := ""
			if len(args) == 1 {
				key = args[0]
			} else {
				data, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 4096))
				if err != nil {
					return fmt.Errorf("read key: %w", err)
				}
				key = string(data)
			}
			if err := secrets.SaveSecret(auth.LLMAPIKeySecret, strings.TrimSpace(key)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "LLM key stored.")
			if !cfg.UseKeyring {
				fmt.Fprintln(cmd.OutOrStdout(), "Set use_keyring: true (or EBB_USE_KEYRING=true) so ebbsync reads it.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&remove, "delete", false, "Remove the stored key instead")
	return cmd
}

func newLogoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored OAuth token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, nil, func(a *app) error {
				session, err := a.requireSession()
				if err != nil {
					return err
				}
				if err := session.Logout(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
				return nil
			})
		},
	}
}

func newSyncCmd(opts *rootOptions) *cobra.Command {
	var (
		count    int
		strategy string
		labels   []string
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch recent threads into the local cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			override := func(cfg *config.Config) {
				if cmd.Flags().Changed("count") {
					cfg.Sync.Count = count
				}
				if strategy != "" {
					cfg.Sync.Strategy = strategy
				}
			}
			return withApp(cmd, opts, override, func(a *app) error {
				if len(labels) > 0 {
					ids, err := a.labels.ResolveLabelIDs(cmd.Context(), labels)
					if err != nil {
						return err
					}
					a.sync.SetLabelFilter(ids)
				}
				// Taken before fetching so changes made during the sync show up later
				checkpoint := ""
				if p, err := a.client.GetProfile(cmd.Context()); err != nil {
					a.logger.Debug("history checkpoint unavailable", "error", err)
				} else {
					checkpoint = p.HistoryID
				}

				before := len(a.sync.Snapshot().Threads)
				err := a.sync.FetchRecent(cmd.Context(), a.cfg.Sync.Count)
				snap := a.sync.Snapshot()
				if err != nil {
					if snap.ErrorMessage != "" {
						return errors.New(snap.ErrorMessage)
					}
					return err
				}
				if checkpoint != "" {
					if err := a.state.Set(cmd.Context(), db.StateHistoryID, checkpoint); err != nil {
						a.logger.Warn("persist history checkpoint", "error", err)
					}
				}
				if snap.ErrorMessage != "" {
					fmt.Fprintln(cmd.ErrOrStderr(), "Warning:", snap.ErrorMessage)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d threads cached (%d before)\n", len(snap.Threads), before)
				printThreads(cmd.OutOrStdout(), snap.Threads, a.cfg.Sync.Count)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 10, "Number of new or changed threads to fetch")
	cmd.Flags().StringVar(&strategy, "strategy", "", "Fetch strategy: incremental or accumulate (default from config)")
	cmd.Flags().StringArrayVar(&labels, "label", nil, "Only sync threads with this label name or id (repeatable)")
	return cmd
}

// newChangesCmd lists threads Gmail reports as changed since the last sync
func newChangesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "changes",
		Short: "List threads changed in Gmail since the last sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, nil, func(a *app) error {
				since, ok, err := a.state.Get(cmd.Context(), db.StateHistoryID)
				if err != nil {
					return err
				}
				if !ok || since == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "No history checkpoint. Run 'ebbsync sync' first.")
					return nil
				}
				changes, err := reconcile.ChangedSince(cmd.Context(), a.client, since)
				if errors.Is(err, reconcile.ErrHistoryExpired) {
					return fmt.Errorf("%w; run 'ebbsync sync' to take a new one", err)
				}
				if err != nil {
					return errors.New(gmail.UserMessage(err))
				}
				if len(changes.ThreadIDs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No changes since the last sync.")
					return nil
				}

				cached := make(map[string]struct{})
				for _, t := range a.sync.Snapshot().Threads {
					cached[t.ID] = struct{}{}
				}
				for _, id := range changes.ThreadIDs {
					state := "new"
					if _, ok := cached[id]; ok {
						state = "cached"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", fitWidth(id, idWidth), state)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d threads changed, %d messages deleted\n",
					len(changes.ThreadIDs), len(changes.DeletedMessageIDs))
				return nil
			})
		},
	}
}

func newThreadsCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "List cached threads, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, nil, func(a *app) error {
				snap := a.sync.Snapshot()
				if len(snap.Threads) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No cached threads. Run 'ebbsync sync' first.")
					return nil
				}
				printThreads(cmd.OutOrStdout(), snap.Threads, limit)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show at most this many threads (0 shows all)")
	return cmd
}

func newShowCmd(opts *rootOptions) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "show <thread-id>",
		Short: "Print a cached thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, nil, func(a *app) error {
				if refresh {
					if err := a.sync.RefreshThread(cmd.Context(), args[0]); err != nil {
						return err
					}
				}
				a.sync.SelectThread(args[0])
				th, ok := a.sync.Snapshot().SelectedThread()
				if !ok {
					return fmt.Errorf("thread %s: %w", args[0], services.ErrNotFound)
				}
				printThread(cmd.OutOrStdout(), th)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Refetch the thread from Gmail first")
	return cmd
}

func newSanitizeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sanitize <thread-id>",
		Short: "Clean up message bodies of a thread with the configured LLM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, nil, func(a *app) error {
				if err := a.sync.SanitizeThread(cmd.Context(), args[0]); err != nil {
					if errors.Is(err, services.ErrAIUnavailable) {
						return fmt.Errorf("%w: set llm.enabled in the config or EBB_LLM_ENABLED=true", err)
					}
					return err
				}
				a.sync.SelectThread(args[0])
				if th, ok := a.sync.Snapshot().SelectedThread(); ok {
					printThread(cmd.OutOrStdout(), th)
				}
				return nil
			})
		},
	}
}

func newSendCmd(opts *rootOptions) *cobra.Command {
	var (
		to, cc        []string
		subject, body string
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a new message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			draft := model.ComposeDraft{
				To:      parseRecipients(to),
				Cc:      parseRecipients(cc),
				Subject: subject,
				Body:    body,
			}
			if !draft.CanSend() {
				return services.ErrInvalidDraft
			}
			return withApp(cmd, opts, nil, func(a *app) error {
				if err := a.sync.SendDraft(cmd.Context(), draft); err != nil {
					return sendError(a, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Message sent.")
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&to, "to", nil, "Recipient or address list (repeatable)")
	cmd.Flags().StringArrayVar(&cc, "cc", nil, "Cc recipient or address list (repeatable)")
	cmd.Flags().StringVarP(&subject, "subject", "s", "", "Subject line")
	cmd.Flags().StringVarP(&body, "body", "b", "", "Message body")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newReplyCmd(opts *rootOptions) *cobra.Command {
	var body string
	cmd := &cobra.Command{
		Use:   "reply <thread-id>",
		Short: "Reply to the last message of a cached thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(body) == "" {
				return fmt.Errorf("--body is required: %w", services.ErrInvalidInput)
			}
			return withApp(cmd, opts, nil, func(a *app) error {
				a.sync.SelectThread(args[0])
				if err := a.sync.SendReply(cmd.Context(), body); err != nil {
					return sendError(a, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Reply sent.")
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&body, "body", "b", "", "Reply body")
	return cmd
}

// sendError prefers the user-facing message the service published
func sendError(a *app, err error) error {
	if msg := a.sync.Snapshot().ErrorMessage; msg != "" {
		return errors.New(msg)
	}
	return err
}

func newLabelsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "labels",
		Short: "List mailbox labels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, nil, func(a *app) error {
				labels, err := a.labels.ListLabels(cmd.Context())
				if err != nil {
					return err
				}
				printLabels(cmd.OutOrStdout(), labels)
				return nil
			})
		},
	}
}

func newClearCacheCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-cache",
		Short: "Delete every cached thread",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, nil, func(a *app) error {
				n := len(a.sync.Snapshot().Threads)
				if err := a.sync.ClearCache(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cached threads.\n", n)
				return nil
			})
		},
	}
}

// newInitCmd writes a default config and reports what is still missing
func newInitCmd(opts *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			path := getConfigPath(opts.configPath)
			if _, err := os.Stat(path); err == nil && !force {
				fmt.Fprintf(out, "Configuration file already exists: %s\n", path)
			} else {
				if err := config.DefaultConfig().SaveConfig(path); err != nil {
					return fmt.Errorf("failed to create config file: %w", err)
				}
				fmt.Fprintf(out, "Created configuration file: %s\n", path)
			}

			cfg, err := config.LoadConfig(path)
			if err != nil {
				return err
			}
			if _, err := os.Stat(cfg.Credentials); err != nil {
				fmt.Fprintf(out, "Credentials file missing: %s\n", cfg.Credentials)
				fmt.Fprintln(out, "Create OAuth 2.0 credentials (Desktop application) with the Gmail API enabled")
				fmt.Fprintln(out, "in Google Cloud Console, download the JSON and save it at that path.")
			} else {
				fmt.Fprintf(out, "Credentials file found: %s\n", cfg.Credentials)
			}
			fmt.Fprintln(out, "Next: ebbsync import-token <token.json> && ebbsync sync")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration file")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.GetInfo().Detailed())
		},
	}
}

// parseRecipients accepts flag values that may themselves hold address lists
func parseRecipients(values []string) []model.EmailAddress {
	var out []model.EmailAddress
	for _, v := range values {
		out = append(out, codec.ParseAddressList(v)...)
	}
	return out
}
