package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/psinetreject/card-scanner/internal/config"
	"github.com/psinetreject/card-scanner/internal/localstore"
	"github.com/psinetreject/card-scanner/internal/store"
	"github.com/psinetreject/card-scanner/internal/syncclient"
)

// withClient opens the local store and hands fn a sync client bound to it.
func withClient(cmd *cobra.Command, ctx *commandContext, fn func(context.Context, *syncclient.Client, *localstore.Store) error) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	local, err := localstore.Open(cmd.Context(), cfg.LocalDBPath)
	if err != nil {
		return err
	}
	defer local.Close()
	client := syncclient.New(syncclient.Options{
		Store:     local,
		Transport: syncclient.NewHTTPTransport(cfg.AuthorityURL, nil),
		Logger:    ctx.log(),
		DeviceID:  deviceIDFor(cfg),
	})
	return fn(cmd.Context(), client, local)
}

func deviceIDFor(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.DeviceID); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return "cli-" + host
	}
	return "cli"
}

func newSyncCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push queued outboxes to the authority and pull the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, ctx, func(c context.Context, client *syncclient.Client, _ *localstore.Store) error {
				report, err := client.Sync(c)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), report)
				}
				return printReport(cmd, report)
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")

	cmd.AddCommand(newSyncLoginCommand(ctx))
	cmd.AddCommand(newSyncGuestCommand(ctx))
	cmd.AddCommand(&cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, ctx, func(c context.Context, client *syncclient.Client, _ *localstore.Store) error {
				return client.Logout(c)
			})
		},
	})
	cmd.AddCommand(newSyncStatusCommand(ctx))
	cmd.AddCommand(&cobra.Command{
		Use:   "retry",
		Short: "Requeue every failed outbox item",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, ctx, func(c context.Context, client *syncclient.Client, _ *localstore.Store) error {
				n, err := client.Retry(c)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d item(s)\n", n)
				return err
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "recover",
		Short: "Replace the local catalog with the latest snapshot bundle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, ctx, func(c context.Context, client *syncclient.Client, _ *localstore.Store) error {
				bundle, err := client.RecoverFromSnapshot(c)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Recovered snapshot %s: %d cards, %d prints, %d features\n",
					bundle.ExportedAt.Format("2006-01-02 15:04:05"), len(bundle.Cards), len(bundle.Prints), len(bundle.ImageFeatures))
				return err
			})
		},
	})
	cmd.AddCommand(newObserveCommand(ctx))
	cmd.AddCommand(newDraftCommand(ctx))
	return cmd
}

func newSyncLoginCommand(ctx *commandContext) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the authority",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv(config.EnvPrefix + "_PASSWORD")
			}
			if username == "" || password == "" {
				return errors.New("--username and --password (or CARDSCAN_PASSWORD) are required")
			}
			return withClient(cmd, ctx, func(c context.Context, client *syncclient.Client, _ *localstore.Store) error {
				sess, err := client.Login(c, username, password)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", sess.UserName, sess.Role)
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "Account name")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Account password")
	return cmd
}

func newSyncGuestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "guest",
		Short: "Start a read-only guest session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, ctx, func(c context.Context, client *syncclient.Client, _ *localstore.Store) error {
				sess, err := client.Guest(c)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Guest session %s\n", sess.UserID)
				return err
			})
		},
	}
}

type statusOutput struct {
	SignedIn      bool                     `json:"signedIn"`
	UserName      string                   `json:"userName,omitempty"`
	Role          string                   `json:"role,omitempty"`
	SyncState     store.SyncState          `json:"syncState"`
	Outbox        localstore.OutboxCounts  `json:"outbox"`
	DraftStatuses []store.DraftStatusCache `json:"draftStatuses"`
}

func newSyncStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show session, pull cursor, outbox and draft status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, ctx, func(c context.Context, _ *syncclient.Client, local *localstore.Store) error {
				var out statusOutput
				sess, ok, err := local.Session(c)
				if err != nil {
					return err
				}
				out.SignedIn, out.UserName, out.Role = ok, sess.UserName, sess.Role
				if out.SyncState, err = local.SyncState(c); err != nil {
					return err
				}
				if out.Outbox, err = local.OutboxCounts(c); err != nil {
					return err
				}
				if out.DraftStatuses, err = local.DraftStatuses(c); err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), out)
				}
				return printStatus(cmd, out)
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")
	return cmd
}

func newObserveCommand(ctx *commandContext) *cobra.Command {
	var (
		ob    store.OutboxObservation
		value string
	)
	cmd := &cobra.Command{
		Use:   "observe",
		Short: "Queue a field observation read from a scan",
		RunE: func(cmd *cobra.Command, args []string) error {
			ob.Value = parseValue(value)
			return withClient(cmd, ctx, func(c context.Context, client *syncclient.Client, _ *localstore.Store) error {
				queued, err := client.QueueObservation(c, ob)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Queued observation %s\n", queued.LocalObservationID)
				return err
			})
		},
	}
	cmd.Flags().StringVar((*string)(&ob.TargetType), "target-type", string(store.TargetCard), "card or print")
	cmd.Flags().StringVar(&ob.TargetID, "target", "", "Target card or print id")
	cmd.Flags().StringVar(&ob.FieldPath, "field", "", "Field path, e.g. cards.name")
	cmd.Flags().StringVar(&value, "value", "", "Observed value")
	cmd.Flags().Float64Var(&ob.OCRConfidence, "ocr-confidence", 0, "OCR confidence in [0,1]")
	cmd.Flags().Float64Var(&ob.CaptureQuality, "capture-quality", 0, "Capture quality in [0,1]")
	_ = cmd.MarkFlagRequired("target")
	_ = cmd.MarkFlagRequired("field")
	return cmd
}

func newDraftCommand(ctx *commandContext) *cobra.Command {
	var (
		d       store.OutboxDraft
		payload map[string]string
	)
	cmd := &cobra.Command{
		Use:   "draft",
		Short: "Queue a draft for a card or print missing from the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(payload) == 0 {
				return errors.New("at least one --set key=value is required")
			}
			d.ProposedPayload = make(map[string]any, len(payload))
			for key, raw := range payload {
				d.ProposedPayload[key] = parseValue(raw)
			}
			return withClient(cmd, ctx, func(c context.Context, client *syncclient.Client, _ *localstore.Store) error {
				queued, err := client.QueueDraft(c, d)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Queued draft %s\n", queued.LocalDraftID)
				return err
			})
		},
	}
	cmd.Flags().StringVar((*string)(&d.TargetType), "target-type", string(store.TargetUnknown), "card, print or unknown")
	cmd.Flags().StringVar(&d.TargetID, "target", "", "Existing card id for print drafts")
	cmd.Flags().StringToStringVar(&payload, "set", nil, "Proposed field, e.g. --set name=Sangan --set atk=1000")
	return cmd
}

// parseValue keeps whole numbers numeric so stat fields validate.
func parseValue(raw string) any {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	return raw
}

func printReport(cmd *cobra.Command, report syncclient.Report) error {
	rows := [][]string{
		batchRow("Proposals", report.Proposals),
		batchRow("Observations", report.Observations),
		batchRow("Drafts", report.Drafts),
	}
	out := cmd.OutOrStdout()
	if _, err := fmt.Fprintln(out, renderTable(
		[]string{"Outbox", "Sent", "Failed", "Skipped"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
	)); err != nil {
		return err
	}
	if report.SyncState != nil {
		_, err := fmt.Fprintf(out, "Pulled catalog at cards version %d\n", report.SyncState.LastCardsVersion)
		return err
	}
	return nil
}

func batchRow(name string, b syncclient.BatchReport) []string {
	return []string{name, strconv.Itoa(b.Sent), strconv.Itoa(b.Failed), strconv.Itoa(b.Skipped)}
}

func printStatus(cmd *cobra.Command, status statusOutput) error {
	out := cmd.OutOrStdout()
	if status.SignedIn {
		fmt.Fprintf(out, "Signed in as %s (%s)\n", status.UserName, status.Role)
	} else {
		fmt.Fprintln(out, "Not signed in")
	}
	if status.SyncState.LastSyncAt != nil {
		fmt.Fprintf(out, "Last sync %s, cards version %d\n",
			status.SyncState.LastSyncAt.Format("2006-01-02 15:04:05"), status.SyncState.LastCardsVersion)
	} else {
		fmt.Fprintln(out, "Never synced")
	}

	statuses := []store.OutboxStatus{store.OutboxQueued, store.OutboxSent, store.OutboxFailed}
	rows := [][]string{
		countRow("Proposals", status.Outbox.Proposals, statuses),
		countRow("Observations", status.Outbox.Observations, statuses),
		countRow("Drafts", status.Outbox.Drafts, statuses),
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Outbox", "Queued", "Sent", "Failed"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
	))

	if len(status.DraftStatuses) == 0 {
		return nil
	}
	draftRows := make([][]string, 0, len(status.DraftStatuses))
	for _, d := range status.DraftStatuses {
		draftRows = append(draftRows, []string{d.DraftID, string(d.Status), d.UpdatedAt.Format("2006-01-02 15:04"), d.ReviewNotes})
	}
	_, err := fmt.Fprintln(out, renderTable([]string{"Draft", "Status", "Updated", "Notes"}, draftRows, nil))
	return err
}

func countRow(name string, counts map[store.OutboxStatus]int, statuses []store.OutboxStatus) []string {
	row := []string{name}
	for _, s := range statuses {
		row = append(row, strconv.Itoa(counts[s]))
	}
	return row
}
