package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/psinetreject/card-scanner/internal/localstore"
	"github.com/psinetreject/card-scanner/internal/matcher"
	"github.com/psinetreject/card-scanner/internal/similarity"
)

type matchFlags struct {
	image   string
	full    string
	art     string
	name    string
	setCode string
	json    bool
}

func newMatchCommand(ctx *commandContext) *cobra.Command {
	var flags matchFlags
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Identify a card against the locally cached catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			query, err := flags.query()
			if err != nil {
				return err
			}

			local, err := localstore.Open(cmd.Context(), cfg.LocalDBPath)
			if err != nil {
				return err
			}
			defer local.Close()
			catalog, err := local.Catalog(cmd.Context())
			if err != nil {
				return err
			}
			if len(catalog.Cards) == 0 {
				return fmt.Errorf("local catalog at %s is empty, run cardscan sync first", cfg.LocalDBPath)
			}

			snapshot := matcher.NewSnapshot(catalog.Cards, catalog.Prints, catalog.Aliases, catalog.Features)
			result := snapshot.Match(query)
			if flags.json {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			return printMatch(cmd, result)
		},
	}
	cmd.Flags().StringVar(&flags.image, "image", "", "Card image to fingerprint")
	cmd.Flags().StringVar(&flags.full, "full", "", "Full-card fingerprint (16 hex digits)")
	cmd.Flags().StringVar(&flags.art, "art", "", "Art-region fingerprint (16 hex digits)")
	cmd.Flags().StringVar(&flags.name, "name", "", "Card name read from the scan")
	cmd.Flags().StringVar(&flags.setCode, "set-code", "", "Set code read from the scan")
	cmd.Flags().BoolVar(&flags.json, "json", false, "Emit JSON")
	return cmd
}

func (f matchFlags) query() (matcher.Query, error) {
	q := matcher.Query{Name: strings.TrimSpace(f.name), SetCode: strings.TrimSpace(f.setCode)}
	if f.image != "" {
		full, art, err := fingerprintFile(f.image)
		if err != nil {
			return q, err
		}
		q.Full, q.Art = &full, &art
	}
	if f.full != "" {
		fp, err := similarity.ParseFingerprint(f.full)
		if err != nil {
			return q, fmt.Errorf("--full: %w", err)
		}
		q.Full = &fp
	}
	if f.art != "" {
		fp, err := similarity.ParseFingerprint(f.art)
		if err != nil {
			return q, fmt.Errorf("--art: %w", err)
		}
		q.Art = &fp
	}
	if q.Full == nil && q.Art == nil && q.Name == "" && q.SetCode == "" {
		return q, fmt.Errorf("nothing to match: pass --image, --full, --art, --name or --set-code")
	}
	return q, nil
}

func printMatch(cmd *cobra.Command, result matcher.Result) error {
	out := cmd.OutOrStdout()
	if result.Top == nil {
		_, err := fmt.Fprintln(out, "No candidates")
		return err
	}
	candidates := append([]matcher.Candidate{*result.Top}, result.Alternatives...)
	rows := make([][]string, 0, len(candidates))
	for i, c := range candidates {
		setCode := ""
		if c.Print != nil {
			setCode = c.Print.SetCode
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			c.Card.ID,
			c.Card.Name,
			setCode,
			strconv.FormatFloat(c.Score, 'f', 3, 64),
			string(c.Reason),
		})
	}
	if _, err := fmt.Fprintln(out, renderTable(
		[]string{"#", "Card", "Name", "Set Code", "Score", "Reason"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	)); err != nil {
		return err
	}
	if result.NeedsConfirmation {
		_, err := fmt.Fprintln(out, "Low confidence: confirm the top candidate before saving")
		return err
	}
	return nil
}
