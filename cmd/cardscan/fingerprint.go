package main

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/spf13/cobra"

	"github.com/psinetreject/card-scanner/internal/similarity"
)

type fingerprintOutput struct {
	Path string                 `json:"path"`
	Full similarity.Fingerprint `json:"full"`
	Art  similarity.Fingerprint `json:"art"`
}

func newFingerprintCommand() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:         "fingerprint <image>...",
		Short:       "Compute full-card and art-region fingerprints for images",
		Args:        cobra.MinimumNArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			outputs := make([]fingerprintOutput, 0, len(args))
			for _, path := range args {
				full, art, err := fingerprintFile(path)
				if err != nil {
					return err
				}
				outputs = append(outputs, fingerprintOutput{Path: path, Full: full, Art: art})
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), outputs)
			}
			rows := make([][]string, 0, len(outputs))
			for _, out := range outputs {
				rows = append(rows, []string{out.Path, out.Full.String(), out.Art.String()})
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Image", "Full", "Art"}, rows, nil))
			return err
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")
	return cmd
}

func fingerprintFile(path string) (similarity.Fingerprint, similarity.Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return 0, 0, fmt.Errorf("decode %s: %w", path, err)
	}
	full, art := similarity.RegionHashes(img)
	return full, art, nil
}
