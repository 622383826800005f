package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/psinetreject/card-scanner/internal/app"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the application and bundle schema version",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "cardscan %s (schema %d)\n", app.AppVersion, app.SchemaVersion)
			return err
		},
	}
}
