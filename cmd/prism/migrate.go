package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCommand = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE:  runMigrateCmd,
}

func init() {
	rootCmd.AddCommand(migrateCommand)
}

func runMigrateCmd(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	_, database, err := connect(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		return err
	}
	fmt.Println("Schema is up to date.")
	return nil
}
