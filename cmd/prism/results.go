package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var resultsCommand = &cobra.Command{
	Use:   "results",
	Short: "Inspect analysis results",
}

var resultsGetCommand = &cobra.Command{
	Use:   "get <result-id>",
	Short: "Show one analysis result",
	Args:  cobra.ExactArgs(1),
	RunE:  runResultsGetCmd,
}

var resultsForFileCommand = &cobra.Command{
	Use:   "for-file <file-id>",
	Short: "Show the latest analysis result for a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runResultsForFileCmd,
}

func init() {
	resultsCommand.AddCommand(resultsGetCommand, resultsForFileCommand)
	rootCmd.AddCommand(resultsCommand)
}

func runResultsGetCmd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid result UUID: %w", err)
	}

	_, database, err := connect(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	result, err := database.GetResult(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runResultsForFileCmd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid file UUID: %w", err)
	}

	_, database, err := connect(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	result, err := database.GetResultForFile(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(result)
}
