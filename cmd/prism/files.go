package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/prism/internal/intake"
	"github.com/jonathan/prism/internal/registry"
)

var filesCommand = &cobra.Command{
	Use:   "files",
	Short: "Inspect and administer registered files",
}

var filesListCommand = &cobra.Command{
	Use:   "list",
	Short: "List files by status",
	RunE:  runFilesListCmd,
}

var filesGetCommand = &cobra.Command{
	Use:   "get <file-id>",
	Short: "Show one file record",
	Args:  cobra.ExactArgs(1),
	RunE:  runFilesGetCmd,
}

var filesArchiveCommand = &cobra.Command{
	Use:   "archive <file-id>",
	Short: "Archive a file record",
	Long: `Archives a file. Archiving is legal from any status and is the
only removal this layer offers; the object in storage is untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: runFilesArchiveCmd,
}

var filesLinkCommand = &cobra.Command{
	Use:   "link <file-id>",
	Short: "Link a file to an investment and/or document",
	Args:  cobra.ExactArgs(1),
	RunE:  runFilesLinkCmd,
}

var (
	filesListStatus   string
	filesListLimit    int
	filesActor        string
	filesLinkInvest   string
	filesLinkDocument string
)

func init() {
	filesListCommand.Flags().StringVar(&filesListStatus, "status", "pending", "File status to list: pending, processing, completed, failed, archived")
	filesListCommand.Flags().IntVar(&filesListLimit, "limit", 50, "Maximum files to show")
	filesCommand.PersistentFlags().StringVar(&filesActor, "actor", "cli", "Identity recorded in the audit log")
	filesLinkCommand.Flags().StringVar(&filesLinkInvest, "investment", "", "Investment UUID")
	filesLinkCommand.Flags().StringVar(&filesLinkDocument, "document", "", "Document UUID")

	filesCommand.AddCommand(filesListCommand, filesGetCommand, filesArchiveCommand, filesLinkCommand)
	rootCmd.AddCommand(filesCommand)
}

func openRegistry(ctx context.Context) (*registry.Registry, func(), error) {
	_, database, err := connect(ctx)
	if err != nil {
		return nil, nil, err
	}
	return registry.New(database), database.Close, nil
}

func runFilesListCmd(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	reg, closeDB, err := openRegistry(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	status := intake.FileStatus(filesListStatus)
	if !status.Valid() {
		return fmt.Errorf("unknown file status %q", filesListStatus)
	}
	files, err := reg.ListByStatus(ctx, status, filesListLimit)
	if err != nil {
		return err
	}
	return printJSON(files)
}

func runFilesGetCmd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid file UUID: %w", err)
	}

	reg, closeDB, err := openRegistry(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	file, err := reg.Get(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(file)
}

func runFilesArchiveCmd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid file UUID: %w", err)
	}

	reg, closeDB, err := openRegistry(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	file, err := reg.UpdateStatus(ctx, id, intake.FileArchived, filesActor)
	if err != nil {
		return err
	}
	fmt.Printf("Archived file %s (%s)\n", file.ID, file.OriginalFilename)
	return nil
}

func runFilesLinkCmd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid file UUID: %w", err)
	}

	var investmentID, documentID *uuid.UUID
	if filesLinkInvest != "" {
		v, err := uuid.Parse(filesLinkInvest)
		if err != nil {
			return fmt.Errorf("invalid investment UUID: %w", err)
		}
		investmentID = &v
	}
	if filesLinkDocument != "" {
		v, err := uuid.Parse(filesLinkDocument)
		if err != nil {
			return fmt.Errorf("invalid document UUID: %w", err)
		}
		documentID = &v
	}
	if investmentID == nil && documentID == nil {
		return fmt.Errorf("nothing to link: pass --investment and/or --document")
	}

	reg, closeDB, err := openRegistry(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	if err := reg.Link(ctx, id, investmentID, documentID, filesActor); err != nil {
		return err
	}
	fmt.Printf("Linked file %s\n", id)
	return nil
}
