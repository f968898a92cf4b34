package main

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/prism/internal/intake"
	"github.com/jonathan/prism/internal/queue"
	"github.com/jonathan/prism/internal/registry"
	"github.com/jonathan/prism/internal/storage"
)

var ingestCommand = &cobra.Command{
	Use:   "ingest <path>",
	Short: "Upload a local file and register it for analysis",
	Long: `Uploads the file to object storage, registers it in the file
registry with its SHA-256 content hash, and optionally enqueues an
analysis job for it.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngestCmd,
}

var (
	ingestScope        string
	ingestInvestmentID string
	ingestUploadedBy   string
	ingestTags         []string
	ingestEnqueue      bool
	ingestJobType      string
	ingestPriority     int
	ingestMaxRetries   int
)

func init() {
	ingestCommand.Flags().StringVar(&ingestScope, "scope", "general", "Key prefix scope, e.g. real_estate")
	ingestCommand.Flags().StringVar(&ingestInvestmentID, "investment", "", "Investment UUID to link")
	ingestCommand.Flags().StringVar(&ingestUploadedBy, "uploaded-by", "", "Uploader identity for the audit log")
	ingestCommand.Flags().StringSliceVar(&ingestTags, "tag", nil, "Tag to attach (repeatable)")
	ingestCommand.Flags().BoolVar(&ingestEnqueue, "enqueue", false, "Enqueue an analysis job after registering")
	ingestCommand.Flags().StringVar(&ingestJobType, "job-type", string(intake.JobDocumentAnalysis), "Job type when --enqueue is set")
	ingestCommand.Flags().IntVar(&ingestPriority, "priority", 0, "Job priority 1-10, lower runs first (default 5)")
	ingestCommand.Flags().IntVar(&ingestMaxRetries, "max-retries", 0, "Retry budget for the job (default 3)")
	rootCmd.AddCommand(ingestCommand)
}

func runIngestCmd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	path := args[0]

	cfg, database, err := connect(ctx)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := database.Migrate(ctx); err != nil {
		return err
	}

	objects, err := buildObjectStore(ctx, cfg)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	filename := filepath.Base(path)
	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	key := storage.ObjectKey(ingestScope, filename, time.Now())
	if err := objects.Put(ctx, key, contentType, data); err != nil {
		return err
	}

	var investmentID *uuid.UUID
	if ingestInvestmentID != "" {
		id, err := uuid.Parse(ingestInvestmentID)
		if err != nil {
			return fmt.Errorf("invalid investment UUID: %w", err)
		}
		investmentID = &id
	}

	size := int64(len(data))
	file, err := registry.New(database).Register(ctx, registry.RegisterInput{
		OriginalFilename: filename,
		StorageBucket:    cfg.S3Bucket,
		StorageKey:       key,
		FileSizeBytes:    &size,
		MIMEType:         contentType,
		ContentHash:      storage.HashContent(data),
		UploadedBy:       ingestUploadedBy,
		SourceDevice:     "cli",
		InvestmentID:     investmentID,
		Tags:             ingestTags,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Registered file %s (%s, %d bytes)\n", file.ID, key, size)

	if ingestEnqueue {
		job, err := queue.New(database).Enqueue(ctx, queue.EnqueueInput{
			FileID:     file.ID,
			JobType:    intake.JobType(ingestJobType),
			Priority:   ingestPriority,
			MaxRetries: ingestMaxRetries,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Enqueued %s job %s\n", job.JobType, job.ID)
	}
	return nil
}
