package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/annflow/internal/config"
	"github.com/3leaps/annflow/internal/observability"
	"github.com/3leaps/annflow/pkg/jobs"
	"github.com/3leaps/annflow/pkg/provider"
	"github.com/3leaps/annflow/pkg/queue"
	"github.com/3leaps/annflow/pkg/transfer"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Create and inspect annotation jobs",
}

var jobCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Upload an input file and request annotation",
	Long: `Upload a local input file to the inputs bucket, write a PENDING job
record and publish the job request.

Example:
  annflow job create --user U1 --file sample.vcf`,
	RunE: runJobCreate,
}

var jobGetCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Print one job record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobGet,
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's jobs",
	Long: `List every job of a user, newest first.

Examples:
  annflow job list --user U1
  annflow job list --user U1 --json`,
	RunE: runJobList,
}

func init() {
	rootCmd.AddCommand(jobCmd)
	jobCmd.AddCommand(jobCreateCmd)
	jobCmd.AddCommand(jobGetCmd)
	jobCmd.AddCommand(jobListCmd)

	jobCreateCmd.Flags().String("user", "", "Owning user id (required)")
	jobCreateCmd.Flags().String("file", "", "Local input file (required)")
	jobCreateCmd.Flags().String("email", "", "Notification address stored on the job")
	_ = jobCreateCmd.MarkFlagRequired("user")
	_ = jobCreateCmd.MarkFlagRequired("file")

	jobListCmd.Flags().String("user", "", "User id (required)")
	jobListCmd.Flags().Bool("json", false, "Output as JSON")
	_ = jobListCmd.MarkFlagRequired("user")
}

func runJobCreate(cmd *cobra.Command, _ []string) error {
	if err := validateRole(config.RoleJobCreate); err != nil {
		return err
	}
	user, _ := cmd.Flags().GetString("user")
	file, _ := cmd.Flags().GetString("file")
	email, _ := cmd.Flags().GetString("email")

	if st, err := os.Stat(file); err != nil || st.IsDir() {
		return exitError(foundry.ExitFileNotFound, "Input file not found", fmt.Errorf("%s", file))
	}

	ctx := cmd.Context()
	d := newDeps(appConfig)
	defer d.Close()

	store, err := d.store(ctx)
	if err != nil {
		return serviceError("Failed to open job store", err)
	}
	buckets, err := d.buckets(ctx)
	if err != nil {
		return serviceError("Failed to open storage", err)
	}
	requests, err := d.publisher(ctx, appConfig.Topics.JobRequests, appConfig.Queues.JobRequests)
	if err != nil {
		return serviceError("Failed to open job request channel", err)
	}

	rec, err := createJob(ctx, newJob{
		Store:    store,
		Buckets:  buckets,
		Requests: requests,
		Bucket:   appConfig.Buckets.Inputs,
		Account:  appConfig.Workspace.Account,
		User:     user,
		Email:    email,
		File:     file,
		Now:      time.Now(),
	})
	if err != nil {
		return serviceError("Failed to create job", err)
	}
	return printJSON(os.Stdout, rec)
}

type newJob struct {
	Store    jobs.Store
	Buckets  *provider.Registry
	Requests queue.Publisher

	Bucket  string
	Account string
	User    string
	Email   string
	File    string
	Now     time.Time
}

// createJob uploads the input, stores the PENDING record and publishes the
// request, in that order, so a request never references a missing record.
func createJob(ctx context.Context, j newJob) (*jobs.Record, error) {
	key := jobs.InputKey{
		Account:  j.Account,
		User:     j.User,
		JobID:    uuid.NewString(),
		FileName: filepath.Base(j.File),
	}
	p, err := j.Buckets.Get(ctx, j.Bucket)
	if err != nil {
		return nil, err
	}
	if _, err := transfer.Upload(ctx, p, j.File, key.String()); err != nil {
		return nil, fmt.Errorf("upload input: %w", err)
	}

	rec := &jobs.Record{
		JobID:         key.JobID,
		UserID:        j.User,
		UserEmail:     j.Email,
		InputFileName: key.FileName,
		InputsBucket:  j.Bucket,
		InputKey:      key.String(),
		SubmitTime:    j.Now.Unix(),
		Status:        jobs.StatusPending,
	}
	if err := j.Store.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("store job: %w", err)
	}

	payload, err := queue.Encode(queue.JobRequest{
		JobID:         rec.JobID,
		UserID:        rec.UserID,
		InputFileName: rec.InputFileName,
		InputsBucket:  rec.InputsBucket,
		InputKey:      rec.InputKey,
		Status:        rec.Status,
	})
	if err != nil {
		return nil, err
	}
	if err := j.Requests.Publish(ctx, payload, rec.JobID); err != nil {
		return nil, fmt.Errorf("publish job request: %w", err)
	}
	observability.CLILogger.Info("Job created",
		zap.String("job_id", rec.JobID),
		zap.String("input_key", rec.InputKey))
	return rec, nil
}

func runJobGet(cmd *cobra.Command, args []string) error {
	if err := validateRole(config.RoleJobRead); err != nil {
		return err
	}
	ctx := cmd.Context()
	d := newDeps(appConfig)
	defer d.Close()

	store, err := d.store(ctx)
	if err != nil {
		return serviceError("Failed to open job store", err)
	}
	rec, err := store.Get(ctx, args[0])
	if jobs.IsNotFound(err) {
		return exitError(foundry.ExitFileNotFound, "Job not found", err)
	}
	if err != nil {
		return serviceError("Failed to read job", err)
	}
	return printJSON(os.Stdout, rec)
}

func runJobList(cmd *cobra.Command, _ []string) error {
	if err := validateRole(config.RoleJobRead); err != nil {
		return err
	}
	user, _ := cmd.Flags().GetString("user")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	ctx := cmd.Context()
	d := newDeps(appConfig)
	defer d.Close()

	store, err := d.store(ctx)
	if err != nil {
		return serviceError("Failed to open job store", err)
	}
	recs, err := store.QueryByUser(ctx, user)
	if err != nil {
		return serviceError("Failed to list jobs", err)
	}
	if len(recs) == 0 {
		_, _ = fmt.Fprintln(os.Stderr, "No jobs found")
		return nil
	}
	if jsonOutput {
		return printJSON(os.Stdout, recs)
	}
	return printJobTable(os.Stdout, recs)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printJobTable(out io.Writer, recs []jobs.Record) error {
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Job ID", "Status", "Submitted", "Input", "Archived", "Restore"})
	for _, r := range recs {
		archived := "-"
		if r.ArchiveID != "" {
			archived = "yes"
		}
		restore := strings.TrimSpace(r.RestoreMessage)
		if restore == "" {
			restore = "-"
		}
		tw.AppendRow(table.Row{
			r.JobID,
			r.Status,
			time.Unix(r.SubmitTime, 0).UTC().Format(time.RFC3339),
			r.InputFileName,
			archived,
			restore,
		})
	}
	tw.Render()
	return nil
}
