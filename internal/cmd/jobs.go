package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/signagekit/transferd/pkg/jobstore"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage transfer jobs",
	Long: `Inspect and manage job records in the on-disk store.

The CLI reads the same store the server writes, so these commands work
whether or not the server is running:

- stable job ids
- predictable on-disk locations
- optional JSON output for machine parsing`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List transfer jobs, newest first",
	RunE:  runJobsList,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job_id>",
	Short: "Show one job record",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsRmCmd = &cobra.Command{
	Use:   "rm <job_id>",
	Short: "Remove a job record",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsRm,
}

var jobsGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Garbage collect old terminal job records",
	RunE:  runJobsGC,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsRmCmd)
	jobsCmd.AddCommand(jobsGCCmd)

	jobsListCmd.Flags().Bool("json", false, "Output as JSON")
	jobsStatusCmd.Flags().Bool("json", false, "Output as JSON")
	jobsGCCmd.Flags().String("max-age", "168h", "Delete terminal jobs older than this duration")
	jobsGCCmd.Flags().Bool("dry-run", false, "Show how many jobs would be deleted")
}

func openStore(cmd *cobra.Command) (*jobstore.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	store, err := jobstore.NewStore(cfg.Store.Root)
	if err != nil {
		return nil, exitError(foundry.ExitFileNotFound, "Failed to open job store", err)
	}
	return store, nil
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	jobs, err := store.List()
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to list jobs", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(jobs)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "JOB ID\tKIND\tSTATUS\tPROGRESS\tCREATED\tDETAIL")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.1f%%\t%s\t%s\n",
			j.ID, j.Kind, j.Status, j.Progress,
			j.CreatedAt.Local().Format(time.RFC3339),
			jobDetail(j))
	}
	return w.Flush()
}

func jobDetail(j jobstore.Job) string {
	switch {
	case j.Error != "":
		return j.Error
	case j.ResultPath != "":
		return j.ResultPath
	case j.Kind == jobstore.KindUpload:
		return fmt.Sprintf("%s (%d/%d chunks)", j.Filename, j.ReceivedChunks, j.TotalChunks)
	default:
		return j.SourceURL
	}
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	job, err := store.Get(args[0])
	if err != nil {
		return exitError(foundry.ExitFileNotFound, "Job not found", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	}

	fmt.Printf("Job:      %s\n", job.ID)
	fmt.Printf("Kind:     %s\n", job.Kind)
	fmt.Printf("Status:   %s\n", job.Status)
	fmt.Printf("Progress: %.1f%%\n", job.Progress)
	fmt.Printf("Created:  %s\n", job.CreatedAt.Local().Format(time.RFC3339))
	if job.CompletedAt != nil {
		fmt.Printf("Finished: %s\n", job.CompletedAt.Local().Format(time.RFC3339))
	}
	if job.ResultPath != "" {
		fmt.Printf("Result:   %s\n", job.ResultPath)
	}
	if job.Error != "" {
		fmt.Printf("Error:    %s\n", job.Error)
	}
	return nil
}

func runJobsRm(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	if err := store.Delete(args[0]); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to remove job", err)
	}
	fmt.Printf("Removed job %s\n", args[0])
	return nil
}

func runJobsGC(cmd *cobra.Command, _ []string) error {
	maxAgeRaw, _ := cmd.Flags().GetString("max-age")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	maxAge, err := time.ParseDuration(maxAgeRaw)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --max-age value", err)
	}

	store, err := openStore(cmd)
	if err != nil {
		return err
	}

	if dryRun {
		jobs, err := store.List()
		if err != nil {
			return exitError(foundry.ExitFileReadError, "Failed to list jobs", err)
		}
		cutoff := time.Now().Add(-maxAge)
		count := 0
		for _, j := range jobs {
			if j.Status.Terminal() && j.CompletedAt != nil && !j.CompletedAt.After(cutoff) {
				count++
			}
		}
		fmt.Printf("Would delete %d job(s) older than %s\n", count, maxAge)
		return nil
	}

	removed, err := store.PruneOlderThan(maxAge)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to prune jobs", err)
	}
	fmt.Printf("Deleted %d job(s) older than %s\n", removed, maxAge)
	return nil
}
