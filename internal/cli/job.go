package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// NewJobCmd создаёт группу команд для управления jobs.
func NewJobCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Manage content generation jobs",
	}

	cmd.AddCommand(
		newJobSubmitCmd(clientFn, outputFn),
		newJobListCmd(clientFn, outputFn),
		newJobShowCmd(clientFn, outputFn),
		newJobWatchCmd(clientFn, outputFn),
		newJobCancelCmd(clientFn, outputFn),
		newJobArtifactCmd(clientFn, outputFn),
	)

	return cmd
}

func newJobSubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var platform string
	var audience string
	var duration int
	var tone string

	cmd := &cobra.Command{
		Use:   "submit TOPIC",
		Short: "Submit a new content generation job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			job, err := client.SubmitJob(CreateJobRequest{
				Platform:    platform,
				Audience:    audience,
				Topic:       args[0],
				DurationSec: duration,
				Tone:        tone,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Job submitted: %s", job.ID))
			out.Print(
				[]string{"ID", "PLATFORM", "TOPIC", "STATUS", "CREATED"},
				[][]string{{job.ID, job.Platform, job.Topic, job.Status, job.CreatedAt}},
				job,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&platform, "platform", "", "Target platform (youtube_shorts, tiktok, instagram_reels)")
	cmd.Flags().StringVar(&audience, "audience", "", "Target audience")
	cmd.Flags().IntVar(&duration, "duration", 30, "Desired duration in seconds")
	cmd.Flags().StringVar(&tone, "tone", "", "Tone of voice")
	cmd.MarkFlagRequired("platform")

	return cmd
}

func newJobListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			jobs, err := client.ListJobs(ListJobsOpts{
				Status: status,
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			headers := []string{"ID", "PLATFORM", "TOPIC", "STATUS", "CREATED"}
			rows := make([][]string, len(jobs))
			for i, j := range jobs {
				rows[i] = []string{j.ID, j.Platform, j.Topic, j.Status, j.CreatedAt}
			}

			out.Print(headers, rows, jobs)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (queued, running, completed, failed, cancelled)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newJobShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show job state including all stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			job, err := client.GetJob(args[0])
			if err != nil {
				return err
			}

			printJobDetail(out, job)
			return nil
		},
	}
}

func newJobWatchCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch ID",
		Short: "Poll job state until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			for {
				job, err := client.GetJob(args[0])
				if err != nil {
					return err
				}

				out.Success(fmt.Sprintf("%s  progress %.0f%%", job.Status, job.Progress*100))

				if isTerminal(job.Status) {
					printJobDetail(out, job)
					return nil
				}

				time.Sleep(interval)
			}
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Polling interval")

	return cmd
}

func newJobCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Request cooperative cancellation of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			job, err := client.CancelJob(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Cancellation requested: %s", job.ID))
			return nil
		},
	}
}

func newJobArtifactCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "artifact ID",
		Short: "Print final artifact reference of a completed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			artifact, err := client.GetArtifact(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"JOB_ID", "FINAL_ARTIFACT"},
				[][]string{{artifact.JobID, artifact.FinalArtifact}},
				artifact,
			)
			return nil
		},
	}
}

// printJobDetail выводит job и таблицу его stages.
func printJobDetail(out *Output, job *JobDetail) {
	headers := []string{"STAGE", "STATUS", "ATTEMPT", "ERROR"}
	rows := make([][]string, len(job.Stages))
	for i, s := range job.Stages {
		rows[i] = []string{s.Type, s.Status, strconv.Itoa(s.Attempt), s.Error}
	}

	out.Success(fmt.Sprintf("Job %s: %s (progress %.0f%%)", job.JobID, job.Status, job.Progress*100))
	if job.FinalArtifact != "" {
		out.Success("Final artifact: " + job.FinalArtifact)
	}
	if job.Error != "" {
		out.Error(job.Error)
	}
	out.Print(headers, rows, job)
}

// isTerminal проверяет, финален ли статус job в ответе API.
// API отдаёт статусы в нижнем регистре.
func isTerminal(status string) bool {
	switch status {
	case "completed", "failed", "cancelled":
		return true
	default:
		return false
	}
}
