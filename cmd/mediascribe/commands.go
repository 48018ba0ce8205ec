package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/phrazzld/mediascribe/internal/batch"
	"github.com/phrazzld/mediascribe/internal/domain"
	"github.com/phrazzld/mediascribe/internal/platform/postgres"
)

func serveCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background task runner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, app *application) error {
				return app.serve(ctx)
			})
		},
	}
}

func addBatchFlags(cmd *cobra.Command, opts *batch.Options) {
	cmd.Flags().StringVarP(&opts.ImageEngine, "engine", "e", "", "Engine for image tasks (default from config)")
	cmd.Flags().BoolVar(&opts.ProcessVideo, "video", false, "Also create a task for each row's video")
	cmd.Flags().StringVar(&opts.VideoEngine, "video-engine", "", "Engine for video tasks (default from config)")
	cmd.Flags().BoolVarP(&opts.Parallel, "parallel", "p", false, "Process tasks through a bounded worker pool")
	cmd.Flags().IntVarP(&opts.MaxWorkers, "workers", "w", 0, "Worker count for --parallel (default from config)")
}

func processFileCommand(c *cli) *cobra.Command {
	var opts batch.Options
	cmd := &cobra.Command{
		Use:   "process-file <input.csv>",
		Short: "Process every note in a CSV file and write a result file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.MaxWorkers <= 0 {
				opts.MaxWorkers = c.cfg.Task.MaxWorkers
			}
			return c.withApp(cmd.Context(), func(ctx context.Context, app *application) error {
				ok, msg, out := app.batch.ProcessFile(ctx, args[0], opts)
				return report(cmd.OutOrStdout(), ok, msg, out)
			})
		},
	}
	addBatchFlags(cmd, &opts)
	return cmd
}

func updateFileCommand(c *cli) *cobra.Command {
	var includeVideo bool
	cmd := &cobra.Command{
		Use:   "update-file <input.csv>",
		Short: "Fill a CSV's result columns from already processed notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, app *application) error {
				ok, msg, out := app.batch.UpdateFileWithResults(ctx, args[0], includeVideo)
				return report(cmd.OutOrStdout(), ok, msg, out)
			})
		},
	}
	cmd.Flags().BoolVar(&includeVideo, "video", false, "Also fill the video text column")
	return cmd
}

func report(w io.Writer, ok bool, msg, out string) error {
	if !ok {
		return errors.New(msg)
	}
	fmt.Fprintln(w, msg)
	if out != "" {
		fmt.Fprintln(w, out)
	}
	return nil
}

func tasksCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect and manage tasks",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List all tasks, newest first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.withApp(cmd.Context(), func(ctx context.Context, app *application) error {
					tasks, err := app.orchestrator.GetAllTasks(ctx)
					if err != nil {
						return err
					}
					return printTasks(cmd.OutOrStdout(), tasks)
				})
			},
		},
		&cobra.Command{
			Use:   "show <id>",
			Short: "Show a task and its result",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				return c.withApp(cmd.Context(), func(ctx context.Context, app *application) error {
					t, err := app.orchestrator.GetTask(ctx, id)
					if err != nil {
						return err
					}
					if err := printTasks(cmd.OutOrStdout(), []*domain.Task{t}); err != nil {
						return err
					}
					res, err := app.orchestrator.GetTaskResult(ctx, id)
					if err != nil {
						return err
					}
					if res != nil {
						fmt.Fprintf(cmd.OutOrStdout(), "\n%s\n", res.Content)
					}
					return nil
				})
			},
		},
		taskRetryCommand(c),
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a task and its result",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				return c.withApp(cmd.Context(), func(ctx context.Context, app *application) error {
					if !app.orchestrator.DeleteTask(ctx, id) {
						return fmt.Errorf("failed to delete task %d", id)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "deleted task %d\n", id)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "delete-all",
			Short: "Delete every task",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.withApp(cmd.Context(), func(ctx context.Context, app *application) error {
					fmt.Fprintf(cmd.OutOrStdout(), "deleted %d tasks\n", app.orchestrator.DeleteAllTasks(ctx))
					return nil
				})
			},
		},
		taskProcessCommand(c),
	)
	return cmd
}

func taskRetryCommand(c *cli) *cobra.Command {
	var now bool
	cmd := &cobra.Command{
		Use:   "retry <id>",
		Short: "Reset a failed task to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return c.withApp(cmd.Context(), func(ctx context.Context, app *application) error {
				if err := app.orchestrator.RetryTask(ctx, id); err != nil {
					return err
				}
				if !now {
					fmt.Fprintf(cmd.OutOrStdout(), "task %d reset to pending\n", id)
					return nil
				}
				ok := app.orchestrator.Process(ctx, id)
				fmt.Fprintf(cmd.OutOrStdout(), "task %d processed: %s\n", id, okString(ok))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&now, "now", false, "Process the task immediately after resetting it")
	return cmd
}

func taskProcessCommand(c *cli) *cobra.Command {
	var (
		pending bool
		workers int
	)
	cmd := &cobra.Command{
		Use:   "process [id...]",
		Short: "Process the given tasks, or every pending task with --pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			if pending == (len(args) > 0) {
				return errors.New("pass either task ids or --pending")
			}
			ids := make([]int64, 0, len(args))
			for _, a := range args {
				id, err := parseID(a)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			if workers <= 0 {
				workers = c.cfg.Task.MaxWorkers
			}

			return c.withApp(cmd.Context(), func(ctx context.Context, app *application) error {
				var results map[int64]bool
				if pending {
					var err error
					if results, err = app.orchestrator.ProcessPending(ctx, workers); err != nil {
						return err
					}
				} else {
					results = app.orchestrator.ProcessTasksInParallel(ctx, ids, workers)
				}
				return printOutcomes(cmd.OutOrStdout(), results)
			})
		},
	}
	cmd.Flags().BoolVar(&pending, "pending", false, "Process every pending task")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Maximum concurrent tasks (default from config)")
	return cmd
}

func notesCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notes",
		Short: "Inspect note results",
	}

	var images, videos bool
	results := &cobra.Command{
		Use:   "results <note-url>",
		Short: "Print the aggregated text of a note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, app *application) error {
				var text string
				switch {
				case images:
					text = app.notes.GetNoteOCRResults(ctx, args[0])
				case videos:
					text = app.notes.GetNoteVideoResults(ctx, args[0])
				default:
					ok, msg, all := app.notes.GetNoteAllResults(ctx, args[0])
					if !ok {
						return errors.New(msg)
					}
					text = all
				}
				fmt.Fprintln(cmd.OutOrStdout(), text)
				return nil
			})
		},
	}
	results.Flags().BoolVar(&images, "images", false, "Only image text")
	results.Flags().BoolVar(&videos, "videos", false, "Only video transcripts")
	results.MarkFlagsMutuallyExclusive("images", "videos")

	cmd.AddCommand(results)
	return cmd
}

func migrateCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate <up|down|reset|status|version>",
		Short:     "Run PostgreSQL schema migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "reset", "status", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openPostgres(cmd.Context(), c.cfg.Database, c.logger)
			if err != nil {
				return err
			}
			defer db.Close()
			return postgres.Migrate(cmd.Context(), db, args[0], c.logger)
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", s)
	}
	return id, nil
}

func printTasks(w io.Writer, tasks []*domain.Task) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tENGINE\tSTATUS\tSOURCE\tERROR")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", t.ID, t.Kind, t.Engine, t.Status, t.Source(), t.ErrorMessage)
	}
	return tw.Flush()
}

func printOutcomes(w io.Writer, results map[int64]bool) error {
	ids := make([]int64, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	failed := 0
	for _, id := range ids {
		if !results[id] {
			failed++
		}
		fmt.Fprintf(w, "task %d: %s\n", id, okString(results[id]))
	}
	fmt.Fprintf(w, "processed %d tasks, %d failed\n", len(ids), failed)
	return nil
}

func okString(ok bool) string {
	if ok {
		return "completed"
	}
	return "failed"
}
