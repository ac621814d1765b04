package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/syllabus/internal/errors"
	"github.com/hpungsan/syllabus/internal/ops"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(env *ops.Env) *cli.App {
	app := &cli.App{
		Name:    "syllabus",
		Usage:   "Study-plan manifest and scheduler",
		Version: Version,
		Commands: []*cli.Command{
			scanCmd(env),
			sourcesCmd(env),
			markCmd(env),
			processCmd(env),
			artifactsCmd(env),
			registerCmd(env),
			invalidateCmd(env),
			importCmd(env),
			inventoryCmd(env),
			analyzeCmd(env),
			planCmd(env),
			showCmd(env),
			verifyCmd(env),
			historyCmd(env),
			exportCmd(env),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func windowFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "start", Aliases: []string{"s"}, Usage: "First day, YYYY-MM-DD (default today)"},
		&cli.StringFlag{Name: "end", Aliases: []string{"e"}, Required: true, Usage: "Last day, YYYY-MM-DD"},
		&cli.IntFlag{Name: "capacity", Aliases: []string{"c"}, Usage: "Daily capacity in minutes (overrides config)"},
	}
}

func windowFrom(c *cli.Context) ops.PlanWindow {
	return ops.PlanWindow{
		Start:           c.String("start"),
		End:             c.String("end"),
		CapacityMinutes: c.Int("capacity"),
	}
}

// scanCmd creates the scan command.
func scanCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:      "scan",
		Usage:     "Fingerprint a source directory and record changes",
		ArgsUsage: "[root]",
		Action: func(c *cli.Context) error {
			output, err := env.Scan(c.Context, ops.ScanInput{Root: c.Args().First()})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// sourcesCmd creates the sources command.
func sourcesCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:      "sources",
		Usage:     "List tracked sources, or show one by ID",
		ArgsUsage: "[id]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "status", Usage: "Filter by status: new|processed|stale|error"},
			&cli.BoolFlag{Name: "include-missing", Usage: "Include sources whose file disappeared"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 0 {
				output, err := env.GetSource(c.Context, c.Args().First())
				if err != nil {
					return outputError(err)
				}
				return outputJSON(output)
			}

			output, err := env.ListSources(c.Context, ops.ListSourcesInput{
				Status:         c.String("status"),
				IncludeMissing: c.Bool("include-missing"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// markCmd creates the mark command and its subcommands.
func markCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:  "mark",
		Usage: "Record a processing result for a source",
		Subcommands: []*cli.Command{
			{
				Name:      "processed",
				Usage:     "Mark a source processed at the given fingerprint",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "fingerprint", Aliases: []string{"f"}, Required: true, Usage: "Fingerprint the result was computed from"},
				},
				Action: func(c *cli.Context) error {
					output, err := env.MarkProcessed(c.Context, ops.MarkProcessedInput{
						ID:          c.Args().First(),
						Fingerprint: c.String("fingerprint"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "failed",
				Usage:     "Mark a source failed and invalidate its dependents",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "detail", Aliases: []string{"d"}, Usage: "Failure detail"},
				},
				Action: func(c *cli.Context) error {
					output, err := env.MarkFailed(c.Context, ops.MarkFailedInput{
						ID:     c.Args().First(),
						Detail: c.String("detail"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "classify",
				Usage:     "Set a source's classification label",
				ArgsUsage: "<id> <label>",
				Action: func(c *cli.Context) error {
					output, err := env.Classify(c.Context, ops.ClassifyInput{
						ID:    c.Args().Get(0),
						Label: c.Args().Get(1),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

// processCmd creates the process command.
func processCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:      "process",
		Usage:     "Extract text from new and stale sources",
		ArgsUsage: "[id...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "retry", Usage: "Also retry sources in error status"},
		},
		Action: func(c *cli.Context) error {
			output, err := env.Process(c.Context, ops.ProcessInput{
				IDs:   c.Args().Slice(),
				Retry: c.Bool("retry"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// artifactsCmd creates the artifacts command.
func artifactsCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:  "artifacts",
		Usage: "List artifacts with their effective freshness",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "kind", Aliases: []string{"k"}, Usage: "Filter by kind"},
			&cli.StringFlag{Name: "source", Usage: "Filter by owning source ID"},
			&cli.StringFlag{Name: "subject", Usage: "Filter by subject"},
			&cli.BoolFlag{Name: "stale", Usage: "Only artifacts flagged stale"},
		},
		Action: func(c *cli.Context) error {
			output, err := env.ListArtifacts(c.Context, ops.ListArtifactsInput{
				Kind:      c.String("kind"),
				SourceID:  c.String("source"),
				Subject:   c.String("subject"),
				StaleOnly: c.Bool("stale"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// registerCmd creates the register command.
func registerCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:  "register",
		Usage: "Register a derived artifact",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "kind", Aliases: []string{"k"}, Required: true, Usage: "Artifact kind"},
			&cli.StringSliceFlag{Name: "owner", Aliases: []string{"o"}, Usage: "Owning source ID (repeatable)"},
			&cli.StringSliceFlag{Name: "input", Aliases: []string{"i"}, Usage: "Upstream artifact ID (repeatable)"},
			&cli.StringFlag{Name: "subject", Usage: "Discriminator within the owner set"},
			&cli.StringFlag{Name: "location", Aliases: []string{"l"}, Usage: "Where the artifact content lives"},
		},
		Action: func(c *cli.Context) error {
			output, err := env.RegisterArtifact(c.Context, ops.RegisterArtifactInput{
				Kind:     c.String("kind"),
				Owners:   c.StringSlice("owner"),
				Inputs:   c.StringSlice("input"),
				Subject:  c.String("subject"),
				Location: c.String("location"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// invalidateCmd creates the invalidate command.
func invalidateCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:      "invalidate",
		Usage:     "Mark everything derived from a source or artifact stale",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "reason", Aliases: []string{"r"}, Usage: "Reason recorded on invalidated artifacts"},
		},
		Action: func(c *cli.Context) error {
			output, err := env.InvalidateFor(c.Context, ops.InvalidateInput{
				ID:     c.Args().First(),
				Reason: c.String("reason"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// importCmd creates the import command.
func importCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import exams and topics from YAML (--path, or piped via stdin)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Inventory YAML file"},
			&cli.BoolFlag{Name: "prune", Usage: "Remove stored exams the document no longer lists"},
		},
		Action: func(c *cli.Context) error {
			input := ops.ImportInventoryInput{
				Path:  c.String("path"),
				Prune: c.Bool("prune"),
			}
			if input.Path == "" {
				if !stdinHasData() {
					return outputError(errors.NewInvalidRequest("--path or YAML on stdin is required"))
				}
				data, err := io.ReadAll(io.LimitReader(os.Stdin, ops.MaxInventoryBytes+1))
				if err != nil {
					return outputError(errors.NewInternal(err))
				}
				input.Data = data
			}

			output, err := env.ImportInventory(c.Context, input)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// inventoryCmd creates the inventory command.
func inventoryCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:  "inventory",
		Usage: "Show the planning snapshot: included exams, topics and exclusions",
		Action: func(c *cli.Context) error {
			output, err := env.ShowInventory(c.Context)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// analyzeCmd creates the analyze command.
func analyzeCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:  "analyze",
		Usage: "Compare required effort against available capacity",
		Flags: windowFlags(),
		Action: func(c *cli.Context) error {
			output, err := env.Analyze(c.Context, windowFrom(c))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// planCmd creates the plan command.
func planCmd(env *ops.Env) *cli.Command {
	flags := append(windowFlags(),
		&cli.StringFlag{Name: "strategy", Usage: "round_robin|priority_first|balanced (default: recommendation)"},
	)
	return &cli.Command{
		Name:  "plan",
		Usage: "Build, verify and record a study schedule",
		Flags: flags,
		Action: func(c *cli.Context) error {
			output, err := env.CreatePlan(c.Context, ops.CreatePlanInput{
				PlanWindow: windowFrom(c),
				Strategy:   c.String("strategy"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// showCmd creates the show command.
func showCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show a recorded plan (default: current)",
		ArgsUsage: "[id]",
		Action: func(c *cli.Context) error {
			output, err := env.FetchPlan(c.Context, c.Args().First())
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// verifyCmd creates the verify command.
func verifyCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "Re-verify a recorded plan against the current inventory",
		ArgsUsage: "[id]",
		Action: func(c *cli.Context) error {
			output, err := env.VerifyPlan(c.Context, c.Args().First())
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// historyCmd creates the history command.
func historyCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List recorded plans, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultHistoryLimit, Usage: "Maximum records to return"},
		},
		Action: func(c *cli.Context) error {
			output, err := env.History(c.Context, ops.HistoryInput{Limit: c.Int("limit")})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// exportCmd creates the export command.
func exportCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Write a recorded plan to a file",
		ArgsUsage: "[id]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "md", Usage: "md|html|csv|xlsx|json"},
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Output path (default: ~/.syllabus/exports/plan-<id>-<timestamp>.<ext>)"},
		},
		Action: func(c *cli.Context) error {
			output, err := env.ExportPlan(c.Context, ops.ExportPlanInput{
				ID:     c.Args().First(),
				Format: c.String("format"),
				Path:   c.String("path"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if sErr, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", sErr.Code, sErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}
