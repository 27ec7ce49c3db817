package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/fang"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/petr-muller/jiraflow/internal/cycletime/cycle"
	"github.com/petr-muller/jiraflow/internal/cycletime/output"
	"github.com/petr-muller/jiraflow/internal/cycletime/reference"
	"github.com/petr-muller/jiraflow/internal/cycletime/service"
	"github.com/petr-muller/jiraflow/internal/cycletime/storage"
	"github.com/petr-muller/jiraflow/internal/cycletime/ui"
	"github.com/petr-muller/jiraflow/internal/flagutil"
	"github.com/petr-muller/jiraflow/internal/mappings"
)

var (
	jiraOptions     flagutil.JiraOptions
	logLevel        string
	referenceExpiry = reference.DefaultExpiry

	definitionFile string
	description    string
	refresh        bool
	runAll         bool
	outputFormat   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "jiraflow",
		Short: "Measure cycle time of JIRA issues",
		Long: `jiraflow reconstructs the workflow history of JIRA issues and computes
when each issue entered every stage of a configured cycle, and how many
days it took from acceptance to completion.

Analyses are stored definitions of which issues to look at and how their
statuses map onto cycle stages. Results are cached for the expiry configured
on each analysis.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return fmt.Errorf("invalid log level: %w", err)
			}
			logrus.SetLevel(level)
			return nil
		},
	}

	jiraOptions.AddPFlags(rootCmd.PersistentFlags())
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Logging level (debug, info, warn, error)")
	rootCmd.PersistentFlags().DurationVar(&referenceExpiry, "reference-expiry", reference.DefaultExpiry, "How long JIRA reference data (fields, statuses, ...) is cached")

	rootCmd.AddCommand(
		newAnalysisCmd(),
		newRunCmd(),
		newReferenceCmd(),
		newTemplateCmd(),
	)

	if err := fang.Execute(context.Background(), rootCmd); err != nil {
		logrus.WithError(err).Fatal("command failed")
	}
}

func newAnalysisCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analysis",
		Short: "Manage stored analyses",
	}

	addCmd := &cobra.Command{
		Use:   "add <name> --file <definition.yaml>",
		Short: "Create or update an analysis",
		Long: `Create or update an analysis from a YAML definition. The definition may
contain criteria, cycle, fields, cacheExpiry and maxResults. The query is
validated against JIRA before the analysis is stored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalysisAdd(cmd.Context(), args[0])
		},
	}
	addCmd.Flags().StringVarP(&definitionFile, "file", "f", "", "YAML file with the analysis definition")
	addCmd.Flags().StringVarP(&description, "description", "d", "", "Optional description, overrides the one in the file")
	_ = addCmd.MarkFlagRequired("file")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored analyses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalysisList()
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show the definition of an analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalysisShow(cmd.Context(), args[0])
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete an analysis and its cached results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalysisDelete(cmd.Context(), args[0])
		},
	}

	cmd.AddCommand(addCmd, listCmd, showCmd, deleteCmd)
	return cmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [<name>]",
		Short: "Compute cycle data of an analysis",
		Long: `Compute cycle data of a stored analysis, or of all analyses with --all.
Cached results are used until they expire unless --refresh is given. The
output lists, for every issue, when it entered each stage of the cycle and
its cycle time in days.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if runAll {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := output.ParseFormat(outputFormat)
			if err != nil {
				return err
			}
			if runAll {
				return runRunAll(cmd.Context(), format)
			}
			return runRun(cmd.Context(), args[0], format)
		},
	}

	var formats []string
	for _, f := range output.Formats {
		formats = append(formats, string(f))
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Ignore cached results")
	cmd.Flags().BoolVar(&runAll, "all", false, "Run all stored analyses")
	cmd.Flags().StringVarP(&outputFormat, "output", "o", string(output.Table), fmt.Sprintf("Output format (%s)", strings.Join(formats, ", ")))

	return cmd
}

func newReferenceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reference",
		Short: "Show JIRA reference data useful for writing analyses",
	}

	kinds := []struct {
		use   string
		short string
		run   func(ctx context.Context, helper *reference.Helper, w *tabwriter.Writer) error
	}{
		{use: "fields", short: "List fields and their ids", run: printFields},
		{use: "statuses", short: "List workflow statuses", run: printStatuses},
		{use: "resolutions", short: "List resolutions", run: printResolutions},
		{use: "projects", short: "List projects", run: printProjects},
	}
	for _, kind := range kinds {
		cmd.AddCommand(&cobra.Command{
			Use:   kind.use,
			Short: kind.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				svc, err := createService()
				if err != nil {
					return err
				}
				defer func() { _ = svc.Close() }()

				tabw := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
				if err := kind.run(cmd.Context(), svc.Reference(), tabw); err != nil {
					return err
				}
				return tabw.Flush()
			},
		})
	}

	return cmd
}

func newTemplateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Manage per-project cycle templates",
		Long: `Cycle templates are used by analyses of a project that do not define
their own cycle. Templates are stored in the user configuration directory.`,
	}

	setCmd := &cobra.Command{
		Use:   "set <project> --file <cycle.yaml>",
		Short: "Set the cycle template of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTemplateSet(args[0])
		},
	}
	setCmd.Flags().StringVarP(&definitionFile, "file", "f", "", "YAML file with a list of cycle stages")
	_ = setCmd.MarkFlagRequired("file")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List cycle templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTemplateList()
		},
	}

	cmd.AddCommand(setCmd, listCmd)
	return cmd
}

func createService() (*service.Service, error) {
	if err := jiraOptions.Validate(); err != nil {
		return nil, fmt.Errorf("invalid JIRA options: %w", err)
	}

	dataDir, err := storage.DataDir()
	if err != nil {
		return nil, fmt.Errorf("cannot determine data directory: %w", err)
	}

	svc, err := service.NewService(jiraOptions, dataDir, service.Options{ReferenceExpiry: referenceExpiry})
	if err != nil {
		return nil, fmt.Errorf("cannot create service: %w", err)
	}

	return svc, nil
}

func runAnalysisAdd(ctx context.Context, name string) error {
	data, err := os.ReadFile(definitionFile)
	if err != nil {
		return fmt.Errorf("cannot read analysis definition: %w", err)
	}
	analysis, err := storage.Parse(data)
	if err != nil {
		return err
	}
	analysis.Name = name
	if description != "" {
		analysis.Description = description
	}

	svc, err := createService()
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	if err := svc.AddAnalysis(ctx, *analysis); err != nil {
		return fmt.Errorf("cannot add analysis: %w", err)
	}

	fmt.Printf("Analysis '%s' saved\n", name)
	return nil
}

func runAnalysisList() error {
	svc, err := createService()
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	analyses, err := svc.ListAnalyses()
	if err != nil {
		return fmt.Errorf("cannot list analyses: %w", err)
	}

	if len(analyses) == 0 {
		fmt.Println("No stored analyses found")
		return nil
	}

	fmt.Println("Stored analyses:")
	for _, analysis := range analyses {
		fmt.Printf("  - %s", analysis.Name)
		if analysis.Description != "" {
			fmt.Printf(" - %s", analysis.Description)
		}
		fmt.Printf(" (%s", strings.Join(analysis.IssueTypes, ", "))
		if analysis.Project != "" {
			fmt.Printf(" in %s", analysis.Project)
		}
		if analysis.Stages > 0 {
			fmt.Printf(", %d stages", analysis.Stages)
		}
		fmt.Printf(")\n")
	}

	return nil
}

func runAnalysisShow(ctx context.Context, name string) error {
	svc, err := createService()
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	analysis, err := svc.ShowAnalysis(name)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("cannot encode analysis: %w", err)
	}
	fmt.Print(string(data))

	resolved, err := svc.ResolvedFields(ctx, analysis)
	if err != nil {
		return err
	}
	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	_, _ = w.Write([]byte("FIELD\tTRACKER ID\n"))
	for _, f := range resolved {
		id := f.ID
		if id == "" {
			id = "(not found)"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\n", f.Name, id)
	}
	return w.Flush()
}

func runAnalysisDelete(ctx context.Context, name string) error {
	svc, err := createService()
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	if err := svc.DeleteAnalysis(ctx, name); err != nil {
		return fmt.Errorf("cannot delete analysis: %w", err)
	}

	fmt.Printf("Analysis '%s' deleted successfully\n", name)
	return nil
}

func runRun(ctx context.Context, name string, format output.Format) error {
	svc, err := createService()
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	opts := service.RunOptions{Name: name, Refresh: refresh}
	if format == output.TUI {
		loader := ui.NewLoader(name, func() (*service.Run, error) {
			return svc.Run(ctx, opts)
		})
		final, err := tea.NewProgram(loader, tea.WithAltScreen()).Run()
		if err != nil {
			return fmt.Errorf("cannot run TUI: %w", err)
		}
		if err := final.(ui.Loader).Err(); err != nil {
			return fmt.Errorf("cannot run analysis: %w", err)
		}
		return nil
	}

	run, err := svc.Run(ctx, opts)
	if err != nil {
		return fmt.Errorf("cannot run analysis: %w", err)
	}
	warnTruncated(run)

	return output.Write(os.Stdout, format, run)
}

func runRunAll(ctx context.Context, format output.Format) error {
	if format == output.TUI {
		return fmt.Errorf("the %s output is only available for a single analysis", output.TUI)
	}

	svc, err := createService()
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	runs, err := svc.RunAll(ctx, refresh)
	if err != nil {
		return fmt.Errorf("cannot run analyses: %w", err)
	}
	for _, run := range runs {
		warnTruncated(run)
	}

	return output.Write(os.Stdout, format, runs...)
}

func warnTruncated(run *service.Run) {
	if run.Data.Truncated {
		logrus.WithFields(logrus.Fields{
			"analysis": run.Analysis.Name,
			"returned": len(run.Data.Rows),
			"total":    run.Data.Total,
			"limit":    run.Data.MaxResults,
		}).Warn("Query matched more issues than the result limit, cycle data is incomplete")
	}
}

func printFields(ctx context.Context, helper *reference.Helper, w *tabwriter.Writer) error {
	fields, err := helper.Fields(ctx)
	if err != nil {
		return err
	}
	_, _ = w.Write([]byte("ID\tNAME\tCUSTOM\n"))
	for _, f := range fields {
		_, _ = w.Write([]byte(fmt.Sprintf("%s\t%s\t%t\n", f.ID, f.Name, f.Custom)))
	}
	return nil
}

func printStatuses(ctx context.Context, helper *reference.Helper, w *tabwriter.Writer) error {
	statuses, err := helper.Statuses(ctx)
	if err != nil {
		return err
	}
	_, _ = w.Write([]byte("ID\tNAME\tCATEGORY\n"))
	for _, s := range statuses {
		_, _ = w.Write([]byte(fmt.Sprintf("%s\t%s\t%s\n", s.ID, s.Name, s.StatusCategory.Name)))
	}
	return nil
}

func printResolutions(ctx context.Context, helper *reference.Helper, w *tabwriter.Writer) error {
	resolutions, err := helper.Resolutions(ctx)
	if err != nil {
		return err
	}
	_, _ = w.Write([]byte("ID\tNAME\tDESCRIPTION\n"))
	for _, r := range resolutions {
		_, _ = w.Write([]byte(fmt.Sprintf("%s\t%s\t%s\n", r.ID, r.Name, r.Description)))
	}
	return nil
}

func printProjects(ctx context.Context, helper *reference.Helper, w *tabwriter.Writer) error {
	projects, err := helper.Projects(ctx)
	if err != nil {
		return err
	}
	_, _ = w.Write([]byte("KEY\tNAME\n"))
	for _, p := range projects {
		_, _ = w.Write([]byte(fmt.Sprintf("%s\t%s\n", p.Key, p.Name)))
	}
	return nil
}

func runTemplateSet(project string) error {
	data, err := os.ReadFile(definitionFile)
	if err != nil {
		return fmt.Errorf("cannot read cycle template: %w", err)
	}
	var stages []cycle.Stage
	if err := yaml.Unmarshal(data, &stages); err != nil {
		return fmt.Errorf("cannot parse cycle template: %w", err)
	}

	m, err := mappings.LoadMappings()
	if err != nil {
		return err
	}
	if err := m.SetProjectCycle(project, stages); err != nil {
		return err
	}
	if err := m.SaveMappings(); err != nil {
		return err
	}

	fmt.Printf("Cycle template for project '%s' saved\n", project)
	return nil
}

func runTemplateList() error {
	m, err := mappings.LoadMappings()
	if err != nil {
		return err
	}
	if len(m.ProjectCycles) == 0 {
		fmt.Println("No cycle templates found")
		return nil
	}

	data, err := yaml.Marshal(m.ProjectCycles)
	if err != nil {
		return fmt.Errorf("cannot encode cycle templates: %w", err)
	}
	fmt.Print(string(data))
	return nil
}
