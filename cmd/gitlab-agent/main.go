package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	naturaldate "github.com/tj/go-naturaldate"

	"github.com/amirsdream/mcp-agentic-workflow/internal/ai"
	"github.com/amirsdream/mcp-agentic-workflow/internal/config"
	"github.com/amirsdream/mcp-agentic-workflow/internal/event"
	"github.com/amirsdream/mcp-agentic-workflow/internal/forms"
	"github.com/amirsdream/mcp-agentic-workflow/internal/gitlab"
	"github.com/amirsdream/mcp-agentic-workflow/internal/issue"
	"github.com/amirsdream/mcp-agentic-workflow/internal/mcp"
	"github.com/amirsdream/mcp-agentic-workflow/internal/sharepoint"
)

var rootCmd = &cobra.Command{
	Use:   "gitlab-agent",
	Short: "GitLab activity agent with AI work summaries",
	Long:  "gitlab-agent queries GitLab activity and issues, classifies work, summarizes it with an AI model, and exposes the results as chat tools.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the tool-calling protocol over stdio",
	RunE:  runServe,
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print a work report for a period",
	RunE:  runReport,
}

var issuesCmd = &cobra.Command{
	Use:   "issues",
	Short: "List issues from the configured projects",
	RunE:  runIssues,
}

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List GitLab projects",
	RunE:  runProjects,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Open config file in your editor",
	RunE:  runConfig,
}

func init() {
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")

	reportCmd.Flags().String("period", "this month", "Period like 'January', '2024-01', 'this month', or a natural expression like 'last december'")
	reportCmd.Flags().String("user", "", "User ID to report on (defaults to the authenticated user)")
	reportCmd.Flags().Int("limit", 200, "Maximum raw activity records to consider")
	reportCmd.Flags().StringSlice("project", nil, "Restrict to these project IDs")

	issuesCmd.Flags().String("period", "", "Period filter")
	issuesCmd.Flags().String("state", "opened", "Issue state: opened, closed, or all")
	issuesCmd.Flags().String("labels", "", "Comma-separated labels")
	issuesCmd.Flags().String("assignee", "", "Filter by assignee name")
	issuesCmd.Flags().Int("limit", 100, "Maximum issues to return")

	projectsCmd.Flags().Int("limit", 20, "Maximum projects to return")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(issuesCmd)
	rootCmd.AddCommand(projectsCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelInfo
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	// stdout carries the protocol when serving; logs always go to stderr
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.GitLab.Token == "" {
		return nil, fmt.Errorf("GitLab token not configured: run 'gitlab-agent config' or set GITLAB_TOKEN")
	}
	return cfg, nil
}

func newGitLabClient(cfg *config.Config, logger *slog.Logger) *gitlab.Client {
	ttl := time.Duration(cfg.Summaries.CacheTTLMinutes) * time.Minute
	return gitlab.NewClient(cfg.GitLab.URL, cfg.GitLab.Token, ttl, logger)
}

func newModelClient(cfg *config.Config, logger *slog.Logger) ai.Client {
	if cfg.OpenAI.APIKey == "" {
		// Pipeline degrades to deterministic fallback summaries.
		return nil
	}
	return ai.NewOpenAI(cfg.OpenAI.APIKey, cfg.OpenAI.Model, logger)
}

// newFormsService returns nil when no document site is configured,
// which leaves the document tools unregistered.
func newFormsService(cfg *config.Config, logger *slog.Logger) *forms.Service {
	if cfg.SharePoint.SiteURL == "" {
		return nil
	}
	source := sharepoint.NewClient(cfg.SharePoint.SiteURL, cfg.SharePoint.Token, logger)
	return forms.NewService(source, logger)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger(cmd)
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	server := mcp.NewServer(mcp.Deps{
		GitLab:     newGitLabClient(cfg, logger),
		Model:      newModelClient(cfg, logger),
		Forms:      newFormsService(cfg, logger),
		ProjectIDs: cfg.GitLab.ProjectIDs,
		Workers:    cfg.Summaries.MaxConcurrent,
		Logger:     logger,
	})

	logger.Info("serving tool-calling protocol on stdio")
	return server.Serve(ctx, os.Stdin, os.Stdout)
}

// resolvePeriod falls back to natural-language parsing for expressions
// the pipeline's month resolver does not recognize, collapsing them to
// the month the parsed time lands in.
func resolvePeriod(period string) string {
	if period == "" {
		return period
	}
	if _, _, ok := event.ResolveRange(period, time.Now()); ok {
		return period
	}
	t, err := naturaldate.Parse(period, time.Now(), naturaldate.WithDirection(naturaldate.Past))
	if err != nil {
		return period
	}
	return t.Format("2006-01")
}

func runReport(cmd *cobra.Command, args []string) error {
	logger := newLogger(cmd)
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	period, _ := cmd.Flags().GetString("period")
	userID, _ := cmd.Flags().GetString("user")
	limit, _ := cmd.Flags().GetInt("limit")
	projectIDs, _ := cmd.Flags().GetStringSlice("project")

	client := newGitLabClient(cfg, logger)
	pipeline := event.NewPipeline(client, newModelClient(cfg, logger), cfg.Summaries.MaxConcurrent, logger)

	result := pipeline.GetUserEvents(context.Background(), event.Filters{
		Period:     resolvePeriod(period),
		ProjectIDs: projectIDs,
		Limit:      limit,
	}, userID)

	if !result.Success {
		return fmt.Errorf("fetching events: %s", result.Error)
	}

	if len(result.WorkUnits) == 0 {
		fmt.Println("No work found for the given period.")
		return nil
	}

	fmt.Printf("Work report (%s): %d events, %d commits\n\n", result.PeriodLabel, len(result.Events), result.TotalCommits())

	for i, unit := range result.WorkUnits {
		summary := result.Summaries[i]
		fmt.Printf("%s [%s, confidence %.1f]\n", summary.Name, unit.Category, unit.Confidence)
		fmt.Printf("  %s\n", summary.Description)
		fmt.Printf("  %.1fh estimated, %d commits", summary.EstimatedHours, unit.TotalCommits())
		if unit.BranchName != "" {
			fmt.Printf(", branch %s", unit.BranchName)
		}
		fmt.Println()
		for _, a := range summary.KeyAchievements {
			fmt.Printf("  - %s\n", a)
		}
		fmt.Println()
	}

	fmt.Printf("Total: %.1fh estimated across %d work units\n", result.TotalEstimatedHours(), len(result.WorkUnits))
	return nil
}

func runIssues(cmd *cobra.Command, args []string) error {
	logger := newLogger(cmd)
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(cfg.GitLab.ProjectIDs) == 0 {
		return fmt.Errorf("no projects configured: set project_ids in config or GITLAB_PROJECT_IDS")
	}

	period, _ := cmd.Flags().GetString("period")
	state, _ := cmd.Flags().GetString("state")
	labels, _ := cmd.Flags().GetString("labels")
	assignee, _ := cmd.Flags().GetString("assignee")
	limit, _ := cmd.Flags().GetInt("limit")

	client := newGitLabClient(cfg, logger)
	svc := issue.NewService(client, cfg.GitLab.ProjectIDs, logger)

	result := svc.Search(context.Background(), issue.Filters{
		Period:   resolvePeriod(period),
		State:    state,
		Labels:   labels,
		Assignee: assignee,
		Limit:    limit,
	})

	if len(result.Issues) == 0 {
		fmt.Println("No issues found.")
		return nil
	}

	fmt.Printf("Found %d issues:\n\n", len(result.Issues))
	for _, iss := range result.Issues {
		assigned := iss.Assignee
		if assigned == "" {
			assigned = "unassigned"
		}
		fmt.Printf("  #%-5d %-8s %-20s %s (%s)\n", iss.IID, iss.State, iss.ProjectName, iss.Title, assigned)
	}

	return nil
}

func runProjects(cmd *cobra.Command, args []string) error {
	logger := newLogger(cmd)
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	limit, _ := cmd.Flags().GetInt("limit")
	client := newGitLabClient(cfg, logger)

	projects, err := client.ListProjects(context.Background(), limit)
	if err != nil {
		return fmt.Errorf("fetching projects: %w", err)
	}

	if len(projects) == 0 {
		fmt.Println("No projects found.")
		return nil
	}

	fmt.Printf("Found %d projects:\n\n", len(projects))
	for _, p := range projects {
		fmt.Printf("  %-8d %s\n", p.ID, p.PathWithNamespace)
	}

	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	if err := config.EnsureConfigDir(); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath, err := config.ConfigPath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		data := fmt.Sprintf(`[gitlab]
url = "%s"
token = ""
project_ids = []

[sharepoint]
site_url = ""
token = ""
list_name = "%s"

[openai]
api_key = ""
model = "%s"

[summaries]
max_concurrent = %d
cache_ttl_minutes = %d
`,
			cfg.GitLab.URL,
			cfg.SharePoint.ListName,
			cfg.OpenAI.Model,
			cfg.Summaries.MaxConcurrent,
			cfg.Summaries.CacheTTLMinutes,
		)
		if err := os.WriteFile(configPath, []byte(data), 0644); err != nil {
			return fmt.Errorf("writing default config: %w", err)
		}
	}

	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vi"
	}

	fmt.Printf("Opening %s with %s...\n", configPath, editor)

	proc := os.ProcAttr{
		Files: []*os.File{os.Stdin, os.Stdout, os.Stderr},
	}
	process, err := os.StartProcess(editor, []string{editor, configPath}, &proc)
	if err != nil {
		fmt.Printf("Could not open editor. Config file is at: %s\n", configPath)
		return nil
	}
	_, err = process.Wait()
	return err
}
