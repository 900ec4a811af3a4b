// claude-context is the operator CLI. It runs the service stack in-process,
// sharing the registry and vector store with the daemon through their
// configured locations.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/claudecontext/claude-context/internal/app"
	"github.com/claudecontext/claude-context/internal/config"
	"github.com/claudecontext/claude-context/internal/crawl"
	"github.com/claudecontext/claude-context/internal/ingest"
	"github.com/claudecontext/claude-context/internal/llm"
	"github.com/claudecontext/claude-context/internal/mcp"
	"github.com/claudecontext/claude-context/internal/pkg/logger"
	"github.com/claudecontext/claude-context/internal/retrieve"
	"github.com/claudecontext/claude-context/internal/scope"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "claude-context",
		Short:         "Index and search code and web content",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	root.AddCommand(
		initCmd(),
		indexCmd(),
		indexGitHubCmd(),
		searchCmd(),
		crawlCmd(),
		statusCmd(),
		datasetsCmd(),
		clearCmd(),
		mcpCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// withApp loads config, builds the service graph, and runs fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func initCmd() *cobra.Command {
	var project, dataset, path string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Set the default project and dataset",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(_ context.Context, a *app.App) error {
				if project == "" && path == "" {
					return fmt.Errorf("--project or --path is required")
				}
				sc, err := a.Defaults.Resolve(project, dataset, path)
				if err != nil {
					return err
				}
				if err := a.Defaults.Save(sc); err != nil {
					return err
				}
				fmt.Printf("Defaults set: project=%s dataset=%s\n", sc.Project, sc.Dataset)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project name")
	cmd.Flags().StringVar(&dataset, "dataset", "", "dataset name")
	cmd.Flags().StringVar(&path, "path", "", "derive the project from a path")
	return cmd
}

func resolveScope(a *app.App, project, dataset, path string) (scope.Scope, error) {
	sc, err := a.Defaults.Resolve(project, dataset, "")
	if err == nil {
		return sc, nil
	}
	if path != "" {
		return a.Defaults.Resolve("", dataset, path)
	}
	return scope.Scope{}, err
}

func indexCmd() *cobra.Command {
	var project, dataset string
	var force bool

	cmd := &cobra.Command{
		Use:   "index <path>",
		Short: "Index a local directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				sc, err := resolveScope(a, project, dataset, args[0])
				if err != nil {
					return err
				}
				mode := ingest.ModeIncremental
				if force {
					mode = ingest.ModeForced
				}

				result, err := a.Coord.IndexLocal(ctx, sc, args[0], mode)
				if err != nil {
					return err
				}
				fmt.Printf("Indexed %d chunks into %s (%d files skipped)\n", result.ChunksStored, sc, result.FilesSkipped)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project name")
	cmd.Flags().StringVar(&dataset, "dataset", "", "dataset name")
	cmd.Flags().BoolVar(&force, "force", false, "re-embed unchanged files")
	return cmd
}

func indexGitHubCmd() *cobra.Command {
	var project, dataset, branch, sha string

	cmd := &cobra.Command{
		Use:   "index-github <url>",
		Short: "Clone and index a remote repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if dataset == "" {
					dataset = "github-main"
					if branch != "" {
						dataset = "github-" + branch
					}
				}
				sc, err := a.Defaults.Resolve(project, dataset, "")
				if err != nil {
					return err
				}

				result, err := a.Coord.IndexGitHub(ctx, sc, args[0], branch, sha, ingest.ModeIncremental)
				if err != nil {
					return err
				}
				fmt.Printf("Indexed %d chunks into %s\n", result.ChunksStored, sc)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project name")
	cmd.Flags().StringVar(&dataset, "dataset", "", "dataset name")
	cmd.Flags().StringVar(&branch, "branch", "", "branch to index")
	cmd.Flags().StringVar(&sha, "sha", "", "commit to check out")
	return cmd
}

func searchCmd() *cobra.Command {
	var project, dataset, language, pathPrefix string
	var topK int
	var threshold float32
	var asJSON, smart bool

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Hybrid semantic search",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				sc, err := a.Defaults.Resolve(project, dataset, "")
				if err != nil {
					return err
				}

				query := args[0]
				resp, err := a.Retrieval.Search(ctx, retrieve.Request{
					Project:         sc.Project,
					DatasetSelector: datasetSelector(dataset, sc),
					Query:           query,
					TopK:            topK,
					Threshold:       threshold,
					Filters:         retrieve.Filters{Language: language, PathPrefix: pathPrefix},
				})
				if err != nil {
					return err
				}

				if smart {
					return printSmart(ctx, a, query, resp)
				}
				if asJSON {
					return printJSON(resp)
				}

				if len(resp.Results) == 0 {
					fmt.Println("No results.")
					return nil
				}
				for i, r := range resp.Results {
					fmt.Printf("%d. %s:%d-%d [%s] score=%.3f\n", i+1, r.SourcePath, r.StartLine, r.EndLine, r.Dataset, r.Score)
					if r.SymbolName != "" {
						fmt.Printf("   symbol: %s\n", r.SymbolName)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project name")
	cmd.Flags().StringVar(&dataset, "dataset", "", "dataset selector (name, list, glob, *, key:value)")
	cmd.Flags().StringVar(&language, "language", "", "filter by language")
	cmd.Flags().StringVar(&pathPrefix, "path", "", "filter by path prefix")
	cmd.Flags().IntVar(&topK, "top-k", 0, "maximum results")
	cmd.Flags().Float32Var(&threshold, "threshold", 0, "minimum score")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON")
	cmd.Flags().BoolVar(&smart, "smart", false, "synthesize an answer with the LLM")
	return cmd
}

func datasetSelector(flag string, sc scope.Scope) any {
	if flag != "" {
		return flag
	}
	return sc.Dataset
}

func printSmart(ctx context.Context, a *app.App, query string, resp *retrieve.Response) error {
	if a.LLM == nil {
		return fmt.Errorf("smart query requires LLM_API_KEY and LLM_API_BASE")
	}

	passages := make([]llm.Passage, 0, len(resp.Results))
	for _, r := range resp.Results {
		passages = append(passages, llm.Passage{SourcePath: r.SourcePath, Dataset: r.Dataset, Content: r.Content})
	}
	answer, err := a.LLM.Synthesize(ctx, query, passages)
	if err != nil {
		return err
	}

	fmt.Println(answer.Answer)
	if len(answer.Citations) > 0 {
		fmt.Println("\nSources:")
		for _, c := range answer.Citations {
			fmt.Println("-", c)
		}
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func crawlCmd() *cobra.Command {
	var project, dataset, mode string
	var maxDepth, maxPages int
	var allowCrossDomain bool

	cmd := &cobra.Command{
		Use:   "crawl <url>",
		Short: "Crawl web pages into a dataset",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if dataset == "" {
					dataset = "web"
				}
				sc, err := a.Defaults.Resolve(project, dataset, "")
				if err != nil {
					return err
				}

				pages, err := a.Crawler.Crawl(ctx, crawl.Options{
					Mode:           crawl.Mode(mode),
					URLs:           args,
					MaxDepth:       maxDepth,
					MaxPages:       maxPages,
					SameDomainOnly: !allowCrossDomain,
				})
				if err != nil {
					return err
				}
				fmt.Printf("Crawled %d pages\n", len(pages))

				docs := make([]ingest.Document, 0, len(pages))
				for _, p := range pages {
					docs = append(docs, ingest.Document{Path: p.URL, Content: p.Markdown})
				}
				result, err := a.Coord.Index(ctx, ingest.Request{Scope: sc, Documents: docs})
				if err != nil {
					return err
				}
				fmt.Printf("Indexed %d chunks into %s\n", result.ChunksStored, sc)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project name")
	cmd.Flags().StringVar(&dataset, "dataset", "", "dataset name (default: web)")
	cmd.Flags().StringVar(&mode, "mode", "recursive", "single | batch | recursive | sitemap")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "recursion depth")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "page budget")
	cmd.Flags().BoolVar(&allowCrossDomain, "cross-domain", false, "follow links to other domains")
	return cmd
}

func statusCmd() *cobra.Command {
	var project, dataset string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show indexing progress",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(_ context.Context, a *app.App) error {
				sc, err := a.Defaults.Resolve(project, dataset, "")
				if err != nil {
					return err
				}

				records := a.Tracker.ForProject(sc.Project, false)
				if len(records) == 0 {
					fmt.Println("No operations recorded.")
					return nil
				}
				for _, rec := range records {
					fmt.Printf("%s/%s: %s (%d/%d) %s\n", rec.Project, rec.Dataset, rec.Status, rec.Stored, rec.Expected, rec.Phase)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project name")
	cmd.Flags().StringVar(&dataset, "dataset", "", "dataset name")
	return cmd
}

func datasetsCmd() *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "datasets",
		Short: "List datasets with their collection bindings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				sc, err := a.Defaults.Resolve(project, "", "")
				if err != nil {
					return err
				}

				ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
				defer cancel()

				listings, err := a.Registry.ListForProject(ctx, sc.Project)
				if err != nil {
					return err
				}
				if len(listings) == 0 {
					fmt.Println("No datasets.")
					return nil
				}
				for _, l := range listings {
					fmt.Printf("%-24s %8d points  %s\n", l.DatasetName, l.PointCount, l.CollectionName)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project name")
	return cmd
}

func clearCmd() *cobra.Command {
	var project, dataset string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete vectors, chunks, and registry entries for a scope",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				sc, err := a.Defaults.Resolve(project, dataset, "")
				if err != nil {
					return err
				}

				counts, err := a.Registry.ClearDataset(ctx, sc.Project, dataset, dryRun)
				if err != nil {
					return err
				}
				if !dryRun {
					for _, collection := range counts.Collections {
						if err := a.Store.DeleteCollection(ctx, collection); err != nil {
							a.Log.Warn("Failed to delete vector collection", "collection", collection, "error", err)
						}
					}
					a.Tracker.Clear(sc.Project, dataset)
				}

				verb := "Deleted"
				if dryRun {
					verb = "Would delete"
				}
				fmt.Printf("%s %d datasets, %d chunks, %d collections\n", verb, counts.Datasets, counts.Chunks, len(counts.Collections))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project name")
	cmd.Flags().StringVar(&dataset, "dataset", "", "dataset name; empty clears the project")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report counts without deleting")
	return cmd
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tool surface over stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				handler := mcp.NewHandler(mcp.HandlerConfig{
					Config:    a.Config,
					Registry:  a.Registry,
					Store:     a.Store,
					Coord:     a.Coord,
					Retrieval: a.Retrieval,
					Crawler:   a.Crawler,
					Tracker:   a.Tracker,
					LLM:       a.LLM,
					Defaults:  a.Defaults,
					Log:       a.Log,
				})
				srv := mcp.NewServer(mcp.ServerConfig{Handler: handler, Log: a.Log})
				return srv.ServeStdio(ctx)
			})
		},
	}
}
