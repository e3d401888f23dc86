package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/codereview/internal/config"
	"github.com/kiranshivaraju/codereview/internal/functions"
	"github.com/kiranshivaraju/codereview/internal/invoke"
	"github.com/kiranshivaraju/codereview/internal/pipeline"
	"github.com/kiranshivaraju/codereview/internal/reconcile"
	"github.com/kiranshivaraju/codereview/internal/severity"
	"github.com/kiranshivaraju/codereview/internal/store"
	"github.com/kiranshivaraju/codereview/pkg/models"
)

var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	"__pycache__":  true,
}

var languages = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".java": "java",
	".rb":   "ruby",
	".php":  "php",
	".cs":   "csharp",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".rs":   "rust",
	".kt":   "kotlin",
	".sql":  "sql",
	".sh":   "shell",
}

type analyzeOptions struct {
	repository  string
	branch      string
	format      string
	maxFileSize int64
	failOn      string
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var opts analyzeOptions
	cmd := &cobra.Command{
		Use:   "analyze <dir>",
		Short: "Run the analysis pipeline over a local directory",
		Long: "Runs screening, detection, suggestions and reconciliation in process against the\n" +
			"configured functions backend (mock unless FUNCTIONS_BACKEND is set) and prints the report.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.format != "text" && opts.format != "json" {
				return fmt.Errorf("--format must be text or json, got %q", opts.format)
			}
			var failRank int
			if opts.failOn != "" {
				failRank = severity.Rank(models.ParseSeverity(opts.failOn))
				if failRank == 0 {
					return fmt.Errorf("--fail-on must be one of CRITICAL, HIGH, MEDIUM, LOW")
				}
			}

			result, issues, err := analyzeDir(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}

			if opts.format == "json" {
				err = writeJSON(cmd.OutOrStdout(), result, issues)
			} else {
				err = writeText(cmd.OutOrStdout(), result, issues)
			}
			if err != nil {
				return err
			}

			for _, is := range issues {
				if failRank > 0 && severity.Rank(is.Severity) >= failRank {
					a.exitCode = exitFindings
					break
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.repository, "repository", "", "repository name recorded in the report (defaults to the directory name)")
	cmd.Flags().StringVar(&opts.branch, "branch", "main", "branch recorded in the report")
	cmd.Flags().StringVar(&opts.format, "format", "text", "output format: text or json")
	cmd.Flags().Int64Var(&opts.maxFileSize, "max-file-size", 1<<20, "skip files larger than this many bytes")
	cmd.Flags().StringVar(&opts.failOn, "fail-on", "", "exit 1 when an issue at or above this severity is found")
	return cmd
}

func analyzeDir(ctx context.Context, dir string, opts analyzeOptions) (*models.AnalysisResult, []models.Issue, error) {
	fns, pcfg, err := config.LoadLocal()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	// Nothing can post async results back to a local run.
	pcfg.Polling.Mode = "sync"

	files, err := collectFiles(dir, opts.maxFileSize)
	if err != nil {
		return nil, nil, err
	}
	if len(files) == 0 {
		return nil, nil, fmt.Errorf("no source files found under %s", dir)
	}

	inv, err := functions.NewInvoker(ctx, fns)
	if err != nil {
		return nil, nil, fmt.Errorf("create functions backend: %w", err)
	}

	results := store.NewMemoryResults()
	orch := pipeline.New(pipeline.Deps{
		Executor:   invoke.NewExecutor(inv, pcfg.Resilience),
		Locker:     invoke.NewMemoryLocker(),
		Buffer:     pipeline.NewMemoryBuffer(),
		Results:    pipeline.NewMemoryResultStore(),
		Reconciler: reconcile.New(results, pcfg.Results),
	}, fns, pcfg)
	defer orch.Close(context.WithoutCancel(ctx))

	repo := opts.repository
	if repo == "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, nil, err
		}
		repo = filepath.Base(abs)
	}

	return orch.Run(ctx, models.Job{
		SessionID:  "local",
		Repository: repo,
		Branch:     opts.branch,
		ScanNumber: 1,
		Files:      files,
	})
}

// collectFiles reads the text files under dir. Hidden and dependency directories,
// binary files and files over maxSize are left out.
func collectFiles(dir string, maxSize int64) ([]models.File, error) {
	var files []models.File
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != dir && (strings.HasPrefix(name, ".") || skipDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || strings.HasPrefix(name, ".") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() == 0 || info.Size() > maxSize {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if !utf8.Valid(data) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, models.File{
			Path:     filepath.ToSlash(rel),
			Name:     name,
			Content:  string(data),
			Size:     info.Size(),
			Language: languages[strings.ToLower(filepath.Ext(name))],
			Encoding: "utf-8",
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	return files, nil
}

func writeJSON(w io.Writer, result *models.AnalysisResult, issues []models.Issue) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Result *models.AnalysisResult `json:"result"`
		Issues []models.Issue         `json:"issues"`
	}{result, issues})
}

func writeText(w io.Writer, result *models.AnalysisResult, issues []models.Issue) error {
	fmt.Fprintf(w, "%s@%s  status=%s  files=%d analyzed, %d skipped  issues=%d\n",
		result.Repository, result.Branch, result.Status,
		result.FilesAnalyzed, result.FilesSkipped, result.Summary.TotalIssues)
	s := result.Scores
	fmt.Fprintf(w, "scores: overall %.1f  security %.1f  performance %.1f  quality %.1f\n\n",
		s.Overall, s.Security, s.Performance, s.Quality)
	if len(issues) == 0 {
		fmt.Fprintln(w, "No issues found.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEVERITY\tCATEGORY\tLOCATION\tTITLE\tFIX")
	for _, is := range issues {
		fix := "-"
		if is.Suggestion != nil && is.Suggestion.ImmediateFix != nil {
			fix = is.Suggestion.ImmediateFix.Title
		}
		fmt.Fprintf(tw, "%s\t%s\t%s:%d\t%s\t%s\n", is.Severity, is.Category, is.File, is.Line, is.Title, fix)
	}
	return tw.Flush()
}
