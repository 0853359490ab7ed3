package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/qs3c/doc_gen_server/internal/assemble"
	"github.com/qs3c/doc_gen_server/internal/model"
	"github.com/qs3c/doc_gen_server/internal/pkg/pubsub"
	"github.com/qs3c/doc_gen_server/internal/pkg/queue"
	"github.com/qs3c/doc_gen_server/internal/registry"
	"github.com/qs3c/doc_gen_server/internal/worker"
)

// analyze 命令的参数
var (
	outputDir string
	apiKeys   []string
	maxFiles  int
	workers   int
	showFiles bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <repo-url>",
	Short: "Generate documentation for a git repository.",
	Long: `Clone the repository, run the full pipeline in this process and print
a summary of the generated documents.

Keys given with --key take precedence over llm.api_keys in the config.
Without any key the documents are still written, with the insight sections
marked as unavailable.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVarP(&outputDir, "output", "o", "", "output root directory (default from config)")
	analyzeCmd.Flags().StringSliceVarP(&apiKeys, "key", "k", nil, "LLM API key, repeatable")
	analyzeCmd.Flags().IntVar(&maxFiles, "max-files", 0, "maximum number of files sent to the LLM")
	analyzeCmd.Flags().IntVar(&workers, "workers", 0, "extraction workers (default CPU count)")
	analyzeCmd.Flags().BoolVar(&showFiles, "files", false, "also list the ranked files")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	if outputDir != "" {
		cfg.Analysis.OutputDir = outputDir
	}
	if maxFiles > 0 {
		cfg.Analysis.MaxEnrichedFiles = maxFiles
	}
	if workers > 0 {
		cfg.Analysis.ExtractWorkers = workers
	}
	// 本地运行不需要镜像到 OSS
	cfg.OSS.Enabled = false

	reg := registry.NewMemory()
	out := cmd.OutOrStdout()
	printer := newProgressPrinter(out)
	processor, _ := worker.Setup(rootCtx, cfg, reg, nil, pubsub.FuncPublisher(printer.Print))

	job := model.NewAnalysisJob(uuid.NewString(), args[0], model.SourceGithub, time.Now())
	if err := reg.Create(rootCtx, job); err != nil {
		return err
	}

	// Ctrl-C 走与 API 相同的取消路径
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; !ok {
			return
		}
		printer.Notice("cancelling, waiting for the current stage to stop")
		_, _ = reg.Update(rootCtx, job.ID, func(j *model.AnalysisJob) error {
			j.CancelRequested = true
			return nil
		})
	}()

	procErr := processor.Process(rootCtx, &queue.JobMessage{
		AnalysisID: job.ID,
		SourceType: model.SourceGithub,
		RepoURL:    args[0],
		APIKeys:    apiKeys,
	})

	final, err := reg.Get(rootCtx, job.ID)
	if err != nil {
		return err
	}
	if final.Status == model.StatusFailed {
		printer.Failure(final.ErrorMessage)
		return fmt.Errorf("analysis failed")
	}
	if procErr != nil {
		return procErr
	}

	manifest, err := assemble.ReadManifest(final.ResultDir)
	if err != nil {
		return err
	}
	if err := writeSummary(out, final, manifest, showFiles); err != nil {
		return err
	}
	return nil
}
