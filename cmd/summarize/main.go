package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lingosum/intake/internal/batch"
	"github.com/lingosum/intake/internal/client"
	"github.com/lingosum/intake/internal/config"
	"github.com/lingosum/intake/internal/intake"
	"github.com/lingosum/intake/internal/model"
	"github.com/lingosum/intake/internal/service"
	"github.com/lingosum/intake/internal/utils"
)

// CLI flags
var (
	languageFlag  string
	minLengthFlag int
	maxLengthFlag int
	preserveFlag  bool
	streamFlag    bool
	groupSizeFlag int
	verboseFlag   bool
)

// rootCmd is the main Cobra command for the summarize CLI.
var rootCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Summarize documents and text in any supported language",
	Long: `Summarize sends documents or text to the summarization service and prints
the summaries. Files are validated locally and processed in groups of three.

Examples:
  summarize files report.pdf notes.txt scan.png
  summarize files --stream --language hi ./docs/*.pdf
  echo "long text" | summarize text
  summarize stage contract.docx`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := "warn"
		if verboseFlag {
			level = "debug"
		}
		return utils.InitLogger(level, "development")
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		utils.SyncLogger()
	},
}

var filesCmd = &cobra.Command{
	Use:   "files <path>...",
	Short: "Summarize one or more files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runFiles,
}

var textCmd = &cobra.Command{
	Use:   "text [text]",
	Short: "Summarize text from the arguments or stdin",
	RunE:  runText,
}

var stageCmd = &cobra.Command{
	Use:   "stage <path>",
	Short: "Validate a file and stage it in the shared registry",
	Long: `Stage validates a file and stores it in the shared registry (Redis, or
the configured R2 bucket). The printed handle can be attached to an API session with
POST /api/sessions/:sessionId/shared.`,
	Args: cobra.ExactArgs(1),
	RunE: runStage,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&languageFlag, "language", "l", "", "Target language code (default from config)")
	rootCmd.PersistentFlags().IntVar(&minLengthFlag, "min-length", 0, "Minimum summary length in words")
	rootCmd.PersistentFlags().IntVar(&maxLengthFlag, "max-length", 0, "Maximum summary length in words")
	rootCmd.PersistentFlags().BoolVar(&preserveFlag, "preserve-formatting", false, "Preserve the source formatting")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")

	filesCmd.Flags().BoolVar(&streamFlag, "stream", false, "Print each summary as soon as its file settles")
	filesCmd.Flags().IntVar(&groupSizeFlag, "group-size", 0, "Files processed concurrently (default from config)")

	rootCmd.AddCommand(filesCmd, textCmd, stageCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runFiles runs a local session over the given files and prints the result.
func runFiles(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	groupSize := cfg.Intake.GroupSize
	if groupSizeFlag > 0 {
		groupSize = groupSizeFlag
	}

	out := cmd.OutOrStdout()
	svc := newIntakeService(cfg, nil, groupSize, newPrinter(out, streamFlag))
	sess := svc.CreateSession()

	accepted := 0
	for _, path := range args {
		candidate, err := readCandidate(path, cfg.Intake.MaxBytes)
		if err != nil {
			return err
		}
		if _, err := svc.AddFile(ctx, sess.SessionID, candidate); err != nil {
			var rejection *intake.RejectionError
			if errors.As(err, &rejection) {
				fmt.Fprintf(out, "skipped %s\n", rejection.Error())
				continue
			}
			return err
		}
		accepted++
	}
	if accepted == 0 {
		return batch.ErrEmptyBatch
	}

	mode := model.ProcessingModeCombined
	if streamFlag {
		mode = model.ProcessingModeStream
	}

	rm, err := svc.RunBatch(ctx, sess.SessionID, service.BatchOptions{
		TargetLanguage:     languageFlag,
		Bounds:             model.LengthBounds{Min: minLengthFlag, Max: maxLengthFlag},
		PreserveFormatting: preserveFlag,
		Mode:               mode,
	})
	if rm != nil {
		printRenderModel(out, rm, !streamFlag)
	}
	return err
}

// runText summarizes the arguments, or stdin when none are given.
func runText(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	text := strings.Join(args, " ")
	if text == "" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		text = string(data)
	}

	svc := service.NewTextService(client.NewSummarizerClient(&cfg.Summarizer), defaultsFrom(cfg))
	resp, err := svc.Summarize(cmd.Context(), &model.SummarizeTextRequest{
		Text:               text,
		TargetLanguage:     languageFlag,
		MinLength:          minLengthFlag,
		MaxLength:          maxLengthFlag,
		PreserveFormatting: preserveFlag,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, resp.Summary)
	if resp.Stats != nil {
		fmt.Fprintf(out, "\n%d -> %d words (%d%% shorter)\n",
			resp.Stats.OriginalWords, resp.Stats.SummaryWords, resp.Stats.CompressionRatio)
	}
	return nil
}

// runStage stores a validated file in the shared registry and prints its handle.
func runStage(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	shared, closeShared, err := openSharedStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeShared()

	svc := newIntakeService(cfg, shared, cfg.Intake.GroupSize, nil)

	candidate, err := readCandidate(args[0], cfg.Intake.MaxBytes)
	if err != nil {
		return err
	}

	handle, err := svc.StageShared(ctx, candidate)
	if err != nil {
		return err
	}

	utils.Zlog.Debug("Staged payload", zap.String("handle", string(handle)), zap.String("file", candidate.Name))
	fmt.Fprintln(cmd.OutOrStdout(), handle)
	return nil
}

func openSharedStore(ctx context.Context, cfg *config.Config) (intake.Store, func(), error) {
	if cfg.Storage.UsesObjectStore() {
		store, err := intake.NewObjectStore(ctx, intake.ObjectStoreOptions{
			AccountID:       cfg.Storage.AccountID,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			BucketName:      cfg.Storage.BucketName,
			Endpoint:        cfg.Storage.Endpoint,
			Region:          cfg.Storage.Region,
			PathStyle:       cfg.Storage.PathStyle,
		})
		return store, func() {}, err
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		return nil, nil, fmt.Errorf("redis not available: %w", err)
	}
	store := intake.NewRedisStore(redisClient, time.Duration(cfg.Intake.SharedPayloadTTL)*time.Minute)
	return store, func() { redisClient.Close() }, nil
}

func newIntakeService(cfg *config.Config, shared intake.Store, groupSize int, notifier service.Notifier) *service.IntakeService {
	registry := intake.NewRegistry(intake.NewMemoryStore(), shared)
	tracker := intake.NewTracker()
	return service.NewIntakeService(service.IntakeDeps{
		Policy:      intake.NewPolicy(cfg.Intake.MaxBytes, cfg.Intake.AllowedMimeTypes),
		Registry:    registry,
		Tracker:     tracker,
		Coordinator: batch.NewCoordinator(registry, tracker, groupSize),
		Summarizer:  client.NewSummarizerClient(&cfg.Summarizer),
		Notifier:    notifier,
		Defaults:    defaultsFrom(cfg),
	})
}

func defaultsFrom(cfg *config.Config) service.Defaults {
	return service.Defaults{
		TargetLanguage:     cfg.Summarizer.DefaultLanguage,
		Bounds:             model.LengthBounds{Min: cfg.Summarizer.MinLength, Max: cfg.Summarizer.MaxLength},
		PreserveFormatting: cfg.Summarizer.PreserveFormatting,
	}
}

// readCandidate reads at most maxBytes+1 bytes so oversized files are still
// rejected by the policy with their real size.
func readCandidate(path string, maxBytes int64) (*model.UploadCandidate, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	candidate := &model.UploadCandidate{
		Name: filepath.Base(path),
		Size: info.Size(),
	}
	if info.Size() > maxBytes {
		return candidate, nil
	}

	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	candidate.Payload = payload
	return candidate, nil
}

// printer renders session events on the terminal. In stream mode each
// summary is printed once, as soon as it first appears in a partial result.
type printer struct {
	out     io.Writer
	stream  bool
	printed map[model.Handle]bool
}

func newPrinter(out io.Writer, stream bool) *printer {
	return &printer{out: out, stream: stream, printed: make(map[model.Handle]bool)}
}

func (p *printer) ItemStatus(string, intake.StatusUpdate) {}

func (p *printer) BatchResult(_ string, rm *model.RenderModel, final bool) {
	if !p.stream || final {
		return
	}
	for _, b := range rm.Blocks {
		if p.printed[b.Handle] {
			continue
		}
		p.printed[b.Handle] = true
		fmt.Fprintf(p.out, "### %s\n\n%s\n\n", b.Filename, strings.TrimSpace(b.Summary))
	}
}

func (p *printer) Notify(_ string, level model.NotificationLevel, message string) {
	if level == model.NotificationError {
		fmt.Fprintf(p.out, "error: %s\n", message)
	}
}

func printRenderModel(out io.Writer, rm *model.RenderModel, blocks bool) {
	fmt.Fprintln(out)
	if blocks && rm.Combined != "" {
		fmt.Fprintln(out, rm.Combined)
		fmt.Fprintln(out)
	}
	for _, f := range rm.Failures {
		fmt.Fprintf(out, "failed: %s: %s\n", f.Filename, f.Error)
	}
	fmt.Fprintln(out, rm.Message)
	if rm.Stats != nil {
		fmt.Fprintf(out, "%d -> %d words (%d%% shorter)\n",
			rm.Stats.OriginalWords, rm.Stats.SummaryWords, rm.Stats.CompressionRatio)
	}
}
