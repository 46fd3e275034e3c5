package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"

	"github.com/finvault/bankrag/pkg/blob"
	"github.com/finvault/bankrag/pkg/chunker"
	cfgPkg "github.com/finvault/bankrag/pkg/config"
	"github.com/finvault/bankrag/pkg/cracker"
	"github.com/finvault/bankrag/pkg/embedder"
	"github.com/finvault/bankrag/pkg/generator"
	"github.com/finvault/bankrag/pkg/pipeline"
	"github.com/finvault/bankrag/pkg/store"
	"github.com/finvault/bankrag/server"
)

type cliFlags struct {
	configPath string
	ingestPath string
	query      string
	topK       int
	verbose    bool
}

func main() {
	flags := parseFlags()

	if err := run(flags); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() cliFlags {
	var flags cliFlags

	flag.StringVar(&flags.configPath, "config", "", "Path to config file")
	flag.StringVar(&flags.ingestPath, "ingest", "", "Ingest a PDF file and exit")
	flag.StringVar(&flags.query, "query", "", "Ask a question and exit")
	flag.IntVar(&flags.topK, "top-k", 5, "Number of chunks to retrieve for a query")
	flag.BoolVar(&flags.verbose, "verbose", false, "Enable debug logging")
	flag.Parse()

	return flags
}

func run(flags cliFlags) error {
	// A missing .env is fine; real deployments use the environment.
	_ = godotenv.Load()

	level := slog.LevelInfo
	if flags.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	config, err := cfgPkg.LoadConfig(flags.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}
	if errs := config.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("config: %s: %s", e.Field, e.Message)
		}
		return fmt.Errorf("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	textEmbedder, err := embedder.NewTextEmbedder(embedder.TextConfig{
		Endpoint:  config.OpenAI.Endpoint,
		APIKey:    config.OpenAI.APIKey,
		Model:     config.OpenAI.EmbeddingModel,
		RateLimit: config.RAG.EmbedRateLimit,
		Dimension: config.Database.TextVectorDim,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize text embedder: %v", err)
	}

	visionEmbedder := embedder.NewVisionEmbedder(embedder.VisionConfig{
		Endpoint:  config.Vision.Endpoint,
		APIKey:    config.Vision.APIKey,
		Dimension: config.Database.ImageVectorDim,
	})

	answerGen, err := generator.NewWithConfig(generator.Config{
		Endpoint:    config.OpenAI.Endpoint,
		APIKey:      config.OpenAI.APIKey,
		Model:       config.OpenAI.Model,
		MaxTokens:   config.OpenAI.MaxTokens,
		Temperature: config.OpenAI.Temperature,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize generator: %v", err)
	}

	index, err := store.NewWithConfig(ctx, store.Config{
		ConnString:     config.Database.URL,
		TextVectorDim:  config.Database.TextVectorDim,
		ImageVectorDim: config.Database.ImageVectorDim,
		BatchSize:      config.Database.BatchSize,
		SearchLimit:    config.RAG.TopK,
		MinSimilarity:  config.RAG.SimilarityThreshold,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize index: %v", err)
	}
	defer index.Close()

	storage, err := blob.NewFromConfig(ctx, blob.Config{
		Bucket:   config.Storage.Bucket,
		LocalDir: config.Storage.LocalDir,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize blob storage: %v", err)
	}

	docCracker := cracker.NewWithConfig(cracker.Config{})
	docChunker := chunker.NewWithConfig(chunker.Config{
		ChunkSize:    config.RAG.ChunkSize,
		ChunkOverlap: config.RAG.ChunkOverlap,
	})

	var spinner *progressbar.ProgressBar
	p := pipeline.New(pipeline.Config{
		TopK: config.RAG.TopK,
		OnStage: func(stage string) {
			if spinner != nil {
				spinner.Describe(color.CyanString("%s...", stage))
			}
		},
	}, docCracker, docChunker, textEmbedder, visionEmbedder, index, answerGen)

	switch {
	case flags.ingestPath != "":
		spinner = getSpinner("reading file...")
		defer spinner.Finish()
		return ingestFile(ctx, p, storage, flags.ingestPath)

	case flags.query != "":
		return runQuery(ctx, p, flags.query, flags.topK)

	default:
		return serve(ctx, config, p, index, storage)
	}
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func ingestFile(ctx context.Context, p *pipeline.Pipeline, storage blob.Storage, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %v", path, err)
	}
	filename := filepath.Base(path)

	blobPath, err := storage.StorePDF(ctx, data, filename)
	if err != nil {
		return fmt.Errorf("failed to store %s: %v", filename, err)
	}

	result, err := p.Ingest(ctx, data, filename, blobPath)
	if err != nil {
		return fmt.Errorf("failed to ingest %s: %v", filename, err)
	}

	color.Green("\n✓ Ingested %s: %d pages, %d text chunks, %d images (%.1fs)\n",
		result.Filename, result.Pages, result.TextChunks, result.ImagesIndexed,
		result.Elapsed.Seconds())
	return nil
}

func runQuery(ctx context.Context, p *pipeline.Pipeline, query string, topK int) error {
	answer, err := p.Query(ctx, query, topK, true)
	if err != nil {
		return fmt.Errorf("query failed: %v", err)
	}

	color.Cyan("\n%s\n", answer.Answer)
	if len(answer.Citations) > 0 {
		color.Blue("\nSources:")
		for _, c := range answer.Citations {
			fmt.Printf("  - %s, page %d", c.Source, c.Page)
			if c.Section != "" {
				fmt.Printf(" (%s)", c.Section)
			}
			fmt.Println()
		}
	}
	fmt.Printf("\n%d chunks, %d images, %.2fs\n",
		answer.ChunksUsed, answer.ImagesUsed, answer.ProcessingTimeSeconds)
	return nil
}

func serve(ctx context.Context, config *cfgPkg.Config, p *pipeline.Pipeline,
	index *store.Store, storage blob.Storage) error {
	srv := server.NewWithConfig(server.Config{
		Port:           config.Server.Port,
		MaxUploadBytes: config.Server.MaxUploadBytes,
	}, p, index, storage)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	color.Green("Listening on :%d", config.Server.Port)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
