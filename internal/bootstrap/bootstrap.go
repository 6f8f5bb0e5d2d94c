package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/docintel/internal/classify"
	"github.com/kirillkom/docintel/internal/config"
	"github.com/kirillkom/docintel/internal/core/ports"
	"github.com/kirillkom/docintel/internal/core/usecase"
	"github.com/kirillkom/docintel/internal/export"
	"github.com/kirillkom/docintel/internal/infrastructure/extractor/pdftext"
	"github.com/kirillkom/docintel/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/docintel/internal/infrastructure/ocr"
	"github.com/kirillkom/docintel/internal/infrastructure/queue/nats"
	"github.com/kirillkom/docintel/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/docintel/internal/infrastructure/resilience"
	"github.com/kirillkom/docintel/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/docintel/internal/metatag"
	"github.com/kirillkom/docintel/internal/observability/metrics"
)

type App struct {
	Config config.Config

	Queue      ports.TaskQueue
	Repo       ports.DocumentRepository
	Pages      ports.PageRepository
	Fields     ports.FieldRepository
	IngestUC   ports.DocumentIngestor
	ProcessUC  ports.DocumentProcessor
	AdminUC    ports.DocumentAdmin
	ChatUC     ports.ChatService
	Exporter   *export.Service

	closeFn func()
}

// Options carries process-level collaborators that differ between the
// api and worker binaries.
type Options struct {
	Logger        *slog.Logger
	WorkerMetrics *metrics.WorkerMetrics
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewDocumentRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	pages := postgres.NewPageRepository(db)
	fields := postgres.NewFieldRepository(db)

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig(), logger)

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		return nil, fmt.Errorf("init task queue: %w", err)
	}

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaVisionModel, executor)

	textExtractor := pdftext.NewExtractor()

	ocrCfg := ocr.Config{
		PdftoppmBin:        cfg.PdftoppmBin,
		TesseractBin:       cfg.TesseractBin,
		Lang:               cfg.OCRLanguages,
		FastDPI:            cfg.OCRFastDPI,
		VisionDPI:          cfg.OCRVisionDPI,
		EscalateConfidence: cfg.OCREscalateConfidence,
		EscalateMinWords:   cfg.OCREscalateMinWords,
		VisionMinChars:     cfg.OCRVisionMinChars,
		NativeMinChars:     cfg.OCRNativeMinChars,
		LowQuality:         cfg.OCRLowQuality,
		PageTimeout:        time.Duration(cfg.OCRPageTimeoutSeconds) * time.Second,
		VisionInterval:     time.Duration(cfg.OCRVisionIntervalMS) * time.Millisecond,
	}
	if opts.WorkerMetrics != nil {
		workerMetrics := opts.WorkerMetrics
		ocrCfg.Observer = func(method string) {
			workerMetrics.RecordOCRPage("worker", method)
		}
	}
	ocrEngine := ocr.NewEngine(ocr.NewExecRunner(logger), textExtractor, ollamaClient, ocrCfg, logger)

	classifier, err := classify.New(ollamaClient, classify.Config{
		RuleAcceptThreshold: cfg.ClassifierRuleThreshold,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("load classification rules: %w", err)
	}

	metatagExtractor := metatag.NewExtractor(ollamaClient, logger)

	ingestUC := usecase.NewIngestDocumentUseCase(repo, storage, queue)
	processUC := usecase.NewProcessDocumentUseCase(repo, pages, fields, storage,
		textExtractor, ocrEngine, classifier, metatagExtractor)
	adminUC := usecase.NewDocumentAdminUseCase(repo, pages, queue)
	chatUC := usecase.NewChatUseCase(repo, fields, ollamaClient)
	exporter := export.NewService(repo, logger)

	return &App{
		Config: cfg,

		Queue:  queue,
		Repo:   repo,
		Pages:  pages,
		Fields: fields,

		IngestUC:  ingestUC,
		ProcessUC: processUC,
		AdminUC:   adminUC,
		ChatUC:    chatUC,
		Exporter:  exporter,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
