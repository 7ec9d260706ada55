package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vnkhanh/submission-ingest-backend/config"
	"github.com/vnkhanh/submission-ingest-backend/controllers"
	"github.com/vnkhanh/submission-ingest-backend/logger"
	"github.com/vnkhanh/submission-ingest-backend/middleware"
	"github.com/vnkhanh/submission-ingest-backend/repository"
	"github.com/vnkhanh/submission-ingest-backend/routes"
	"github.com/vnkhanh/submission-ingest-backend/services"
	"github.com/vnkhanh/submission-ingest-backend/storage"
	"github.com/vnkhanh/submission-ingest-backend/ws"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Init("info", "console")
		l := logger.Get()
		l.Fatal().Err(err).Msg("invalid configuration")
	}
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.Get()

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := config.InitDB(cfg.DB)
	if err != nil {
		return err
	}
	files := repository.NewFileRepository(db)
	logs := repository.NewLogRepository(db)

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	hub := ws.NewHub(log)
	processingLog := services.NewProcessingLog(logs, hub, log)

	vision, err := visionStrategy(ctx, cfg, log)
	if err != nil {
		return err
	}
	ocrSpace := services.NewOCRSpaceStrategy(services.OCRSpaceOptions{
		APIKey:   cfg.OCR.OCRSpaceAPIKey,
		Endpoint: cfg.OCR.OCRSpaceEndpoint,
		Timeout:  cfg.OCR.Timeout,
	})
	if !vision.Configured() && !ocrSpace.Configured() {
		log.Warn().Msg("no OCR provider configured, images and scanned PDFs will fail extraction")
	}

	pipeline := services.NewPipeline(services.PipelineDeps{
		Storage:  store,
		Files:    files,
		Logs:     processingLog,
		Notifier: hub,
		ImageRule: services.UploadRules{
			AllowedMimeTypes: cfg.Upload.AllowedImageTypes,
			MaxBytes:         cfg.Upload.MaxFileSize,
		},
		PDFRule: services.UploadRules{
			AllowedMimeTypes: cfg.Upload.AllowedPDFTypes,
			MaxBytes:         cfg.Upload.MaxFileSize,
		},
		Strategies: []services.Strategy{
			services.NewNativePDFStrategy(services.NativePDFOptions{MinChars: cfg.PDF.MinChars, MaxPages: cfg.PDF.MaxPages}),
			vision,
			ocrSpace,
		},
	}, log)
	fileService := services.NewFileService(files, logs, store, log)
	sweeper := services.NewSweeper(files, processingLog, hub, cfg.Sweeper.Interval, cfg.Sweeper.StaleAfter, log)

	httpLog := logger.Component("http")

	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(httpLog))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Auth-Token"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))
	// room for multipart framing on top of the file itself
	r.MaxMultipartMemory = cfg.Upload.MaxFileSize + 1<<20

	routes.SetupRouter(r, routes.Handlers{
		Uploads: controllers.NewUploadController(pipeline, fileService, cfg.Upload.MaxFileSize, httpLog),
		Health: controllers.NewHealthController(files, store.Name(), map[string]bool{
			"google_vision": vision.Configured(),
			"ocr_space":     ocrSpace.Configured(),
		}, hub),
		WebSocket: ws.NewHandler(hub, cfg.Auth.JWTSecret, files, cfg.Server.CORSOrigins, log),
		JWTSecret: cfg.Auth.JWTSecret,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		httpLog.Info().Str("port", cfg.Server.Port).Str("storage", store.Name()).Msg("server running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		httpLog.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// visionStrategy wires the primary OCR provider. Missing credentials leave it
// unconfigured rather than failing startup.
func visionStrategy(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*services.VisionOCRStrategy, error) {
	opts := services.VisionOptions{
		Endpoint:      cfg.OCR.VisionEndpoint,
		Timeout:       cfg.OCR.Timeout,
		LanguageHints: cfg.OCR.LanguageHints,
	}

	raw, err := cfg.OCR.ServiceAccountJSON()
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return services.NewVisionOCRStrategy(nil, nil, opts), nil
	}
	account, err := services.ParseServiceAccount(raw)
	if err != nil {
		return nil, err
	}

	var cache services.TokenCache
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unavailable, using in-process token cache")
			cache = services.NewMemoryTokenCache(time.Now)
		} else {
			cache = services.NewRedisTokenCache(client, "ocr:token:")
		}
	} else {
		cache = services.NewMemoryTokenCache(time.Now)
	}

	broker := services.NewCredentialBroker(cfg.OCR.TokenTimeout, log, services.WithTokenCache(cache))
	return services.NewVisionOCRStrategy(broker, account, opts), nil
}
