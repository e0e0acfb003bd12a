package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"redline/api/internal/app"
	"redline/api/internal/blob"
	"redline/api/internal/config"
	"redline/api/internal/document"
	"redline/api/internal/export"
	"redline/api/internal/gitarchive"
	"redline/api/internal/issue"
	"redline/api/internal/schedule"
	"redline/api/internal/search"
	"redline/api/internal/session"
	"redline/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		log.Fatalf("failed to create repos dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	archive := gitarchive.New(cfg.ReposDir)

	var cache app.WorkingCopyCache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL, cfg.WorkingCopyTTL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		cache = redisStore
		log.Printf("main: working-copy recovery cache enabled")
	} else {
		log.Printf("main: no REDIS_URL, working-copy recovery disabled")
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient)

	var uploads app.UploadArchive
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		blobStore, err := blobConnect(ctx, cfg)
		if err != nil {
			log.Fatalf("object store connection failed: %v", err)
		}
		uploads = blobStore
		log.Printf("main: upload archive enabled")
	}

	service := app.NewService(cfg, dataStore, cache, archive, uploads, searchService, export.NewService(), passthroughAnalyzer, plainTextConverter, nil)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Redline API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	service.Shutdown(shutdownCtx)
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func blobConnect(ctx context.Context, cfg config.Config) (*blob.Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return blob.New(connectCtx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
}

// plainTextConverter ingests text uploads, one paragraph per non-empty line.
// Binary format conversion is a separate collaborator deployed alongside the
// engine; this default keeps the pipeline usable without it.
func plainTextConverter(_ context.Context, filename string, data []byte) (app.UploadResult, error) {
	title := filename
	if dot := strings.LastIndex(filename, "."); dot > 0 {
		title = filename[:dot]
	}
	var paragraphs []document.Paragraph
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		paragraphs = append(paragraphs, document.Paragraph{Text: line})
	}
	return app.UploadResult{Title: title, Paragraphs: paragraphs}, nil
}

// passthroughAnalyzer is the default analyzer: rule validators are injected
// per deployment, so out of the box every run reports a clean document.
func passthroughAnalyzer(context.Context, document.Snapshot, schedule.AnalyzeOptions) ([]issue.Issue, error) {
	return nil, nil
}
