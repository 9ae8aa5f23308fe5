package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/yaronmolho1/Expense-tracker-sub003/internal/api/handlers"
	"github.com/yaronmolho1/Expense-tracker-sub003/internal/api/middleware"
	"github.com/yaronmolho1/Expense-tracker-sub003/internal/archive"
	"github.com/yaronmolho1/Expense-tracker-sub003/internal/jobs"
	jobsinmemory "github.com/yaronmolho1/Expense-tracker-sub003/internal/jobs/inmemory"
	"github.com/yaronmolho1/Expense-tracker-sub003/internal/logger"
	"github.com/yaronmolho1/Expense-tracker-sub003/internal/merge"
	"github.com/yaronmolho1/Expense-tracker-sub003/internal/recon"
	"github.com/yaronmolho1/Expense-tracker-sub003/internal/store"
	storebigquery "github.com/yaronmolho1/Expense-tracker-sub003/internal/store/bigquery"
	storememory "github.com/yaronmolho1/Expense-tracker-sub003/internal/store/memory"
	"github.com/yaronmolho1/Expense-tracker-sub003/internal/subscription"
)

func main() {
	var (
		port      = flag.String("port", "8080", "HTTP server port")
		storeKind = flag.String("store", envOr("STORE", "bigquery"), "persistence backend: memory or bigquery")
		projectID = flag.String("project", os.Getenv("GCP_PROJECT"), "GCP project id for the BigQuery store (or set GCP_PROJECT env)")
		datasetID = flag.String("dataset", envOr("BQ_DATASET", "expenses"), "BigQuery dataset (or set BQ_DATASET env)")
		bucket    = flag.String("bucket", os.Getenv("GCS_BUCKET"), "GCS bucket for statement archival (or set GCS_BUCKET env)")
		workers   = flag.Int("workers", 5, "ingest worker count")
		logLevel  = flag.String("log-level", envOr("LOG_LEVEL", "info"), "log level")
	)
	flag.Parse()

	log := logger.New(*logLevel)
	ctx := context.Background()

	// Persistence
	var st store.Store
	switch *storeKind {
	case "memory":
		st = storememory.NewStore()
		log.Warn().Msg("Using in-memory store - data is lost on restart")
	case "bigquery":
		if *projectID == "" {
			log.Fatal().Msg("BigQuery store requires -project or GCP_PROJECT")
		}
		bqStore, err := storebigquery.NewStore(ctx, *projectID, *datasetID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create BigQuery store")
		}
		defer bqStore.Close()
		st = bqStore
	default:
		log.Fatal().Str("store", *storeKind).Msg("Unknown store kind")
	}

	// Statement archival
	var archiveSvc archive.Service
	if *bucket != "" {
		gcsArchive, err := archive.NewGCS(ctx, *bucket)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create statement archive")
		}
		defer gcsArchive.Close()
		archiveSvc = gcsArchive
	} else {
		log.Warn().Msg("No GCS bucket configured - statement files will not be archived")
	}

	// Engines
	reconEngine := recon.New(st, log)
	mergeEngine := merge.New(st, log)
	subscriptionEngine := subscription.New(st, log)

	// Ingest job infrastructure
	jobStore := jobsinmemory.NewStore()
	jobQueue := jobsinmemory.NewQueue(100, *workers, jobStore)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	jobHandler := func(ctx context.Context, job jobs.Job) error {
		batchJob, ok := job.(*jobs.IngestBatchJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}

		batchLog := logger.WithBatch(log, batchJob.BatchID)
		batchLog.Info().
			Str("job_id", batchJob.JobID).
			Int("rows", len(batchJob.Rows)).
			Msg("Reconciling ingest batch")

		result, err := reconEngine.IngestBatch(logger.WithContext(ctx, batchLog), batchJob.BatchID, batchJob.Rows)
		if err != nil {
			batchLog.Error().Err(err).Str("job_id", batchJob.JobID).Msg("Batch reconciliation failed")
			return err
		}

		batchJob.Summary = &jobs.BatchSummary{
			Rows:        len(result.Results),
			New:         result.New,
			Duplicates:  result.Duplicates,
			GroupJoined: result.GroupJoined,
			Completed:   result.Completed,
			Ambiguous:   result.Ambiguous,
		}
		return nil
	}

	go func() {
		log.Info().Int("workers", *workers).Msg("Starting ingest workers")
		if err := jobQueue.Start(workerCtx, jobHandler); err != nil {
			log.Error().Err(err).Msg("Ingest workers stopped with error")
		}
	}()

	// Handlers
	statementsHandler := handlers.NewStatementsHandler(archiveSvc, jobQueue, log)
	mergesHandler := handlers.NewMergesHandler(mergeEngine, st, log)
	subscriptionsHandler := handlers.NewSubscriptionsHandler(subscriptionEngine, log)
	transactionsHandler := handlers.NewTransactionsHandler(reconEngine, log)
	jobsHandler := handlers.NewJobsHandler(jobStore, log)

	mux := http.NewServeMux()

	mux.HandleFunc("/api/statements/upload", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			statementsHandler.Upload(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/merges/detect", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			mergesHandler.Detect(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/merges", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			mergesHandler.Merge(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/merges/suggestions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			mergesHandler.ListSuggestions(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/merges/suggestions/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/merges/suggestions/")
		suggestionID, action, _ := strings.Cut(rest, "/")
		if suggestionID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Suggestion ID is required")
			return
		}
		if r.Method == http.MethodPost && action == "reject" {
			mergesHandler.RejectSuggestion(w, r, suggestionID)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/businesses/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/businesses/")
		businessID, action, _ := strings.Cut(rest, "/")
		if businessID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Business ID is required")
			return
		}
		switch {
		case r.Method == http.MethodDelete && action == "":
			mergesHandler.DeleteBusiness(w, r, businessID)
		case r.Method == http.MethodPost && action == "unmerge":
			mergesHandler.Unmerge(w, r, businessID)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			subscriptionsHandler.Create(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/subscriptions/", func(w http.ResponseWriter, r *http.Request) {
		subscriptionID := strings.TrimPrefix(r.URL.Path, "/api/subscriptions/")
		if subscriptionID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Subscription ID is required")
			return
		}
		if r.Method == http.MethodDelete {
			subscriptionsHandler.Cancel(w, r, subscriptionID)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/transactions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			transactionsHandler.Delete(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			jobsHandler.ListJobs(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
		if jobID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
			return
		}
		if r.Method == http.MethodGet {
			jobsHandler.GetJob(w, r, jobID)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(log)(
				middleware.CORS(
					middleware.Auth(mux),
				),
			),
		),
	)

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", *port).Str("store", *storeKind).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	cancelWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	log.Info().Msg("Server exited")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
