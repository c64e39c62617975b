package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"apexcise.com/sql-assistant/internal/api"
	"apexcise.com/sql-assistant/internal/config"
	"apexcise.com/sql-assistant/internal/core"
	"apexcise.com/sql-assistant/internal/store"
)

func main() {
	// Load configuration
	config.LoadConfig()

	// Setup logging
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if config.AppConfig.LogLevel == "DEBUG" {
		log.Println("Service starting in DEBUG mode")
	}

	// Command line flag for CSV ingestion into the business database
	ingestCSVFlag := flag.String("ingest", "", "Load a CSV file into the business database and exit")
	flag.Parse()

	ctx := context.Background()

	// Business database: pooled connection, pinged before use
	mysqlStore, err := store.NewMySQLStore(config.AppConfig.MySQLDSN, config.AppConfig.DBPoolSize, config.AppConfig.DBPoolOverflow)
	if err != nil {
		log.Fatalf("Failed to initialize business database: %v", err)
	}
	defer mysqlStore.Close()

	// Handle CSV ingestion if flag is set
	if *ingestCSVFlag != "" {
		log.Printf("Loading %s into the business database...", *ingestCSVFlag)
		table, rows, err := mysqlStore.IngestCSV(ctx, *ingestCSVFlag)
		if err != nil {
			mysqlStore.Close()
			log.Fatalf("CSV ingestion failed: %v", err)
		}
		log.Printf("Loaded %d rows into table %s. Exiting.", rows, table)
		return // deferred Close runs
	}

	// Schema description: computed once, read-only for the process lifetime
	schemaText, err := mysqlStore.SchemaText(ctx)
	if err != nil {
		log.Fatalf("Failed to load schema description: %v", err)
	}
	log.Printf("Cached schema description (%d bytes)", len(schemaText))

	// Conversation history and document chunks
	historyStore, err := store.NewSQLiteStore(config.AppConfig.HistoryDBURL)
	if err != nil {
		log.Fatalf("Failed to initialize history database: %v", err)
	}
	defer historyStore.Close()

	// LLM service
	llmService, err := core.NewLLMService(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize LLM service: %v", err)
	}
	defer llmService.Close()

	// Fast model for SQL at temperature 0, quality model for answers
	sqlCompleter := llmService.Completer(config.AppConfig.SQLModel, 0)
	answerCompleter := llmService.Completer(config.AppConfig.AnswerModel, 0)
	docCompleter := llmService.Completer(config.AppConfig.DocModel, 0)

	generator := core.NewSQLGenerator(schemaText, sqlCompleter)
	synthesizer := core.NewAnswerSynthesizer(answerCompleter)

	var guard *core.StatementGuard
	if config.AppConfig.GuardEnabled {
		guard = core.NewStatementGuard()
		log.Println("Statement guard enabled")
	}

	pipeline := core.NewPipeline(generator, mysqlStore, synthesizer, guard)

	docService, err := core.NewDocumentService(historyStore, docCompleter, llmService)
	if err != nil {
		log.Fatalf("Failed to initialize document service: %v", err)
	}

	// Initialize API Handler and Router. No speech synthesizer is wired yet,
	// so the voice endpoint replies with text only.
	apiHandler := api.NewAPIHandler(pipeline, historyStore, docService, llmService, nil)
	router := api.NewRouter(apiHandler)

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", config.AppConfig.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second, // Adjusted for potentially slower LLM handshakes
		WriteTimeout: 60 * time.Second, // LLM calls can take time
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		log.Printf("Starting server on %s. Press Ctrl+C to quit.", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", serverAddr, err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give active connections time to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting gracefully")
}
