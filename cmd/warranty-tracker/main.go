package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/warranty-tracker/internal/receipt"
	"github.com/zombor/warranty-tracker/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env file is fine; real environment variables still apply
	_ = godotenv.Load()

	fs := ff.NewFlagSet("warranty-tracker")
	var (
		addr              = fs.StringLong("addr", "127.0.0.1:5000", "HTTP listen address (loopback only)")
		dataDir           = fs.StringLong("data-dir", "./data", "Data directory holding database/ and storage/")
		dbPath            = fs.StringLong("db", "", "Document file path (default <data-dir>/database/data.json)")
		backupDir         = fs.StringLong("backup-dir", "", "Backup directory (default <data-dir>/database/backups)")
		storagePath       = fs.StringLong("storage", "", "Receipt storage root (default <data-dir>/storage)")
		backupKeep        = fs.IntLong("backup-keep", receipt.DefaultBackupKeep, "Number of document backups to keep")
		integrityInterval = fs.DurationLong("integrity-interval", receipt.DefaultIntegrityInterval, "Pause between background integrity checks")
		watch             = fs.BoolLong("watch", "Watch the storage tree and re-check integrity when files disappear")
		scannerType       = fs.StringLong("scanner", "none", "OCR scanner: 'none', 'gemini' or 'ollama'")
		geminiKey         = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel       = fs.StringLong("gemini-model", scanning.DefaultGeminiModel, "Google Gemini model name")
		ollamaURL         = fs.StringLong("ollama-url", scanning.DefaultOllamaURL, "Ollama API base URL")
		ollamaModel       = fs.StringLong("ollama-model", scanning.DefaultOllamaModel, "Ollama vision model name (e.g., llava, qwen2-vl)")
		scanCache         = fs.StringLong("scan-cache", "", "Scan result cache file (default <data-dir>/database/scan-cache.db)")
		_                 = fs.StringLong("config", "", "Config file with one 'flag value' pair per line")
		showVersion       = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("WARRANTY_TRACKER"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	orDefault := func(v *string, def string) string {
		if *v != "" {
			return *v
		}
		return def
	}
	documentPath := orDefault(dbPath, filepath.Join(*dataDir, "database", "data.json"))
	backups := orDefault(backupDir, filepath.Join(*dataDir, "database", "backups"))
	storageRoot := orDefault(storagePath, filepath.Join(*dataDir, "storage"))

	// Initialize the document store
	slog.Info("Loading document...", "path", documentPath)
	store, err := receipt.NewStore(documentPath, backups, *backupKeep)
	if err != nil {
		if receipt.IsKind(err, receipt.KindCorruptStore) {
			slog.Error("Document is corrupt; restore a backup before starting", "backups", backups, "error", err)
		} else {
			slog.Error("Failed to load document", "error", err)
		}
		os.Exit(1)
	}

	// Initialize storage
	slog.Info("Initializing storage...", "root", storageRoot)
	storage, err := receipt.NewLocalStorage(storageRoot)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Initialize scanner based on type
	var scanner scanning.Scanner
	switch *scannerType {
	case "none", "":
		slog.Info("OCR scanning disabled")
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini scanner...", "model", *geminiModel)
		scanner, err = scanning.NewGemini(apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", *ollamaURL, "model", *ollamaModel)
		scanner, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid scanner type", "type", *scannerType, "valid", "none, gemini or ollama")
		os.Exit(1)
	}
	if scanner != nil {
		cachePath := orDefault(scanCache, filepath.Join(*dataDir, "database", "scan-cache.db"))
		cache, err := scanning.OpenCache(cachePath)
		if err != nil {
			slog.Error("Failed to open scan cache", "path", cachePath, "error", err)
			os.Exit(1)
		}
		scanner = scanning.NewCachedScanner(scanner, cache)
		defer scanner.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start the background integrity loop
	checker := receipt.NewIntegrityChecker(store, storage, *integrityInterval, nil)
	go checker.Run(ctx)

	if *watch {
		if err := receipt.WatchStorage(ctx, storage.Root(), receipt.DefaultWatchDebounce, checker.Trigger); err != nil {
			slog.Warn("Storage watcher disabled", "error", err)
		}
	}

	// Initialize service and server
	service := receipt.NewService(store, storage, scanner)
	server := receipt.NewServer(service, checker)

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("Server started", "address", fmt.Sprintf("http://%s", *addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown failed", "error", err)
	}
}
