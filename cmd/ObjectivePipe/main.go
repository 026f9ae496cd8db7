package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/BTreeMap/ObjectivePipe/internal/api"
	"github.com/BTreeMap/ObjectivePipe/internal/defcache"
	"github.com/BTreeMap/ObjectivePipe/internal/engine"
	"github.com/BTreeMap/ObjectivePipe/internal/genai"
	"github.com/BTreeMap/ObjectivePipe/internal/lockfile"
	"github.com/BTreeMap/ObjectivePipe/internal/messaging"
	"github.com/BTreeMap/ObjectivePipe/internal/store"
	"github.com/BTreeMap/ObjectivePipe/internal/twiliosms"
	"github.com/BTreeMap/ObjectivePipe/internal/util"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ObjectivePipe state data
	DefaultStateDir = "/var/lib/objectivepipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "objectivepipe.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	slog.Info("Bootstrapping ObjectivePipe with configured modules")
	slog.Debug("Final configuration",
		"state_dir", *flags.stateDir,
		"dsn_set", *flags.dbDSN != "",
		"redis_addr", *flags.redisAddr,
		"api_addr", *flags.apiAddr)

	if err := run(flags); err != nil {
		slog.Error("ObjectivePipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("ObjectivePipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL string
	StateDir    string
	OpenAIKey   string
	RedisAddr   string
	APIAddr     string
}

// Flags holds command line flag values
type Flags struct {
	stateDir  *string
	dbDSN     *string
	openaiKey *string
	redisAddr *string
	apiAddr   *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StateDir:    os.Getenv("OBJECTIVEPIPE_STATE_DIR"),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		APIAddr:     os.Getenv("API_ADDR"),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No OBJECTIVEPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("OBJECTIVEPIPE_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"OBJECTIVEPIPE_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"REDIS_ADDR", config.RedisAddr,
		"API_ADDR", config.APIAddr)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:  flag.String("state-dir", config.StateDir, "state directory for ObjectivePipe data (overrides $OBJECTIVEPIPE_STATE_DIR)"),
		dbDSN:     flag.String("db-dsn", config.DatabaseURL, "database DSN for the definition and conversation store (overrides $DATABASE_URL)"),
		openaiKey: flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		redisAddr: flag.String("redis-addr", config.RedisAddr, "Redis address for the definition cache (overrides $REDIS_ADDR)"),
		apiAddr:   flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"redisAddr", *flags.redisAddr,
		"apiAddr", *flags.apiAddr)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// buildStore opens the configured storage backend and seeds the built-in
// definitions on first run.
func buildStore(flags Flags) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		st, err = store.NewPostgresStore(store.WithDSN(*flags.dbDSN))
	} else {
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
		st, err = store.NewSQLiteStore(store.WithDSN(*flags.dbDSN))
	}
	if err != nil {
		return nil, err
	}
	if util.ParseBoolEnv("OBJECTIVEPIPE_SEED_DEFAULTS", true) {
		if err := store.Seed(st); err != nil {
			st.Close()
			return nil, err
		}
	} else {
		slog.Info("Skipping default definition seeding per OBJECTIVEPIPE_SEED_DEFAULTS")
	}
	return st, nil
}

// buildMessagingService wires the Twilio-backed messaging service. Missing
// credentials fall back to the mock sender so local development works
// without a Twilio account.
func buildMessagingService() *messaging.TwilioService {
	client, err := twiliosms.NewClient()
	if err != nil {
		slog.Warn("Twilio credentials not configured, using mock sender", "error", err)
		return messaging.NewTwilioService(twiliosms.NewMockClient())
	}
	return messaging.NewTwilioService(client)
}

func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The SQLite backend lives in the state directory, so guard it against
	// a second instance. Postgres handles its own concurrency.
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		lock, err := lockfile.AcquireLock(*flags.stateDir)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	var rdb *redis.Client
	if *flags.redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: *flags.redisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("Redis unreachable, definition cache disabled", "error", err, "addr", *flags.redisAddr)
			rdb.Close()
			rdb = nil
		}
		if rdb != nil {
			defer rdb.Close()
		}
	}
	cache := defcache.New(st, rdb)

	eng := engine.NewEngine(cache)

	msgService := buildMessagingService()
	if err := msgService.Start(ctx); err != nil {
		return err
	}
	defer msgService.Stop()

	var handlerOpts []messaging.HandlerOption
	if *flags.openaiKey != "" {
		gaClient, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey))
		if err != nil {
			slog.Warn("GenAI client unavailable, using static replies", "error", err)
		} else {
			handlerOpts = append(handlerOpts, messaging.WithReplyGenerator(gaClient))
		}
	} else {
		slog.Info("No OpenAI API key configured, using static replies")
	}

	respHandler := messaging.NewResponseHandler(msgService, st, eng, handlerOpts...)
	respHandler.Start(ctx)

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	server := api.NewServer(st, cache, msgService, respHandler, apiOpts...)
	return server.Run(ctx)
}
