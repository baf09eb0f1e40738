package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cajulimao/atendebot/internal/admin"
	"github.com/cajulimao/atendebot/internal/api"
	"github.com/cajulimao/atendebot/internal/conversation"
	"github.com/cajulimao/atendebot/internal/dialog"
	"github.com/cajulimao/atendebot/internal/handoff"
	"github.com/cajulimao/atendebot/internal/lockfile"
	"github.com/cajulimao/atendebot/internal/messaging"
	"github.com/cajulimao/atendebot/internal/router"
	"github.com/cajulimao/atendebot/internal/store"
	"github.com/cajulimao/atendebot/internal/twiliowhatsapp"
	"github.com/cajulimao/atendebot/internal/util"
	"github.com/cajulimao/atendebot/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for AtendeBot state data
	DefaultStateDir = "/var/lib/atendebot"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "atendebot.db"
	// DefaultSessionDBFileName is the default WhatsApp session database filename
	DefaultSessionDBFileName = "whatsmeow.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	if err := run(config, flags); err != nil {
		slog.Error("AtendeBot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("AtendeBot exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir       string
	DatabaseURL    string
	SessionDSN     string
	Channel        string
	Operators      string
	APIAddr        string
	HRPhone        string
	HREmail        string
	RecoveryWindow time.Duration
	MenuCooldown   time.Duration
}

// Flags holds command line flag values
type Flags struct {
	qrOutput  *string
	numeric   *bool
	stateDir  *string
	dbDSN     *string
	channel   *string
	operators *string
	apiAddr   *string
}

// initializeLogger sets up structured logging
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("ATENDEBOT_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
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
		StateDir:       os.Getenv("ATENDEBOT_STATE_DIR"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		SessionDSN:     os.Getenv("WHATSAPP_DB_DSN"),
		Channel:        os.Getenv("ATENDEBOT_CHANNEL"),
		Operators:      os.Getenv("ATENDEBOT_OPERATORS"),
		APIAddr:        os.Getenv("API_ADDR"),
		HRPhone:        os.Getenv("ATENDEBOT_HR_PHONE"),
		HREmail:        os.Getenv("ATENDEBOT_HR_EMAIL"),
		RecoveryWindow: util.ParseDurationEnv("ATENDEBOT_RECOVERY_WINDOW", handoff.DefaultRecoveryWindow),
		MenuCooldown:   util.ParseDurationEnv("ATENDEBOT_MENU_COOLDOWN", conversation.DefaultMenuCooldown),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No ATENDEBOT_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.SessionDSN == "" {
		config.SessionDSN = filepath.Join(config.StateDir, DefaultSessionDBFileName)
	}
	if config.Channel == "" {
		config.Channel = "whatsapp"
	}

	slog.Debug("environment variables loaded",
		"ATENDEBOT_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"WHATSAPP_DB_DSN_SET", config.SessionDSN != "",
		"ATENDEBOT_CHANNEL", config.Channel,
		"ATENDEBOT_OPERATORS_SET", config.Operators != "",
		"API_ADDR", config.APIAddr,
		"recovery_window", config.RecoveryWindow,
		"menu_cooldown", config.MenuCooldown)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:  flag.String("qr-output", "", "path to write login QR code"),
		numeric:   flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:  flag.String("state-dir", config.StateDir, "state directory for AtendeBot data (overrides $ATENDEBOT_STATE_DIR)"),
		dbDSN:     flag.String("db-dsn", config.DatabaseURL, "database DSN for conversation state (overrides $DATABASE_URL)"),
		channel:   flag.String("channel", config.Channel, "messaging channel: whatsapp or twilio (overrides $ATENDEBOT_CHANNEL)"),
		operators: flag.String("operators", config.Operators, "comma-separated operator phone numbers (overrides $ATENDEBOT_OPERATORS)"),
		apiAddr:   flag.String("api-addr", config.APIAddr, "dashboard API address (overrides $API_ADDR)"),
	}

	flag.Parse()

	// Follow the state directory when the DSN was left at its derived default.
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
	}

	return flags
}

// ensureDirectoriesExist creates the state directory for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		stateDir := filepath.Dir(*flags.dbDSN)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// buildStore opens the durable store matching the DSN type.
func buildStore(dsn string) (store.Store, error) {
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Info("Using PostgreSQL store", "dsn_set", true)
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	}
	slog.Info("Using SQLite store", "db_path", dsn)
	return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
}

// buildMessagingService builds the configured transport: the live Whatsmeow
// client or the Twilio REST client.
func buildMessagingService(config Config, flags Flags) (messaging.Service, *messaging.TwilioService, error) {
	if *flags.channel == "twilio" {
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, nil, err
		}
		svc := messaging.NewTwilioService(client)
		return svc, svc, nil
	}

	var waOpts []whatsapp.Option
	waOpts = append(waOpts, whatsapp.WithDBDSN(config.SessionDSN))
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	client, err := whatsapp.NewClient(waOpts...)
	if err != nil {
		return nil, nil, err
	}
	return messaging.NewWhatsAppService(client), nil, nil
}

// run wires the modules together in dependency order and blocks until a
// shutdown signal arrives.
func run(config Config, flags Flags) error {
	// A second instance on the same state directory would double-reply.
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := buildStore(*flags.dbDSN)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// The cache and arbitrator must be rebuilt from the store before the
	// first inbound message, otherwise returning contacts and active
	// handoffs would be treated as new.
	cache := conversation.NewCache(st, conversation.WithMenuCooldown(config.MenuCooldown))
	if err := cache.LoadAll(ctx); err != nil {
		return err
	}
	arb := handoff.NewArbitrator(st, cache, handoff.WithRecoveryWindow(config.RecoveryWindow))
	if err := arb.RecoverActiveOnStartup(ctx); err != nil {
		return err
	}

	var machineOpts []dialog.Option
	if config.HRPhone != "" || config.HREmail != "" {
		machineOpts = append(machineOpts, dialog.WithHRContact(config.HRPhone, config.HREmail))
	}
	machine := dialog.NewMachine(machineOpts...)
	adm := admin.NewProcessor(splitOperators(*flags.operators), arb)

	svc, twilioSvc, err := buildMessagingService(config, flags)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return err
	}

	rt := router.NewRouter(svc, st, cache, arb, adm, machine)
	rt.Start(ctx)

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if twilioSvc != nil {
		apiOpts = append(apiOpts, api.WithMessageInjector(twilioSvc))
	}
	apiServer := api.NewServer(st, arb, apiOpts...)
	apiServer.Start(ctx)

	slog.Info("AtendeBot running", "channel", *flags.channel, "operators", len(adm.Operators()))
	<-ctx.Done()

	slog.Info("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		slog.Error("Dashboard API shutdown failed", "error", err)
	}
	if err := svc.Stop(); err != nil {
		slog.Error("Messaging service shutdown failed", "error", err)
	}
	rt.Wait()
	return nil
}

// splitOperators parses the comma-separated operator list.
func splitOperators(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
