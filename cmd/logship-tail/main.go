// Command logship-tail follows a log file and ships every line to an HTTP
// sink through a durable local queue, so the sink being down never loses
// lines.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hpcloud/tail"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/velmie/logship"
	"github.com/velmie/logship/sqlite"
)

const (
	defaultDBPath        = "logship.db"
	defaultBatchSize     = 100
	defaultFlushInterval = 5 * time.Second
)

var (
	errFileRequired    = errors.New("logship-tail: file is required")
	errURLRequired     = errors.New("logship-tail: url is required")
	errProjectRequired = errors.New("logship-tail: project is required")
	errTableRequired   = errors.New("logship-tail: table is required")
)

type config struct {
	File     string            `yaml:"file"`
	URL      string            `yaml:"url"`
	Project  string            `yaml:"project"`
	Table    string            `yaml:"table"`
	DBPath   string            `yaml:"db_path"`
	Username string            `yaml:"username"`
	Password string            `yaml:"password"`
	Headers  map[string]string `yaml:"headers"`
	Fields   map[string]any    `yaml:"fields"`
	// Level is stamped on every shipped line. Tailed lines are opaque
	// text, so there is nothing to filter by; the value only labels.
	Level         string        `yaml:"level"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	FromStart     bool          `yaml:"from_start"`
}

func (c config) withDefaults() config {
	if c.DBPath == "" {
		c.DBPath = defaultDBPath
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.Level == "" {
		c.Level = logship.LevelInfo.String()
	}
	// Credentials are usually kept out of the config file.
	if c.Username == "" {
		c.Username = os.Getenv("LOGSHIP_USERNAME")
	}
	if c.Password == "" {
		c.Password = os.Getenv("LOGSHIP_PASSWORD")
	}

	return c
}

func (c config) validate() error {
	if c.File == "" {
		return errFileRequired
	}
	if c.URL == "" {
		return errURLRequired
	}
	if c.Project == "" {
		return errProjectRequired
	}
	if c.Table == "" {
		return errTableRequired
	}

	return nil
}

func main() {
	var (
		configPath string
		envPath    string
		file       string
		url        string
		project    string
		table      string
		dbPath     string
		level      string
		fromStart  bool
		verbose    bool
	)

	flag.StringVar(&configPath, "config", "", "YAML config file")
	flag.StringVar(&envPath, "env", "", "dotenv file with LOGSHIP_USERNAME/LOGSHIP_PASSWORD")
	flag.StringVar(&file, "file", "", "Log file to follow")
	flag.StringVar(&url, "url", "", "Sink URL")
	flag.StringVar(&project, "project", "", "Project name stamped into every record")
	flag.StringVar(&table, "table", "", "Destination table name")
	flag.StringVar(&dbPath, "db", "", "Queue database path")
	flag.StringVar(&level, "level", "", "Level stamped on shipped lines")
	flag.BoolVar(&fromStart, "from-start", false, "Read the file from the beginning instead of the end")
	flag.BoolVar(&verbose, "verbose", false, "Enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	opLog := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	cfg, err := loadConfig(configPath, envPath)
	if err != nil {
		exitErr(err)
	}
	cfg = overrideConfig(cfg, file, url, project, table, dbPath, level, fromStart)
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		exitErr(err)
	}

	shipLevel, err := logship.ParseLevel(cfg.Level)
	if err != nil {
		exitErr(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, shipLevel, opLog); err != nil {
		exitErr(err)
	}
}

func loadConfig(configPath, envPath string) (config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			return config{}, fmt.Errorf("logship-tail: load env file: %w", err)
		}
	}

	var cfg config
	if configPath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return config{}, fmt.Errorf("logship-tail: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return config{}, fmt.Errorf("logship-tail: parse config: %w", err)
	}

	return cfg, nil
}

// overrideConfig applies non-empty flag values on top of the file config.
func overrideConfig(cfg config, file, url, project, table, dbPath, level string, fromStart bool) config {
	if file != "" {
		cfg.File = file
	}
	if url != "" {
		cfg.URL = url
	}
	if project != "" {
		cfg.Project = project
	}
	if table != "" {
		cfg.Table = table
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if level != "" {
		cfg.Level = level
	}
	if fromStart {
		cfg.FromStart = true
	}

	return cfg
}

func run(ctx context.Context, cfg config, shipLevel logship.Level, opLog *slog.Logger) error {
	queue, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return err
	}

	senderOpts := []logship.SenderOption{
		logship.WithSenderLogger(logship.SlogLogger{L: opLog}),
	}
	if len(cfg.Headers) > 0 {
		senderOpts = append(senderOpts, logship.WithHeaders(cfg.Headers))
	}
	if cfg.Username != "" && cfg.Password != "" {
		senderOpts = append(senderOpts, logship.WithBasicAuth(cfg.Username, cfg.Password))
	}
	sender := logship.NewHTTPSender(cfg.URL, senderOpts...)

	shipperOpts := []logship.Option{
		logship.WithBatchSize(cfg.BatchSize),
		logship.WithFlushInterval(cfg.FlushInterval),
		logship.WithLogger(logship.SlogLogger{L: opLog}),
	}
	if len(cfg.Fields) > 0 {
		shipperOpts = append(shipperOpts, logship.WithFields(cfg.Fields))
	}
	shipper, err := logship.New(cfg.Project, cfg.Table, queue, sender, shipperOpts...)
	if err != nil {
		_ = queue.Close()

		return err
	}
	// Shipper.Close owns the queue and the sender.
	defer func() {
		if err := shipper.Close(); err != nil {
			opLog.Error("shutdown", "err", err)
		}
	}()

	tailCfg := tail.Config{
		Follow: true,
		ReOpen: true,
		Logger: tail.DiscardingLogger,
	}
	if !cfg.FromStart {
		tailCfg.Location = &tail.SeekInfo{Whence: io.SeekEnd}
	}
	t, err := tail.TailFile(cfg.File, tailCfg)
	if err != nil {
		return fmt.Errorf("logship-tail: tail %s: %w", cfg.File, err)
	}
	defer func() {
		_ = t.Stop()
		t.Cleanup()
	}()

	opLog.Info("following file", "file", cfg.File, "url", cfg.URL, "db", cfg.DBPath)

	for {
		select {
		case <-ctx.Done():
			opLog.Info("shutting down")

			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return fmt.Errorf("logship-tail: tail %s: %w", cfg.File, t.Err())
			}
			if line.Err != nil {
				opLog.Warn("read line", "err", line.Err)

				continue
			}
			shipper.Log(shipLevel, logship.Text(line.Text), nil)
		}
	}
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
