package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/mvx/internal/cms"
	"github.com/desertthunder/mvx/internal/encoder"
	"github.com/desertthunder/mvx/internal/reconcile"
	"github.com/desertthunder/mvx/internal/repositories"
	"github.com/desertthunder/mvx/internal/shared"
	"github.com/desertthunder/mvx/internal/storage"
	"github.com/desertthunder/mvx/internal/tasks"
	"github.com/desertthunder/mvx/internal/transfer"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	configPath string
	store      storage.Gateway
	cms        cms.Gateway
	encoder    encoder.Encoder
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer
}

// RunnerOpts contains configuration options for creating a Runner.
//
// Store, CMS and Encoder override the gateways built from Config; when all three are set the
// configuration is not validated.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	Store      storage.Gateway
	CMS        cms.Gateway
	Encoder    encoder.Encoder
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		store:      opts.Store,
		cms:        opts.CMS,
		encoder:    opts.Encoder,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, serveCommand, assetsCommand, migrateCommand, bulkCommand, patchCommand, historyCommand, sweepCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// SetLogger replaces the logger, e.g. with a file logger while the TUI owns the terminal.
func (r *Runner) SetLogger(l *log.Logger) {
	r.logger = l
}

// loadConfig re-reads the configuration when a command names a different file than the one loaded at startup.
func (r *Runner) loadConfig(cmd *cli.Command) error {
	path := cmd.String("config")
	if path == "" || path == r.configPath {
		return nil
	}

	config, err := shared.ResolveConfig(path)
	if err != nil {
		return err
	}
	r.config = config
	r.configPath = path
	return nil
}

// stack is the fully wired migration pipeline for one command invocation.
type stack struct {
	store      storage.Gateway
	cms        cms.Gateway
	engine     *transfer.Engine
	orch       *tasks.Orchestrator
	reconciler *reconcile.Reconciler
	transfers  *repositories.TransferRepository
	db         *sql.DB
}

func (s *stack) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// build wires gateways, the engine, the audit log and the orchestrator from the current config.
//
// Configuration is validated here, before any transfer starts.
func (r *Runner) build(ctx context.Context) (*stack, error) {
	cfg := r.config
	s := &stack{store: r.store, cms: r.cms}

	if s.store == nil || s.cms == nil || r.encoder == nil {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	if s.store == nil {
		store, err := storage.New(ctx, cfg.Storage, r.logger)
		if err != nil {
			return nil, err
		}
		s.store = store
	}
	if s.cms == nil {
		s.cms = cms.NewWithHTTPClient(cfg.CMS, r.httpClient, r.logger)
	}
	enc := r.encoder
	if enc == nil {
		enc = encoder.New(cfg.Encoder, r.logger)
	}

	db, err := shared.OpenDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}
	s.db = db
	s.transfers = repositories.NewTransferRepository(db)

	s.engine = transfer.NewEngine(s.store, s.cms, enc, transfer.OptionsFromConfig(cfg), r.logger).WithHTTPClient(r.httpClient)
	s.orch = tasks.New(s.engine, s.cms, r.logger,
		tasks.WithRecorder(s.transfers),
		tasks.WithRunRecorder(repositories.NewWorklistRepository(db)),
		tasks.WithRate(cfg.Transfer.ItemsPerSecond),
	)
	s.reconciler = reconcile.New(s.cms, r.logger)
	return s, nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
