// Package testutil provides the shared server fixture for dispatcher and
// end-to-end API tests: a temp-dir backed document store, a permissive test
// schema, and a fake external executor with call counters.
package testutil

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/birdrest/birdrest/core/config"
	"github.com/birdrest/birdrest/core/errlog"
	"github.com/birdrest/birdrest/core/render"
	"github.com/birdrest/birdrest/core/schema"
	"github.com/birdrest/birdrest/core/server"
	"github.com/birdrest/birdrest/core/session"
	"github.com/birdrest/birdrest/core/store"
)

const DefaultSchema = `{
    "type": "object",
    "properties": {
        "router-id": {"type": "string"},
        "bgp": {"type": "object"},
        "static": {"type": "object"}
    },
    "additionalProperties": false
}`

const DefaultSeedConfig = `{"router-id":"10.0.0.1","bgp":{"sessions":{"upstream":{"local":{"as":65000},"peer":{"address":"192.0.2.2","as":65001}}}}}`

// FakeExecutor counts validate/load/rollback invocations and can be told to
// fail any of them.
type FakeExecutor struct {
	mu            sync.Mutex
	validateCalls int
	loadCalls     int
	rollbackCalls int
	FailValidate  bool
	FailLoad      bool
	FailRollback  bool
}

func (f *FakeExecutor) Validate(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validateCalls++
	if f.FailValidate {
		return errors.New("external validation failed")
	}
	return nil
}

func (f *FakeExecutor) Load(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadCalls++
	if f.FailLoad {
		return errors.New("external load failed")
	}
	return nil
}

func (f *FakeExecutor) Rollback(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rollbackCalls++
	if f.FailRollback {
		return errors.New("external rollback failed")
	}
	return nil
}

func (f *FakeExecutor) Counts() (validate, load, rollback int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.validateCalls, f.loadCalls, f.rollbackCalls
}

type FixtureOptions struct {
	SeedConfig            string
	Schema                string
	SessionTimeout        time.Duration
	ReaperInterval        time.Duration
	IdleCandidateTimeout  time.Duration
	ConfirmDefaultTimeout time.Duration
}

type Fixture struct {
	ConfigPath string
	TargetPath string
	Running    *config.Manager
	Sessions   *session.Coordinator
	Exec       *FakeExecutor
	Ring       *errlog.Ring
	Server     *server.Server
}

// NewFixture assembles a complete dispatcher over a temp directory,
// mirroring the daemon's startup order: schema, running document, rendered
// target file.
func NewFixture(t *testing.T, options FixtureOptions) *Fixture {
	t.Helper()
	if options.SeedConfig == "" {
		options.SeedConfig = DefaultSeedConfig
	}
	if options.Schema == "" {
		options.Schema = DefaultSchema
	}
	if options.SessionTimeout == 0 {
		options.SessionTimeout = time.Minute
	}
	if options.ReaperInterval == 0 {
		options.ReaperInterval = 20 * time.Millisecond
	}

	configDir := t.TempDir()
	targetDir := t.TempDir()
	configPath := filepath.Join(configDir, "config.json")
	schemaPath := filepath.Join(t.TempDir(), "schema.json")
	targetPath := filepath.Join(targetDir, "bird.conf")

	if err := os.WriteFile(configPath, []byte(options.SeedConfig), 0o644); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	if err := os.WriteFile(schemaPath, []byte(options.Schema), 0o644); err != nil {
		t.Fatalf("seed schema: %v", err)
	}

	validator, err := schema.NewValidator(store.NewJSONFileStore(schemaPath, nil), nil)
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	runningStore := store.NewJSONFileStore(configPath, nil)
	running := config.NewManager(runningStore, nil)
	if err := running.Load(); err != nil {
		t.Fatalf("load running config: %v", err)
	}

	targetStore := store.NewFileStore(targetPath, nil)
	rendered, err := render.Render(running.Document())
	if err != nil {
		t.Fatalf("render seed config: %v", err)
	}
	if err := targetStore.Save(rendered); err != nil {
		t.Fatalf("write seed target: %v", err)
	}

	sessions := session.NewCoordinator(options.SessionTimeout, options.ReaperInterval, nil)
	sessions.Start()
	t.Cleanup(sessions.Stop)

	fakeExec := &FakeExecutor{}
	ring := errlog.NewRing(errlog.DefaultCapacity)
	dispatcher := server.New(server.Options{
		Sessions:              sessions,
		Running:               running,
		Schema:                validator,
		RunningStore:          runningStore,
		TargetStore:           targetStore,
		Executor:              fakeExec,
		ErrLog:                ring,
		IdleCandidateTimeout:  options.IdleCandidateTimeout,
		ConfirmDefaultTimeout: options.ConfirmDefaultTimeout,
	})

	return &Fixture{
		ConfigPath: configPath,
		TargetPath: targetPath,
		Running:    running,
		Sessions:   sessions,
		Exec:       fakeExec,
		Ring:       ring,
		Server:     dispatcher,
	}
}

// TargetFile reads the rendered target file.
func (f *Fixture) TargetFile(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(f.TargetPath)
	if err != nil {
		t.Fatalf("read target file: %v", err)
	}
	return string(data)
}

// RunningRendering renders the current running document.
func (f *Fixture) RunningRendering(t *testing.T) string {
	t.Helper()
	rendered, err := render.Render(f.Running.Document())
	if err != nil {
		t.Fatalf("render running config: %v", err)
	}
	return string(rendered)
}
