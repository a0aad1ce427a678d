// Package redarc is the public entry point for the engine: it wires C1
// discovery, C5 query compilation, C6 scanning, C8 sinks, C9 parent
// attachment, and C10 integrity checking behind a small Ports surface,
// mirroring the teacher's module Ports pattern (internal/services/*/module)
// without the DB/HTTP machinery those modules carry — this engine has no
// durable store and mounts no routes
package redarc

import (
	"context"

	"redarc/internal/core/corpus"
	"redarc/internal/core/integrity"
	"redarc/internal/core/query"
	"redarc/internal/core/scan"
	"redarc/internal/core/transform"
	"redarc/internal/parents"
)

// Config is the facade's top-level configuration: the corpus location and
// the scheduler tuning that every operation shares
type Config struct {
	BaseDir string
	Scan    scan.Config
}

// ScanRequest configures one C6 run
type ScanRequest struct {
	Sources   corpus.SourceKind
	Window    corpus.YearMonthRange
	Query     *query.Compiled
	Transform *transform.Transform
	Sink      scan.Sink
	Progress  scan.Progress
}

// AttachRequest configures a full C9 three-pass run: collect referenced
// parent ids from SpoolParts, resolve them against the corpus within
// Window, then attach resolved payloads back into OutDir
type AttachRequest struct {
	SpoolParts []string
	Window     corpus.YearMonthRange
	CacheDir   string
	OutDir     string
	Resume     bool
	// IncludeLinkID additionally collects link_id fullnames in Pass 1.
	// Default is parent_id only, per spec.md §4.9
	IncludeLinkID bool
}

// IntegrityRequest configures a C10 probe run
type IntegrityRequest struct {
	Sources corpus.SourceKind
	Window  corpus.YearMonthRange
	Mode    integrity.Config
}

// RunnerPort is the port exposed by this engine to callers (the demo CLI,
// or any other program embedding it)
type RunnerPort interface {
	Scan(ctx context.Context, req ScanRequest) (scan.Result, error)
	AttachParents(ctx context.Context, req AttachRequest) error
	CheckIntegrity(ctx context.Context, req IntegrityRequest) ([]integrity.Suspect, error)
}

// Ports bundles the engine's public surface
type Ports struct {
	Runner RunnerPort
}

// Facade is the constructed engine instance
type Facade struct {
	cfg   Config
	ports Ports
}

// New constructs the engine from cfg. It wires no adapters beyond what each
// request supplies — there is no ambient DB pool or HTTP mux to share, so,
// unlike the teacher's modkit.Deps-based constructors, New takes no deps
// parameter
func New(cfg Config) *Facade {
	f := &Facade{cfg: cfg}
	f.ports = Ports{Runner: &engine{cfg: cfg}}
	return f
}

// Name returns the facade's module name
func (f *Facade) Name() string { return "redarc" }

// Ports returns the facade's public port bundle
func (f *Facade) Ports() Ports { return f.ports }

type engine struct {
	cfg Config
}

func (e *engine) Scan(ctx context.Context, req ScanRequest) (scan.Result, error) {
	files, err := corpus.Discover(e.cfg.BaseDir, req.Sources, req.Window)
	if err != nil {
		return scan.Result{}, err
	}
	sched := scan.New(e.cfg.Scan, req.Progress)
	return sched.Run(ctx, files, scan.Pipeline{
		Query:     req.Query,
		Transform: req.Transform,
		Sink:      req.Sink,
	})
}

func (e *engine) AttachParents(ctx context.Context, req AttachRequest) error {
	wantT1, wantT3, err := parents.CollectIDs(ctx, req.SpoolParts, parents.CollectConfig{
		Concurrency:   e.cfg.Scan.FileConcurrency,
		IncludeLinkID: req.IncludeLinkID,
	})
	if err != nil {
		return err
	}
	maps, err := parents.Resolve(ctx, parents.ResolveConfig{
		BaseDir:         e.cfg.BaseDir,
		CacheDir:        req.CacheDir,
		Window:          req.Window,
		Resume:          req.Resume,
		FileConcurrency: e.cfg.Scan.FileConcurrency,
		WindowLog:       e.cfg.Scan.WindowLog,
	}, wantT1, wantT3)
	if err != nil {
		return err
	}
	defer func() { _ = maps.Close() }()

	return parents.Attach(ctx, parents.AttachConfig{
		Parts:       req.SpoolParts,
		OutDir:      req.OutDir,
		Resume:      req.Resume,
		Concurrency: e.cfg.Scan.FileConcurrency,
	}, maps)
}

func (e *engine) CheckIntegrity(ctx context.Context, req IntegrityRequest) ([]integrity.Suspect, error) {
	files, err := corpus.Discover(e.cfg.BaseDir, req.Sources, req.Window)
	if err != nil {
		return nil, err
	}
	return integrity.Check(ctx, files, req.Mode)
}
