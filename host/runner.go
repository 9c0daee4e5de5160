package host

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sentinel-dev/sentinel/application/budget"
	"github.com/sentinel-dev/sentinel/domain/entities"
	"github.com/sentinel-dev/sentinel/domain/errors"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

// PageSize is the wasm page size in bytes.
const PageSize = 64 * 1024

// maxPages is the 32-bit address space in pages.
const maxPages = 65536

// Budget is the part of the session budget a Runner enforces.
type Budget interface {
	AcquireInstance(ctx context.Context) (func(), error)
	CheckMemory(ctx context.Context, bytes uint64) error
	CheckTimeout(ctx context.Context, now time.Time) error
	Deadline() time.Time
	Limits() entities.BudgetLimits
}

var _ Budget = (*budget.Enforcer)(nil)

// Runner executes guests in one wazero runtime.
type Runner struct {
	runtime wazero.Runtime
	budget  Budget
	logger  *slog.Logger
	config  runnerConfig
}

// Guest is a compiled module ready to run.
type Guest struct {
	compiled wazero.CompiledModule
	name     string
	declared uint64
}

// Name returns the guest's module name.
func (g *Guest) Name() string { return g.name }

// DeclaredMemory returns the initial memory the guest declares, in bytes.
func (g *Guest) DeclaredMemory() uint64 { return g.declared }

// NewRunner creates a runtime bounded by b.
func NewRunner(ctx context.Context, b Budget, opts ...RunnerOption) (*Runner, error) {
	cfg := defaultRunnerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	pages := cfg.memoryPages
	if pages == 0 {
		pages = pagesFor(b.Limits().MemoryBytes)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().
		WithMemoryLimitPages(pages).
		WithCloseOnContextDone(true))

	if cfg.wasi {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
			_ = rt.Close(ctx)
			return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
		}
	}
	for _, m := range cfg.hostModules {
		if err := m(ctx, rt); err != nil {
			_ = rt.Close(ctx)
			return nil, err
		}
	}

	return &Runner{
		runtime: rt,
		budget:  b,
		logger:  cfg.logger.With("target", "sentinel::wasm"),
		config:  cfg,
	}, nil
}

// pagesFor converts a byte ceiling into a page limit, rounding down.
func pagesFor(bytes uint64) uint32 {
	if bytes == 0 || bytes/PageSize >= maxPages {
		return maxPages
	}
	pages := uint32(bytes / PageSize) //nolint:gosec // G115: bounded by maxPages above
	if pages == 0 {
		return 1
	}
	return pages
}

// Compile validates wasm and checks its declared memory against the
// ceiling.
func (r *Runner) Compile(ctx context.Context, name string, wasm []byte) (*Guest, error) {
	compiled, err := r.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("failed to compile guest %s: %w", name, err)
	}

	var minPages uint32
	for _, mem := range compiled.ImportedMemories() {
		minPages = max(minPages, mem.Min())
	}
	for _, mem := range compiled.ExportedMemories() {
		minPages = max(minPages, mem.Min())
	}
	declared := uint64(minPages) * PageSize
	if err := r.budget.CheckMemory(ctx, declared); err != nil {
		_ = compiled.Close(ctx)
		return nil, err
	}
	return &Guest{compiled: compiled, name: name, declared: declared}, nil
}

// Run instantiates g and calls its entrypoint. It holds an instance
// slot for the duration and stops the guest at the session deadline.
func (r *Runner) Run(ctx context.Context, g *Guest) error {
	release, err := r.budget.AcquireInstance(ctx)
	if err != nil {
		return err
	}
	defer release()

	runCtx := ctx
	deadline := r.budget.Deadline()
	sessionBound := false
	if !deadline.IsZero() {
		remaining := deadline.Sub(r.config.clock.Now())
		if remaining <= 0 {
			return r.deadlineReached(ctx, deadline)
		}
		callerDeadline, ok := ctx.Deadline()
		sessionBound = !ok || time.Until(callerDeadline) >= remaining
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, remaining)
		defer cancel()
	}

	modCfg := wazero.NewModuleConfig().
		WithName(g.name).
		WithArgs(append([]string{g.name}, r.config.args...)...).
		WithStdout(r.config.stdout).
		WithStderr(r.config.stderr).
		WithSysWalltime().
		WithSysNanotime().
		WithStartFunctions()

	r.logger.DebugContext(ctx, "starting guest", "guest", g.name, "entrypoint", r.config.entrypoint)
	mod, err := r.runtime.InstantiateModule(runCtx, g.compiled, modCfg)
	if err != nil {
		return r.classify(ctx, g, err, deadline, sessionBound)
	}
	defer func() { _ = mod.Close(context.WithoutCancel(ctx)) }()

	if init := mod.ExportedFunction("_initialize"); init != nil {
		if _, err := init.Call(runCtx); err != nil {
			return r.classify(ctx, g, err, deadline, sessionBound)
		}
	}
	entry := mod.ExportedFunction(r.config.entrypoint)
	if entry == nil {
		return fmt.Errorf("guest %s does not export %q", g.name, r.config.entrypoint)
	}
	if _, err := entry.Call(runCtx); err != nil {
		return r.classify(ctx, g, err, deadline, sessionBound)
	}
	r.logger.DebugContext(ctx, "guest finished", "guest", g.name)
	return nil
}

// classify maps wazero's exit errors onto the error taxonomy. A clean
// proc_exit(0) is success.
func (r *Runner) classify(ctx context.Context, g *Guest, err error, deadline time.Time, sessionBound bool) error {
	var exitErr *sys.ExitError
	if stderrors.As(err, &exitErr) && exitErr.ExitCode() == 0 {
		return nil
	}
	switch {
	case stderrors.Is(err, context.DeadlineExceeded) && sessionBound:
		return r.deadlineReached(ctx, deadline)
	case stderrors.Is(err, context.DeadlineExceeded):
		return &errors.TimeoutError{Operation: "guest_run", Target: g.name}
	case stderrors.Is(err, context.Canceled):
		return fmt.Errorf("guest %s: %w", g.name, context.Canceled)
	}
	r.logger.WarnContext(ctx, "guest failed", "guest", g.name, "error", err)
	return fmt.Errorf("guest %s: %w", g.name, err)
}

// deadlineReached traps the session on its timeout dimension.
func (r *Runner) deadlineReached(ctx context.Context, deadline time.Time) error {
	if err := r.budget.CheckTimeout(context.WithoutCancel(ctx), deadline); err != nil {
		return err
	}
	return &errors.BudgetExhaustedError{Dimension: entities.DimensionTimeout, Reason: "session deadline reached"}
}

// Close releases the runtime and every compiled guest.
func (r *Runner) Close(ctx context.Context) error {
	return r.runtime.Close(ctx)
}
