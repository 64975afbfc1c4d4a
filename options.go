package pylock

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/pydeps/pylock/depcache"
	"github.com/pydeps/pylock/markers"
)

// Option configures resolution behavior.
type Option func(*resolverConfig) error

// ProgressStage identifies a phase of a resolution round.
type ProgressStage string

const (
	// StageRoundStart is emitted when a resolution round begins.
	StageRoundStart ProgressStage = "round-start"

	// StagePinned is emitted when a requirement is pinned to a version.
	StagePinned ProgressStage = "pinned"

	// StageConverged is emitted when the requirement set reaches a fixed
	// point.
	StageConverged ProgressStage = "converged"
)

// ProgressEvent describes resolution progress for callers that want to
// surface it (spinners, verbose output).
type ProgressEvent struct {
	Stage   ProgressStage
	Round   int
	Subject string
}

// resolverConfig holds all resolution configuration.
type resolverConfig struct {
	prereleases    *bool
	maxRounds      int
	concurrency    int
	clearCaches    bool
	allowUnsafe    bool
	unsafePackages []string
	environment    markers.Environment
	retryEnv       markers.Environment
	indexURL       string
	timeout        time.Duration
	httpClient     *http.Client
	depCache       *depcache.Cache
	onProgress     func(ProgressEvent)

	// logger is the structured logger for debug/info output.
	// If nil, logging is disabled (silent mode).
	//
	// *slog.Logger rather than a custom interface: slog separates frontend
	// from backend, so callers can plug in any handler they already use.
	// See: https://go.dev/blog/slog
	logger *slog.Logger
}

// defaultMaxRounds bounds the resolve loop. Real dependency graphs converge
// in a handful of rounds; anything near this limit indicates metadata that
// never stabilizes.
const defaultMaxRounds = 10

// defaultConcurrency bounds parallel best-match lookups within a round.
const defaultConcurrency = 8

// UnsafePackages are the packages excluded from results when no package
// outside this set requires them. Pinning build tooling in a lockfile
// breaks the installer that has to honor the lockfile, so these are
// filtered out unless WithAllowUnsafe is given.
var UnsafePackages = []string{"setuptools", "distribute", "pip"}

// DefaultOptions returns options matching the conventional locking
// behavior: no pre-releases unless a specifier asks, bounded rounds,
// unsafe packages filtered.
func DefaultOptions() []Option {
	return []Option{
		WithMaxRounds(defaultMaxRounds),
		WithTimeout(30 * time.Second),
	}
}

// WithPrereleases sets an explicit pre-release policy. true admits
// pre-release versions everywhere; false refuses them everywhere, even when
// a transitive specifier clause such as ">=4.2.0rc1" would otherwise admit
// them. When this option is not given, each specifier's own pre-release
// clauses decide.
func WithPrereleases(allow bool) Option {
	return func(c *resolverConfig) error {
		c.prereleases = &allow
		return nil
	}
}

// WithMaxRounds sets the resolve-loop round limit.
func WithMaxRounds(n int) Option {
	return func(c *resolverConfig) error {
		c.maxRounds = n
		return nil
	}
}

// WithConcurrency bounds how many best-match lookups run in parallel within
// a round.
func WithConcurrency(n int) Option {
	return func(c *resolverConfig) error {
		c.concurrency = n
		return nil
	}
}

// WithClearCaches drops the dependency cache and any repository response
// caches before resolving, forcing fresh metadata.
func WithClearCaches() Option {
	return func(c *resolverConfig) error {
		c.clearCaches = true
		return nil
	}
}

// WithAllowUnsafe keeps normally-filtered packages (setuptools, pip, ...)
// in the result instead of moving them to the unsafe set.
func WithAllowUnsafe() Option {
	return func(c *resolverConfig) error {
		c.allowUnsafe = true
		return nil
	}
}

// WithUnsafePackages overrides the set of packages treated as unsafe.
func WithUnsafePackages(names ...string) Option {
	return func(c *resolverConfig) error {
		c.unsafePackages = append([]string(nil), names...)
		return nil
	}
}

// WithEnvironment sets the marker environment used to evaluate environment
// markers during resolution. Defaults to markers.DefaultEnvironment().
func WithEnvironment(env markers.Environment) Option {
	return func(c *resolverConfig) error {
		c.environment = env
		return nil
	}
}

// WithRetryEnvironment sets a fallback marker environment. When resolution
// fails under the primary environment, it is attempted once more under this
// one; a success is reported with the failure noted in the result warnings.
// Typical use is retrying under a different Python version to diagnose
// version-gated dependency sets.
func WithRetryEnvironment(env markers.Environment) Option {
	return func(c *resolverConfig) error {
		c.retryEnv = env
		return nil
	}
}

// WithIndexURL sets the default package index URL.
func WithIndexURL(url string) Option {
	return func(c *resolverConfig) error {
		c.indexURL = url
		return nil
	}
}

// WithTimeout sets the HTTP request timeout for index repositories.
func WithTimeout(d time.Duration) Option {
	return func(c *resolverConfig) error {
		c.timeout = d
		return nil
	}
}

// WithHTTPClient sets a custom HTTP client for index requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *resolverConfig) error {
		c.httpClient = client
		return nil
	}
}

// WithDependencyCache sets the persistent dependency cache consulted before
// asking the repository for a pinned requirement's dependencies.
func WithDependencyCache(cache *depcache.Cache) Option {
	return func(c *resolverConfig) error {
		c.depCache = cache
		return nil
	}
}

// WithProgress sets a callback for resolution progress events.
func WithProgress(fn func(ProgressEvent)) Option {
	return func(c *resolverConfig) error {
		c.onProgress = fn
		return nil
	}
}

// WithLogger sets a structured logger for resolution diagnostics.
// If not set, logging is disabled (silent mode).
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil)).With("component", "resolver")
//	Resolve(ctx, repo, reqs, WithLogger(logger))
func WithLogger(l *slog.Logger) Option {
	return func(c *resolverConfig) error {
		c.logger = l
		return nil
	}
}

// validate checks the configuration for logical consistency.
func (c *resolverConfig) validate() error {
	if c.maxRounds <= 0 {
		return errors.New("max rounds must be positive")
	}
	if c.concurrency <= 0 {
		return errors.New("concurrency must be positive")
	}
	if c.timeout < 0 {
		return errors.New("timeout must be positive")
	}
	return nil
}

// log returns the configured logger, or a no-op logger if none was set, so
// internal code can log without nil checks. Libraries are silent by
// default; callers opt in via WithLogger.
func (c *resolverConfig) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.New(discardHandler{})
}

// progress emits a progress event if a callback is configured.
func (c *resolverConfig) progress(ev ProgressEvent) {
	if c.onProgress != nil {
		c.onProgress(ev)
	}
}

// unsafeSet returns the effective unsafe package set as canonical keys.
func (c *resolverConfig) unsafeSet() map[string]bool {
	names := c.unsafePackages
	if names == nil {
		names = UnsafePackages
	}
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[CanonicalName(name)] = true
	}
	return set
}

// discardHandler is a slog.Handler that discards all log records.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// newResolverConfig applies options over defaults and validates the result.
func newResolverConfig(opts ...Option) (*resolverConfig, error) {
	c := &resolverConfig{
		maxRounds:   defaultMaxRounds,
		concurrency: defaultConcurrency,
		environment: markers.DefaultEnvironment(),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	if err := c.validate(); err != nil {
		return nil, err
	}

	return c, nil
}
