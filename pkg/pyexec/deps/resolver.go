package deps

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rhuss/sktools/pkg/debug"
	"github.com/rhuss/sktools/pkg/pyexec/safety"
)

// DefaultInstallTimeout bounds a single package installation.
const DefaultInstallTimeout = 120 * time.Second

// LogNetworkDisabled is the single log line recorded when installs are
// skipped because networking is off.
const LogNetworkDisabled = "Network access is disabled; cannot install packages"

var (
	importPattern = regexp.MustCompile(`(?m)^import\s+([a-zA-Z0-9_.]+(?:\s+as\s+\w+)?(?:\s*,\s*[a-zA-Z0-9_.]+(?:\s+as\s+\w+)?)*)|^from\s+([a-zA-Z0-9_.]+)\s+import`)
	unsafeName    = regexp.MustCompile(`[^a-zA-Z0-9_.\-]`)
)

// Installer checks and installs packages in one Python environment.
type Installer interface {
	// Missing returns the modules that cannot be imported.
	Missing(ctx context.Context, modules []string) ([]string, error)

	// Install installs one package and returns the package manager output.
	Install(ctx context.Context, pkg string) (string, error)
}

// Config configures a Resolver.
type Config struct {
	Policy    *safety.Policy
	Installer Installer

	// Aliases extends DefaultAliases. Entries here take precedence.
	Aliases map[string]string

	// InstallTimeout bounds each package install. Zero means
	// DefaultInstallTimeout.
	InstallTimeout time.Duration

	// Lock, when set, is held across the missing check and the installs
	// so concurrent requests against one environment do not race.
	Lock sync.Locker

	Logger *slog.Logger
}

// Resolver derives and installs the third-party packages a script needs.
type Resolver struct {
	builtins  map[string]struct{}
	aliases   map[string]string
	policy    *safety.Policy
	installer Installer
	timeout   time.Duration
	lock      sync.Locker
	logger    *slog.Logger
}

// New creates a Resolver. A nil Policy means the default denylist with
// networking enabled.
func New(cfg Config) *Resolver {
	r := &Resolver{
		builtins:  make(map[string]struct{}, len(stdlibModules)),
		aliases:   make(map[string]string, len(DefaultAliases)+len(cfg.Aliases)),
		policy:    cfg.Policy,
		installer: cfg.Installer,
		timeout:   cfg.InstallTimeout,
		lock:      cfg.Lock,
		logger:    cfg.Logger,
	}
	for _, m := range stdlibModules {
		r.builtins[m] = struct{}{}
	}
	for k, v := range DefaultAliases {
		r.aliases[k] = v
	}
	for k, v := range cfg.Aliases {
		r.aliases[k] = v
	}
	if r.policy == nil {
		r.policy = safety.NewPolicy(safety.DefaultRestricted, true)
	}
	if r.timeout <= 0 {
		r.timeout = DefaultInstallTimeout
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Scan returns the root module names imported at the top level of source,
// de-duplicated in order of first appearance.
func (r *Resolver) Scan(source string) []string {
	var (
		roots []string
		seen  = map[string]bool{}
	)
	for _, m := range importPattern.FindAllStringSubmatch(source, -1) {
		var names []string
		if m[1] != "" {
			for _, part := range strings.Split(m[1], ",") {
				if f := strings.Fields(part); len(f) > 0 {
					names = append(names, f[0])
				}
			}
		} else {
			names = []string{m[2]}
		}
		for _, name := range names {
			root := safety.Root(name)
			if root == "" || seen[root] {
				continue
			}
			seen[root] = true
			roots = append(roots, root)
		}
	}
	return roots
}

// Plan builds the dependency set for source without touching the
// environment: builtins and denied modules are dropped and the remainder is
// mapped to package names.
func (r *Resolver) Plan(source string) *Set {
	set := &Set{}
	seenPkg := map[string]bool{}
	for _, root := range r.Scan(source) {
		if _, ok := r.builtins[root]; ok {
			continue
		}
		if r.policy.Denied(root) {
			continue
		}
		set.Modules = append(set.Modules, root)

		pkg := root
		if alias, ok := r.aliases[root]; ok {
			pkg = alias
		}
		if seenPkg[pkg] {
			continue
		}
		seenPkg[pkg] = true
		set.Packages = append(set.Packages, Package{Module: root, Name: pkg, Outcome: OutcomePending})
	}
	debug.Log(debug.Deps, "dependency plan", "modules", set.Modules, "packages", set.Requirements())
	return set
}

// Resolve plans the dependency set and installs anything missing. Install
// failures are recorded in the set and never returned as errors.
func (r *Resolver) Resolve(ctx context.Context, source string) *Set {
	set := r.Plan(source)
	if len(set.Packages) == 0 {
		return set
	}

	if !r.policy.AllowNetworking() {
		for i := range set.Packages {
			set.Packages[i].Outcome = OutcomeNetworkDisabled
		}
		set.logf(LogNetworkDisabled)
		return set
	}
	if r.installer == nil {
		return set
	}

	if r.lock != nil {
		r.lock.Lock()
		defer r.lock.Unlock()
	}

	var todo []int
	missing, err := r.installer.Missing(ctx, set.Modules)
	if err != nil {
		r.logger.Warn("checking installed modules failed, installing all", "error", err)
		for i := range set.Packages {
			todo = append(todo, i)
		}
	} else {
		absent := make(map[string]bool, len(missing))
		for _, m := range missing {
			absent[m] = true
		}
		for i, p := range set.Packages {
			if absent[p.Module] {
				todo = append(todo, i)
			} else {
				set.Packages[i].Outcome = OutcomePresent
			}
		}
	}
	if len(todo) == 0 {
		return set
	}

	r.installAll(ctx, set, todo)
	return set
}

// InstallPackages installs the named packages without scanning source, for
// environments that receive a ready-made requirement list. Validation and
// logging match Resolve; the missing check is skipped.
func (r *Resolver) InstallPackages(ctx context.Context, names []string) *Set {
	set := &Set{}
	seen := map[string]bool{}
	for _, n := range names {
		if n = strings.TrimSpace(n); n == "" || seen[n] {
			continue
		}
		seen[n] = true
		set.Modules = append(set.Modules, n)
		set.Packages = append(set.Packages, Package{Module: n, Name: n, Outcome: OutcomePending})
	}
	if len(set.Packages) == 0 {
		return set
	}
	if !r.policy.AllowNetworking() {
		for i := range set.Packages {
			set.Packages[i].Outcome = OutcomeNetworkDisabled
		}
		set.logf(LogNetworkDisabled)
		return set
	}
	if r.installer == nil {
		return set
	}
	if r.lock != nil {
		r.lock.Lock()
		defer r.lock.Unlock()
	}

	todo := make([]int, len(set.Packages))
	for i := range todo {
		todo[i] = i
	}
	r.installAll(ctx, set, todo)
	return set
}

func (r *Resolver) installAll(ctx context.Context, set *Set, todo []int) {
	names := make([]string, len(todo))
	for i, idx := range todo {
		names[i] = set.Packages[idx].Name
	}
	set.logf("Installing packages: %s", strings.Join(names, ", "))

	restricted := map[string]bool{}
	for _, m := range r.policy.Modules() {
		restricted[strings.ToLower(m)] = true
	}

	for _, idx := range todo {
		p := &set.Packages[idx]
		switch {
		case restricted[strings.ToLower(p.Name)]:
			p.Outcome = OutcomeSkippedRestricted
			set.logf("Cannot install restricted module: %s", p.Name)
		case unsafeName.ReplaceAllString(p.Name, "") != p.Name:
			p.Outcome = OutcomeInvalid
			set.logf("Package name contains invalid characters: %s", p.Name)
		default:
			r.install(ctx, set, p)
		}
	}
}

func (r *Resolver) install(ctx context.Context, set *Set, p *Package) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	out, err := r.installer.Install(ctx, p.Name)
	if err != nil {
		msg := strings.TrimSpace(out)
		if msg == "" {
			msg = err.Error()
		}
		p.Outcome = OutcomeFailed
		p.Message = msg
		set.logf("Failed to install %s: %s", p.Name, msg)
		r.logger.Warn("package install failed", "package", p.Name, "error", err, "duration", time.Since(start))
		return
	}
	p.Outcome = OutcomeInstalled
	set.logf("Successfully installed %s", p.Name)
	r.logger.Info("package installed", "package", p.Name, "duration", time.Since(start))
}

// Outcome is the result of resolving one package.
type Outcome string

const (
	OutcomePending           Outcome = "pending"
	OutcomePresent           Outcome = "present"
	OutcomeInstalled         Outcome = "installed"
	OutcomeFailed            Outcome = "failed"
	OutcomeSkippedRestricted Outcome = "skipped-restricted"
	OutcomeInvalid           Outcome = "invalid"
	OutcomeNetworkDisabled   Outcome = "network-disabled"
)

// Package is one required package and what happened to it.
type Package struct {
	Module  string  `json:"module"`
	Name    string  `json:"name"`
	Outcome Outcome `json:"outcome"`
	Message string  `json:"message,omitempty"`
}

// Set is the dependency set of one request. It is built and mutated by a
// single Resolve call and never shared between requests.
type Set struct {
	Modules  []string  `json:"modules"`
	Packages []Package `json:"packages"`

	lines []string
}

func (s *Set) logf(format string, args ...any) {
	s.lines = append(s.lines, fmt.Sprintf(format, args...))
}

// Log returns the installation log, one entry per line. It is empty when
// nothing was attempted.
func (s *Set) Log() string {
	if s == nil {
		return ""
	}
	return strings.Join(s.lines, "\n")
}

// Names returns the package names with the given outcome.
func (s *Set) Names(o Outcome) []string {
	if s == nil {
		return nil
	}
	var out []string
	for _, p := range s.Packages {
		if p.Outcome == o {
			out = append(out, p.Name)
		}
	}
	return out
}

// Requirements returns every package name in the set, for environments
// that install on their own.
func (s *Set) Requirements() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.Packages))
	for _, p := range s.Packages {
		out = append(out, p.Name)
	}
	return out
}
