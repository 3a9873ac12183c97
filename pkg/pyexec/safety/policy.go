package safety

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile names accepted by ProfileModules.
const (
	ProfileDefault = "default"
	ProfileStrict  = "strict"
)

// DefaultRestricted is the denylist used when none is configured.
var DefaultRestricted = []string{"subprocess", "ctypes", "socket"}

// StrictRestricted also denies interpreter introspection, file system
// helpers and network clients.
var StrictRestricted = []string{
	"os", "sys", "subprocess", "shutil", "importlib",
	"ctypes", "socket", "requests", "urllib",
}

// NetworkModules are allowed despite being restricted when networking is
// enabled on the instance.
var NetworkModules = []string{"requests", "urllib"}

// ProfileModules returns the restricted module list for a named profile.
func ProfileModules(name string) ([]string, error) {
	switch name {
	case "", ProfileDefault:
		return append([]string(nil), DefaultRestricted...), nil
	case ProfileStrict:
		return append([]string(nil), StrictRestricted...), nil
	}
	return nil, fmt.Errorf("unknown restricted profile %q", name)
}

// Rules is the YAML form of a policy file.
type Rules struct {
	Restricted     []string `yaml:"restricted"`
	NetworkModules []string `yaml:"network_modules"`
}

// Policy decides whether a module root may be imported or installed.
// A Policy is immutable after construction and safe for concurrent use.
type Policy struct {
	restricted      map[string]struct{}
	networkModules  map[string]struct{}
	allowNetworking bool
}

// NewPolicy builds a policy over restricted module names. Names are
// reduced to their root and matched case-sensitively, as the interpreter does.
func NewPolicy(restricted []string, allowNetworking bool) *Policy {
	return newPolicy(Rules{Restricted: restricted, NetworkModules: NetworkModules}, allowNetworking)
}

func newPolicy(r Rules, allowNetworking bool) *Policy {
	p := &Policy{
		restricted:      make(map[string]struct{}, len(r.Restricted)),
		networkModules:  make(map[string]struct{}, len(r.NetworkModules)),
		allowNetworking: allowNetworking,
	}
	for _, m := range r.Restricted {
		if m = strings.TrimSpace(m); m != "" {
			p.restricted[Root(m)] = struct{}{}
		}
	}
	for _, m := range r.NetworkModules {
		if m = strings.TrimSpace(m); m != "" {
			p.networkModules[Root(m)] = struct{}{}
		}
	}
	return p
}

// LoadPolicy reads rules from a YAML file. A missing file yields the
// default denylist.
func LoadPolicy(path string, allowNetworking bool) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewPolicy(DefaultRestricted, allowNetworking), nil
		}
		return nil, fmt.Errorf("reading policy file: %w", err)
	}

	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing policy file %s: %w", path, err)
	}
	if r.NetworkModules == nil {
		r.NetworkModules = NetworkModules
	}
	return newPolicy(r, allowNetworking), nil
}

// Denied reports whether module (or its root package) is restricted with no
// exception applying.
func (p *Policy) Denied(module string) bool {
	root := Root(module)
	if _, ok := p.restricted[root]; !ok {
		return false
	}
	return !p.excepted(root)
}

// Listed reports whether the root of name is on the denylist, ignoring
// exceptions.
func (p *Policy) Listed(name string) bool {
	_, ok := p.restricted[Root(name)]
	return ok
}

func (p *Policy) excepted(root string) bool {
	if !p.allowNetworking {
		return false
	}
	_, ok := p.networkModules[root]
	return ok
}

// AllowNetworking reports the networking flag the policy was built with.
func (p *Policy) AllowNetworking() bool {
	return p.allowNetworking
}

// Modules returns the restricted roots in sorted order.
func (p *Policy) Modules() []string {
	out := make([]string, 0, len(p.restricted))
	for m := range p.restricted {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
