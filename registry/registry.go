package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/browser-acceptor/supervisor"
	"github.com/ethereum-optimism/infra/browser-acceptor/types"
)

// Registry holds the managed roles and the ordered spec sources of a run
type Registry struct {
	config Config
	roles  []types.RoleConfig
	specs  []string
	mu     sync.RWMutex
}

// Config contains registry configuration
type Config struct {
	Log log.Logger
	// ManifestFile is an optional YAML manifest; entries in it override Defaults
	ManifestFile string
	// Defaults are the roles and specs derived from CLI flags
	Defaults types.ManifestConfig
	// BaseDir resolves relative spec paths and patterns
	BaseDir string
}

// NewRegistry creates a new registry instance
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.BaseDir == "" {
		cfg.BaseDir = "."
	}

	manifest := cfg.Defaults
	if cfg.ManifestFile != "" {
		loaded, err := loadManifest(cfg.ManifestFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load manifest: %w", err)
		}
		manifest = merge(cfg.Defaults, *loaded)
	}

	r := &Registry{config: cfg}
	if err := r.load(manifest); err != nil {
		return nil, err
	}

	cfg.Log.Debug("Registry loaded", "roles", len(r.roles), "specs", len(r.specs))
	return r, nil
}

func (r *Registry) load(manifest types.ManifestConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	roles, err := orderRoles(manifest.Roles)
	if err != nil {
		return err
	}
	for _, rc := range roles {
		if err := validateRole(rc); err != nil {
			return err
		}
	}

	specs, err := expandSpecs(r.config.BaseDir, manifest.Specs)
	if err != nil {
		return err
	}

	r.roles = roles
	r.specs = specs
	return nil
}

// Roles returns every role in start order
func (r *Registry) Roles() []types.RoleConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]types.RoleConfig(nil), r.roles...)
}

// Specs returns the spec sources in bundle order
func (r *Registry) Specs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.specs...)
}

// loadManifest loads a manifest from a file
func loadManifest(path string) (*types.ManifestConfig, error) {
	log.Debug("Reading manifest file", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest file: %w", err)
	}

	var cfg types.ManifestConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing manifest file: %w", err)
	}
	return &cfg, nil
}

// merge overlays the manifest on the defaults. A manifest role replaces only
// the fields it sets; manifest specs replace the default list entirely.
func merge(defaults, manifest types.ManifestConfig) types.ManifestConfig {
	out := types.ManifestConfig{Specs: defaults.Specs}
	if len(manifest.Specs) > 0 {
		out.Specs = manifest.Specs
	}

	byName := make(map[types.Role]int)
	for _, rc := range defaults.Roles {
		byName[rc.Name] = len(out.Roles)
		out.Roles = append(out.Roles, rc)
	}
	for _, rc := range manifest.Roles {
		idx, ok := byName[rc.Name]
		if !ok {
			byName[rc.Name] = len(out.Roles)
			out.Roles = append(out.Roles, rc)
			continue
		}
		base := &out.Roles[idx]
		if rc.Module != "" {
			base.Module = rc.Module
		}
		if rc.Binary != "" {
			base.Binary = rc.Binary
		}
		if rc.Args != nil {
			base.Args = rc.Args
		}
		if rc.Dir != "" {
			base.Dir = rc.Dir
		}
		if rc.Env != nil {
			base.Env = rc.Env
		}
		if rc.Ready != nil {
			base.Ready = rc.Ready
		}
	}
	return out
}

// orderRoles checks that every known role is present exactly once and
// returns them in start order
func orderRoles(roles []types.RoleConfig) ([]types.RoleConfig, error) {
	byName := make(map[types.Role]types.RoleConfig, len(roles))
	for _, rc := range roles {
		if !rc.Name.IsValid() {
			return nil, fmt.Errorf("unknown role %q", rc.Name)
		}
		if _, dup := byName[rc.Name]; dup {
			return nil, fmt.Errorf("role %q defined twice", rc.Name)
		}
		byName[rc.Name] = rc
	}

	ordered := make([]types.RoleConfig, 0, len(types.Roles))
	for _, name := range types.Roles {
		rc, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("role %q is not configured", name)
		}
		ordered = append(ordered, rc)
	}
	return ordered, nil
}

func validateRole(rc types.RoleConfig) error {
	if err := supervisor.ValidateModulePath(rc.Module); err != nil {
		return fmt.Errorf("role %q: %w", rc.Name, err)
	}
	if rc.Binary == "" {
		return fmt.Errorf("role %q has no binary path", rc.Name)
	}
	if err := rc.Ready.Validate(); err != nil {
		return fmt.Errorf("role %q: %w", rc.Name, err)
	}
	return nil
}

// expandSpecs resolves spec entries against baseDir. Entries containing glob
// metacharacters expand to their sorted matches; every entry must resolve to
// at least one file. Order is preserved and duplicates are dropped.
func expandSpecs(baseDir string, entries []string) ([]string, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("no spec files configured")
	}

	seen := make(map[string]bool)
	var specs []string
	for _, entry := range entries {
		pattern := entry
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(baseDir, pattern)
		}
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid spec pattern %q: %w", entry, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("spec %q matched no files", entry)
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil {
				return nil, fmt.Errorf("spec %q: %w", m, err)
			}
			if info.IsDir() {
				return nil, fmt.Errorf("spec %q is a directory", m)
			}
			if !seen[m] {
				seen[m] = true
				specs = append(specs, m)
			}
		}
	}
	return specs, nil
}
