package adapter

import (
	"fmt"
	"path/filepath"
	"plugin"
)

// PluginRef names where to load a dynamic adapter module from. Exactly
// one of Package or Path should be set; Path takes precedence if both
// are present.
type PluginRef struct {
	Package string // module name; Loader does not import by name and returns an error for package-only entries
	Path    string // absolute or config-dir-relative path to a .so or .wasm file
}

// ConfigEntry is one adapter's entry in the daemon's adapter config list.
type ConfigEntry struct {
	ID      string
	Type    string // builtin factory key, e.g. "telegram"
	Enabled bool
	Builtin bool
	Plugin  *PluginRef
	Config  map[string]any
}

// factoryExport is the symbol name a dynamically loaded Go plugin must
// export: a function matching Factory's signature.
const factoryExport = "NewAdapter"

// manifestExport is the symbol name a dynamically loaded Go plugin may
// optionally export: a func() Manifest.
const manifestExport = "GetManifest"

// Loader resolves ConfigEntry sources into live Adapters: builtin
// factories by type, native Go plugins (.so) by path, and WASM modules
// (.wasm) by path, sandboxed through wazero. Entries that name only a
// plugin.package are not loaded; Load returns an error for them.
type Loader struct {
	builtin   map[string]Factory
	configDir string
}

// NewLoader returns a Loader seeded with the default builtin factories.
// configDir anchors plugin.path entries given as relative paths.
func NewLoader(configDir string) *Loader {
	return &Loader{builtin: DefaultBuiltins(), configDir: configDir}
}

// RegisterBuiltin adds or overrides a builtin factory under typeName.
func (l *Loader) RegisterBuiltin(typeName string, f Factory) {
	l.builtin[typeName] = f
}

// Load resolves entry's source and instantiates an Adapter, validating
// its shape afterward. A missing required member (a nil ID/SubjectPrefix)
// aborts just this adapter; the caller is expected to log a warning and
// continue loading other entries, matching the loader's per-adapter
// isolation contract.
func (l *Loader) Load(entry ConfigEntry) (Adapter, error) {
	factory, err := l.resolveFactory(entry)
	if err != nil {
		return nil, err
	}

	a, err := factory(entry.Config)
	if err != nil {
		return nil, fmt.Errorf("adapter: load %s: %w", entry.ID, err)
	}

	if err := validateShape(a); err != nil {
		return nil, fmt.Errorf("adapter: load %s: %w", entry.ID, err)
	}
	return a, nil
}

// LoadWithManifest is Load plus manifest resolution: a native Go plugin's
// optional GetManifest export is preferred when present (it can describe
// the adapter before/without exercising its full Factory), falling back
// to a Manifest synthesised from the instantiated Adapter.
func (l *Loader) LoadWithManifest(entry ConfigEntry) (Adapter, Manifest, error) {
	a, err := l.Load(entry)
	if err != nil {
		return nil, Manifest{}, err
	}

	if entry.Plugin != nil && entry.Plugin.Path != "" {
		path := entry.Plugin.Path
		if !filepath.IsAbs(path) && l.configDir != "" {
			path = filepath.Join(l.configDir, path)
		}
		if filepath.Ext(path) == ".so" {
			if m, ok := manifestFromPlugin(path); ok {
				return a, m, nil
			}
		}
	}

	return a, synthesizeManifest(a), nil
}

// manifestFromPlugin looks up a loaded .so plugin's optional GetManifest
// export and invokes it. Returns false if the plugin doesn't export one
// or the export has the wrong signature.
func manifestFromPlugin(path string) (Manifest, bool) {
	p, err := plugin.Open(path)
	if err != nil {
		return Manifest{}, false
	}
	sym, err := p.Lookup(manifestExport)
	if err != nil {
		return Manifest{}, false
	}
	getManifest, ok := sym.(func() Manifest)
	if !ok {
		return Manifest{}, false
	}
	return getManifest(), true
}

// synthesizeManifest builds a Manifest from an already-instantiated
// Adapter, for sources that don't export GetManifest.
func synthesizeManifest(a Adapter) Manifest {
	return Manifest{ID: a.ID(), SubjectPrefix: a.SubjectPrefix(), DisplayName: a.DisplayName()}
}

func (l *Loader) resolveFactory(entry ConfigEntry) (Factory, error) {
	switch {
	case entry.Builtin:
		f, ok := l.builtin[entry.Type]
		if !ok {
			return nil, fmt.Errorf("adapter: no builtin factory registered for type %q", entry.Type)
		}
		return f, nil

	case entry.Plugin != nil && entry.Plugin.Path != "":
		return l.resolvePluginPath(entry.Plugin.Path)

	case entry.Plugin != nil && entry.Plugin.Package != "":
		return nil, fmt.Errorf("adapter: dynamic import by package name %q requires a prebuilt plugin registered via RegisterBuiltin under that name", entry.Plugin.Package)

	default:
		return nil, fmt.Errorf("adapter: entry %s has no builtin, plugin.package, or plugin.path source", entry.ID)
	}
}

func (l *Loader) resolvePluginPath(path string) (Factory, error) {
	if !filepath.IsAbs(path) && l.configDir != "" {
		path = filepath.Join(l.configDir, path)
	}

	switch filepath.Ext(path) {
	case ".wasm":
		return wasmFactory(path), nil
	case ".so":
		return goPluginFactory(path)
	default:
		return nil, fmt.Errorf("adapter: unrecognised plugin extension for %s (want .so or .wasm)", path)
	}
}

// goPluginFactory loads a native Go plugin (.so) and returns a Factory
// wrapping its exported NewAdapter symbol.
func goPluginFactory(path string) (Factory, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("adapter: open plugin %s: %w", path, err)
	}
	sym, err := p.Lookup(factoryExport)
	if err != nil {
		return nil, fmt.Errorf("adapter: plugin %s missing %s export: %w", path, factoryExport, err)
	}
	factory, ok := sym.(func(map[string]any) (Adapter, error))
	if !ok {
		return nil, fmt.Errorf("adapter: plugin %s export %s has the wrong signature", path, factoryExport)
	}
	return factory, nil
}

// validateShape rejects an instantiated adapter missing a required
// identity member; a zero-value ID or SubjectPrefix is never valid.
func validateShape(a Adapter) error {
	if a.ID() == "" {
		return fmt.Errorf("adapter: instantiated adapter has empty id")
	}
	if a.SubjectPrefix() == "" {
		return fmt.Errorf("adapter: instantiated adapter %s has empty subjectPrefix", a.ID())
	}
	return nil
}
