package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/dork-labs/dorkos/pkg/protocol"
)

// wasmFactory returns a Factory that sandbox-loads the WASM module at
// path through wazero, deny-by-default (no filesystem, no network, no
// ambient authority), matching the sandbox posture proven out for the
// agent tool runtime.
func wasmFactory(path string) Factory {
	return func(config map[string]any) (Adapter, error) {
		wasmBytes, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("adapter: read wasm module %s: %w", path, err)
		}

		ctx := context.Background()
		runtime := wazero.NewRuntime(ctx)
		wasi_snapshot_preview1.MustInstantiate(ctx, runtime)

		compiled, err := runtime.CompileModule(ctx, wasmBytes)
		if err != nil {
			runtime.Close(ctx)
			return nil, fmt.Errorf("adapter: compile wasm module %s: %w", path, err)
		}

		a := &wasmAdapter{path: path, runtime: runtime, compiled: compiled, config: config}

		manifest, err := a.call(ctx, wasmRequest{Op: "manifest"})
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("adapter: wasm module %s manifest call: %w", path, err)
		}
		a.id = stringField(manifest, "id", path)
		a.subjectPrefix = stringField(manifest, "subject_prefix", "")
		a.displayName = stringField(manifest, "display_name", a.id)
		return a, nil
	}
}

// wasmRequest is the stdin protocol every guest module must parse: one
// JSON object per invocation, an op name plus op-specific fields.
type wasmRequest struct {
	Op       string             `json:"op"`
	Config   map[string]any     `json:"config,omitempty"`
	Subject  string             `json:"subject,omitempty"`
	Envelope *protocol.Envelope `json:"envelope,omitempty"`
}

// wasmAdapter wraps a sandboxed WASM module behind the Adapter
// interface. Every call re-instantiates the module fresh with a
// stdin/stdout pipe, matching the deny-by-default, no-shared-state
// sandbox execution model: no host filesystem, no network, no ambient
// authority leaks between calls.
type wasmAdapter struct {
	path     string
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	config   map[string]any

	id            string
	subjectPrefix string
	displayName   string

	mu      sync.Mutex
	running bool
	detail  string
}

func (a *wasmAdapter) ID() string            { return a.id }
func (a *wasmAdapter) SubjectPrefix() string { return a.subjectPrefix }
func (a *wasmAdapter) DisplayName() string   { return a.displayName }

func (a *wasmAdapter) Start(ctx context.Context, _ Publisher) error {
	_, err := a.call(ctx, wasmRequest{Op: "start", Config: a.config})
	a.mu.Lock()
	a.running = err == nil
	if err != nil {
		a.detail = err.Error()
	}
	a.mu.Unlock()
	return err
}

func (a *wasmAdapter) Stop() error {
	_, err := a.call(context.Background(), wasmRequest{Op: "stop"})
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
	return err
}

func (a *wasmAdapter) Deliver(ctx context.Context, subject string, env protocol.Envelope) error {
	_, err := a.call(ctx, wasmRequest{Op: "deliver", Subject: subject, Envelope: &env})
	return err
}

func (a *wasmAdapter) GetStatus() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Status{Running: a.running, Detail: a.detail}
}

func (a *wasmAdapter) Close(ctx context.Context) {
	_ = a.compiled.Close(ctx)
	_ = a.runtime.Close(ctx)
}

// call instantiates a fresh module invocation, feeding req as JSON on
// stdin and parsing the module's stdout as the JSON response.
func (a *wasmAdapter) call(ctx context.Context, req wasmRequest) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("adapter: marshal wasm request: %w", err)
	}

	var stdout, stderr bytes.Buffer
	modCfg := wazero.NewModuleConfig().
		WithName(fmt.Sprintf("adapter-%s-%s", a.id, req.Op)).
		WithStartFunctions("_start").
		WithStdin(bytes.NewReader(payload)).
		WithStdout(&stdout).
		WithStderr(&stderr)

	mod, err := a.runtime.InstantiateModule(ctx, a.compiled, modCfg)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("adapter: wasm call %s timed out", req.Op)
		}
		return nil, fmt.Errorf("adapter: wasm call %s: %w", req.Op, err)
	}
	defer mod.Close(ctx)

	if stderr.Len() > 0 {
		return nil, fmt.Errorf("adapter: wasm call %s: %s", req.Op, stderr.String())
	}

	if stdout.Len() == 0 {
		return map[string]any{}, nil
	}
	var resp map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("adapter: wasm call %s: decode response: %w", req.Op, err)
	}
	return resp, nil
}

func stringField(m map[string]any, key, fallback string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
