package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"
)

type cachedTenant struct {
	loadedAt time.Time
	tools    []Tool
}

// Registry merges builtin, file and database tools. Later sources override
// earlier ones by name. Database lookups are cached per tenant for ttl.
type Registry struct {
	pool     *pgxpool.Pool
	mu       sync.RWMutex
	static   map[string]Tool
	byTenant map[string]cachedTenant
	loads    singleflight.Group
	ttl      time.Duration
	now      func() time.Time
}

func NewRegistry(pool *pgxpool.Pool) *Registry {
	r := &Registry{
		pool:     pool,
		static:   map[string]Tool{},
		byTenant: map[string]cachedTenant{},
		ttl:      30 * time.Second,
		now:      time.Now,
	}
	for _, t := range Builtins() {
		r.static[t.Name] = t
	}
	return r
}

type catalogFile struct {
	Tools []Tool `yaml:"tools"`
}

// LoadDir reads every *.yaml / *.yml file in dir. Each file holds a
// top-level `tools:` list.
func (r *Registry) LoadDir(dir string) (int, error) {
	if dir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return n, err
		}
		var cf catalogFile
		if err := yaml.Unmarshal(b, &cf); err != nil {
			return n, fmt.Errorf("%s: %w", e.Name(), err)
		}
		r.mu.Lock()
		for _, t := range cf.Tools {
			if t.Name == "" {
				continue
			}
			r.static[t.Name] = t
			n++
		}
		r.mu.Unlock()
	}
	return n, nil
}

// Static returns builtin and file tools, sorted by name.
func (r *Registry) Static() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.static))
	for _, t := range r.static {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// List returns the tools visible to tenantID, sorted by name.
func (r *Registry) List(ctx context.Context, tenantID string) ([]Tool, error) {
	dbTools, err := r.tenantTools(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(dbTools) == 0 {
		return r.Static(), nil
	}
	merged := map[string]Tool{}
	for _, t := range r.Static() {
		merged[t.Name] = t
	}
	for _, t := range dbTools {
		merged[t.Name] = t
	}
	out := make([]Tool, 0, len(merged))
	for _, t := range merged {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *Registry) Lookup(ctx context.Context, tenantID, name string) (Tool, bool, error) {
	ts, err := r.List(ctx, tenantID)
	if err != nil {
		return Tool{}, false, err
	}
	for _, t := range ts {
		if t.Name == name {
			return t, true, nil
		}
	}
	return Tool{}, false, nil
}

func (r *Registry) tenantTools(ctx context.Context, tenantID string) ([]Tool, error) {
	if r.pool == nil || tenantID == "" {
		return nil, nil
	}
	r.mu.RLock()
	c, ok := r.byTenant[tenantID]
	r.mu.RUnlock()
	if ok && r.now().Sub(c.loadedAt) < r.ttl {
		return c.tools, nil
	}
	// concurrent misses for one tenant share a single query
	v, err, _ := r.loads.Do(tenantID, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return r.loadTenant(lctx, tenantID)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Tool), nil
}

func (r *Registry) loadTenant(ctx context.Context, tenantID string) ([]Tool, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT name, COALESCE(description,''), COALESCE(params,'[]'::jsonb), COALESCE(scopes, ARRAY[]::text[]), COALESCE(endpoint,'')
		FROM tool_definitions
		WHERE tenant_id=$1 AND COALESCE(enabled,true)=true`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Tool
	for rows.Next() {
		var (
			t         Tool
			paramsRaw []byte
		)
		if err := rows.Scan(&t.Name, &t.Description, &paramsRaw, &t.Scopes, &t.Endpoint); err != nil {
			return nil, err
		}
		if len(paramsRaw) > 0 {
			if err := json.Unmarshal(paramsRaw, &t.Params); err != nil {
				return nil, fmt.Errorf("tool %s params: %w", t.Name, err)
			}
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.byTenant[tenantID] = cachedTenant{loadedAt: r.now(), tools: out}
	r.mu.Unlock()
	return out, nil
}

// EnsureSchema creates tool_definitions if missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tool_definitions (
  tenant_id text NOT NULL,
  name text NOT NULL,
  description text,
  params jsonb DEFAULT '[]'::jsonb,
  scopes text[] DEFAULT '{}',
  endpoint text,
  enabled boolean DEFAULT true,
  created_at timestamptz NOT NULL DEFAULT NOW(),
  PRIMARY KEY (tenant_id, name)
);`)
	return err
}
