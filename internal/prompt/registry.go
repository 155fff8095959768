// Package prompt holds the named prompt templates used for generation,
// validation, research summarization, and channel adaptation.
//
// Lookup is layered: (key, tenant) falls back to (key, global). There is no
// inheritance chain beyond that single fallback level. Tenant overrides live
// in <home>/prompts/<tenant>/<key>.yaml and replace the whole template.
package prompt

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Template is a named prompt pair. System and User are text/template bodies.
type Template struct {
	Key    string `yaml:"key"`
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

// Registry resolves prompt templates with one level of tenant fallback.
type Registry struct {
	home string
	mu   sync.RWMutex
	// cache of loaded tenant overrides, keyed "<tenant>/<key>".
	// A cached nil means "checked, no override file".
	cache map[string]*Template
}

// NewRegistry creates a registry rooted at home. Home may be empty, in which
// case only built-in templates resolve.
func NewRegistry(home string) *Registry {
	return &Registry{home: home, cache: make(map[string]*Template)}
}

// Resolve returns the template for (key, tenant), falling back to the global
// built-in. Unknown keys are an error.
func (r *Registry) Resolve(key, tenant string) (Template, error) {
	if tenant != "" && r.home != "" {
		if t := r.tenantOverride(key, tenant); t != nil {
			return *t, nil
		}
	}
	t, ok := builtins[key]
	if !ok {
		return Template{}, fmt.Errorf("unknown prompt key: %s", key)
	}
	return t, nil
}

// Render resolves (key, tenant) and renders both template bodies against vars.
// Absent optional variables render as empty; conditional sections must be
// guarded by the has_<field> booleans (see Vars helpers).
func (r *Registry) Render(key, tenant string, vars map[string]any) (system, user string, err error) {
	t, err := r.Resolve(key, tenant)
	if err != nil {
		return "", "", err
	}
	system, err = renderBody(key+".system", t.System, vars)
	if err != nil {
		return "", "", err
	}
	user, err = renderBody(key+".user", t.User, vars)
	if err != nil {
		return "", "", err
	}
	return system, user, nil
}

func (r *Registry) tenantOverride(key, tenant string) *Template {
	cacheKey := tenant + "/" + key
	r.mu.RLock()
	t, ok := r.cache[cacheKey]
	r.mu.RUnlock()
	if ok {
		return t
	}

	t = r.loadOverrideFile(key, tenant)
	r.mu.Lock()
	r.cache[cacheKey] = t
	r.mu.Unlock()
	return t
}

func (r *Registry) loadOverrideFile(key, tenant string) *Template {
	path := OverridePath(r.home, tenant, key)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil
	}
	if t.Key == "" {
		t.Key = key
	}
	return &t
}

// OverridePath returns <home>/prompts/<tenant>/<key>.yaml. The tenant segment
// is sanitized for the filesystem.
func OverridePath(home, tenant, key string) string {
	safe := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(tenant), " ", "_"))
	return filepath.Join(home, "prompts", safe, key+".yaml")
}

func renderBody(name, body string, vars map[string]any) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=zero").Parse(body)
	if err != nil {
		return "", fmt.Errorf("parse prompt %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", name, err)
	}
	return buf.String(), nil
}
