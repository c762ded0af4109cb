// Package providers exposes blockchain data backends as named, schema-described tools.
package providers

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/chainlens-core/server/internal/agent/model"
	errx "github.com/chainlens-core/server/internal/core/error"
)

// Provider is a backend exposing a fixed set of tools.
type Provider interface {
	Name() string
	// ListTools fails with errx.ErrProviderUnavailable when the backend cannot be used.
	ListTools(ctx context.Context) ([]model.ToolDescriptor, error)
	// CallTool fails with errx.ErrToolNotFound or errx.ErrToolExecution.
	CallTool(ctx context.Context, name string, args map[string]any) (any, error)
}

// Tool pairs a descriptor with its implementation.
type Tool struct {
	model.ToolDescriptor
	Invoke func(ctx context.Context, args Args) (any, error)
}

// Catalog is a Provider backed by an in-process tool table. Tool order is the
// registration order and never changes after construction.
type Catalog struct {
	name  string
	tools []Tool
	index map[string]int
}

func NewCatalog(name string, tools ...Tool) *Catalog {
	c := &Catalog{name: name, index: make(map[string]int, len(tools))}
	for _, t := range tools {
		if _, dup := c.index[t.Name]; dup {
			continue
		}
		c.index[t.Name] = len(c.tools)
		c.tools = append(c.tools, t)
	}
	return c
}

func (c *Catalog) Name() string { return c.name }

func (c *Catalog) ListTools(ctx context.Context) ([]model.ToolDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, errx.ProviderUnavailable(c.name, err)
	}
	out := make([]model.ToolDescriptor, len(c.tools))
	for i, t := range c.tools {
		out[i] = t.ToolDescriptor
	}
	return out, nil
}

func (c *Catalog) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	i, ok := c.index[name]
	if !ok {
		return nil, errx.ToolNotFound(name)
	}
	if args == nil {
		args = map[string]any{}
	}
	res, err := c.tools[i].Invoke(ctx, Args(args))
	if err != nil {
		if errx.Is(err, errx.ErrToolExecution) {
			return nil, err
		}
		return nil, errx.ToolExecution(name, err)
	}
	return res, nil
}

var _ Provider = (*Catalog)(nil)

// IsWebhookTool reports whether a tool manages webhook subscriptions.
func IsWebhookTool(name string) bool {
	n := strings.ToLower(name)
	return strings.Contains(n, "webhook") || strings.Contains(n, "hook") || strings.Contains(n, "notification")
}

// ===== Arguments =====

// Args are the decoded JSON arguments of one call.
type Args map[string]any

func (a Args) has(key string) bool {
	v, ok := a[key]
	return ok && v != nil
}

// String returns a required non-empty string argument.
func (a Args) String(key string) (string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return "", fmt.Errorf("%s is required", key)
	}
	s := strings.TrimSpace(fmt.Sprint(v))
	if s == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return s, nil
}

func (a Args) OptString(key, def string) string {
	if !a.has(key) {
		return def
	}
	s := strings.TrimSpace(fmt.Sprint(a[key]))
	if s == "" {
		return def
	}
	return s
}

// Int accepts JSON numbers and numeric strings.
func (a Args) Int(key string, def int) (int, error) {
	if !a.has(key) {
		return def, nil
	}
	switch v := a[key].(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case string:
		if strings.TrimSpace(v) == "" {
			return def, nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%s must be an integer, got %T", key, v)
	}
}

func (a Args) Bool(key string, def bool) bool {
	if !a.has(key) {
		return def
	}
	switch v := a[key].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return def
		}
		return b
	default:
		return def
	}
}

// Strings accepts a JSON array or a comma separated string.
func (a Args) Strings(key string) []string {
	if !a.has(key) {
		return nil
	}
	var out []string
	switch v := a[key].(type) {
	case []any:
		for _, e := range v {
			if s := strings.TrimSpace(fmt.Sprint(e)); s != "" {
				out = append(out, s)
			}
		}
	case []string:
		for _, s := range v {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// Map returns an object argument, or nil when absent.
func (a Args) Map(key string) map[string]any {
	if m, ok := a[key].(map[string]any); ok {
		return m
	}
	return nil
}

// OneOf returns the string argument when it is one of allowed.
func (a Args) OneOf(key, def string, allowed []string) (string, error) {
	v := a.OptString(key, def)
	for _, s := range allowed {
		if strings.EqualFold(s, v) {
			return s, nil
		}
	}
	return "", fmt.Errorf("unsupported %s %q, must be one of %s", key, v, strings.Join(allowed, ", "))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ===== Schema helpers =====

type param struct {
	Type     string
	Desc     string
	Enum     []string
	Items    string
	Required bool
	Default  any
}

func objectSchema(params map[string]param) map[string]any {
	props := make(map[string]any, len(params))
	var required []string
	for name, p := range params {
		prop := map[string]any{"type": p.Type}
		if p.Desc != "" {
			prop["description"] = p.Desc
		}
		if len(p.Enum) > 0 {
			enum := make([]any, len(p.Enum))
			for i, e := range p.Enum {
				enum[i] = e
			}
			prop["enum"] = enum
		}
		if p.Type == "array" {
			items := p.Items
			if items == "" {
				items = "string"
			}
			prop["items"] = map[string]any{"type": items}
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		props[name] = prop
		if p.Required {
			required = append(required, name)
		}
	}
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		sort.Strings(required)
		s["required"] = required
	}
	return s
}
