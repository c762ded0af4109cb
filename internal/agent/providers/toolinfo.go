package providers

import (
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/chainlens-core/server/internal/agent/model"
)

// ToolInfos converts descriptors to function schemas a chat model can bind.
func ToolInfos(descs []model.ToolDescriptor) []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, 0, len(descs))
	for _, d := range descs {
		out = append(out, ToolInfo(d))
	}
	return out
}

func ToolInfo(d model.ToolDescriptor) *schema.ToolInfo {
	info := &schema.ToolInfo{Name: d.Name, Desc: d.Description}
	if params := objectParams(d.InputSchema); len(params) > 0 {
		info.ParamsOneOf = schema.NewParamsOneOfByParams(params)
	}
	return info
}

func objectParams(s map[string]any) map[string]*schema.ParameterInfo {
	props, _ := s["properties"].(map[string]any)
	if len(props) == 0 {
		return nil
	}
	required := requiredSet(s["required"])
	out := make(map[string]*schema.ParameterInfo, len(props))
	for name, raw := range props {
		prop, _ := raw.(map[string]any)
		p := paramInfo(prop)
		p.Required = required[name]
		out[name] = p
	}
	return out
}

func paramInfo(prop map[string]any) *schema.ParameterInfo {
	typ, _ := prop["type"].(string)
	if typ == "" {
		typ = "string"
	}
	p := &schema.ParameterInfo{Type: schema.DataType(typ)}
	if desc, ok := prop["description"].(string); ok {
		p.Desc = desc
	}
	if def, ok := prop["default"]; ok && def != nil {
		if p.Desc != "" {
			p.Desc += " "
		}
		p.Desc += fmt.Sprintf("(default: %v)", def)
	}
	if enum, ok := prop["enum"].([]any); ok {
		for _, e := range enum {
			p.Enum = append(p.Enum, fmt.Sprint(e))
		}
	}
	switch typ {
	case "array":
		items, _ := prop["items"].(map[string]any)
		if items == nil {
			items = map[string]any{"type": "string"}
		}
		p.ElemInfo = paramInfo(items)
	case "object":
		if sub := objectParams(prop); len(sub) > 0 {
			p.SubParams = sub
		}
	}
	return p
}

// requiredSet accepts []string from objectSchema and []any from decoded JSON.
func requiredSet(v any) map[string]bool {
	set := map[string]bool{}
	switch r := v.(type) {
	case []string:
		for _, s := range r {
			set[s] = true
		}
	case []any:
		for _, s := range r {
			set[fmt.Sprint(s)] = true
		}
	}
	return set
}
