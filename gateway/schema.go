package gateway

import (
	"encoding/json"

	"google.golang.org/genai"
)

type Type string

const (
	TypeObject  Type = "object"
	TypeArray   Type = "array"
	TypeString  Type = "string"
	TypeInteger Type = "integer"
	TypeBoolean Type = "boolean"
)

// Schema はベンダーに依存しない構造化出力の記述です。
type Schema struct {
	Type        Type               `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
}

func Object(props map[string]*Schema, required ...string) *Schema {
	return &Schema{Type: TypeObject, Properties: props, Required: required}
}

func ArrayOf(items *Schema) *Schema { return &Schema{Type: TypeArray, Items: items} }

func String(desc string) *Schema { return &Schema{Type: TypeString, Description: desc} }

func Integer(desc string) *Schema { return &Schema{Type: TypeInteger, Description: desc} }

func Boolean(desc string) *Schema { return &Schema{Type: TypeBoolean, Description: desc} }

// JSON はプロンプトに埋め込むための JSON 表現です。
func (s *Schema) JSON() string {
	b, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func (s *Schema) toGenai() *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Description: s.Description,
		Required:    s.Required,
		Enum:        s.Enum,
		Items:       s.Items.toGenai(),
	}
	switch s.Type {
	case TypeObject:
		out.Type = genai.TypeObject
	case TypeArray:
		out.Type = genai.TypeArray
	case TypeInteger:
		out.Type = genai.TypeInteger
	case TypeBoolean:
		out.Type = genai.TypeBoolean
	default:
		out.Type = genai.TypeString
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = v.toGenai()
		}
	}
	return out
}
