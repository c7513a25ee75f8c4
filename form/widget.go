// Package form turns a declarative schema into a field rendering plan and a
// runtime validator, with no step-specific code. The schema subset it accepts
// is mapped through one explicit table in validate.go: property shape in,
// validator plus widget kind out.
package form

import (
	"github.com/ispkit/stepflow/model"
	"github.com/ispkit/stepflow/util"
)

type WidgetKind string

const WIDGET_TEXT WidgetKind = "text"
const WIDGET_TEXTAREA WidgetKind = "textarea"
const WIDGET_SELECT WidgetKind = "select"
const WIDGET_EMAIL WidgetKind = "email"
const WIDGET_URL WidgetKind = "url"
const WIDGET_DATE WidgetKind = "date"
const WIDGET_TIME WidgetKind = "time"
const WIDGET_DATETIME WidgetKind = "datetime-local"
const WIDGET_PASSWORD WidgetKind = "password"
const WIDGET_TEL WidgetKind = "tel"
const WIDGET_NUMBER WidgetKind = "number"
const WIDGET_CHECKBOX WidgetKind = "checkbox"
const WIDGET_CHECKBOX_GROUP WidgetKind = "checkbox-group"

// string maxLength at or above which a plain string renders as a textarea
const longTextLength = 256

// Field is one control in the rendering plan.
type Field struct {
	Name        string     `json:"name"`
	Label       string     `json:"label"`
	Description string     `json:"description,omitempty"`
	Widget      WidgetKind `json:"widget"`
	Required    bool       `json:"required"`
	Options     []string   `json:"options,omitempty"`
	Step        int        `json:"step,omitempty"`
	Default     any        `json:"default,omitempty"`
}

type Section struct {
	Title       string  `json:"title,omitempty"`
	Collapsible bool    `json:"collapsible,omitempty"`
	Fields      []Field `json:"fields"`
}

// Plan lays the schema out into sections of renderable fields. When the
// config declares sections, only the fields a section lists are rendered;
// properties omitted from every section are dropped. That allow-list
// behavior is deliberate and load-bearing: Submit uses the same plan to
// decide which keys may appear in the emitted data. Without sections every
// property renders, in schema declaration order, inside one untitled
// section. String defaults may reference earlier step outputs with
// `{$.steps...}` tokens, resolved against instanceData.
func Plan(cfg *model.FormConfig, instanceData map[string]any) []Section {
	if len(cfg.Sections) == 0 {
		return []Section{{Fields: planFields(cfg.Schema, cfg.Schema.PropertyKeys(), instanceData)}}
	}
	sections := make([]Section, 0, len(cfg.Sections))
	for _, sec := range cfg.Sections {
		sections = append(sections, Section{
			Title:       sec.Title,
			Collapsible: sec.Collapsible,
			Fields:      planFields(cfg.Schema, sec.Fields, instanceData),
		})
	}
	return sections
}

// RenderedFields returns the names of every field the plan actually renders.
func RenderedFields(cfg *model.FormConfig) []string {
	var names []string
	for _, sec := range Plan(cfg, nil) {
		for _, f := range sec.Fields {
			names = append(names, f.Name)
		}
	}
	return names
}

func planFields(schema model.Schema, keys []string, instanceData map[string]any) []Field {
	fields := make([]Field, 0, len(keys))
	for _, key := range keys {
		prop, ok := schema.Properties[key]
		if !ok {
			continue
		}
		f := Field{
			Name:        key,
			Label:       prop.Title,
			Description: prop.Description,
			Widget:      widgetFor(prop),
			Required:    schema.IsRequired(key),
			Options:     prop.Enum,
			Default:     prop.Default,
		}
		if f.Label == "" {
			f.Label = key
		}
		if prop.Type == "integer" {
			f.Step = 1
		}
		if prop.Type == "array" && prop.Items != nil {
			f.Options = prop.Items.Enum
		}
		if s, ok := prop.Default.(string); ok && instanceData != nil {
			f.Default = util.ResolveString(instanceData, s)
		}
		fields = append(fields, f)
	}
	return fields
}

func widgetFor(prop model.Property) WidgetKind {
	switch prop.Type {
	case "string":
		if len(prop.Enum) > 0 {
			return WIDGET_SELECT
		}
		switch prop.Format {
		case "textarea":
			return WIDGET_TEXTAREA
		case "email":
			return WIDGET_EMAIL
		case "uri":
			return WIDGET_URL
		case "date":
			return WIDGET_DATE
		case "time":
			return WIDGET_TIME
		case "datetime-local":
			return WIDGET_DATETIME
		case "password":
			return WIDGET_PASSWORD
		case "tel":
			return WIDGET_TEL
		}
		if prop.MaxLength != nil && *prop.MaxLength >= longTextLength {
			return WIDGET_TEXTAREA
		}
		return WIDGET_TEXT
	case "number", "integer":
		return WIDGET_NUMBER
	case "boolean":
		return WIDGET_CHECKBOX
	case "array":
		return WIDGET_CHECKBOX_GROUP
	}
	return WIDGET_TEXT
}
