// Package tasktemplate holds the research task prompts shipped with the binary.
package tasktemplate

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var builtinYAML []byte

// Template describes one kind of research task.
type Template struct {
	ID               string         `yaml:"id" json:"id"`
	Name             string         `yaml:"name" json:"name"`
	Description      string         `yaml:"description" json:"description"`
	Prompt           string         `yaml:"prompt" json:"prompt"`
	AllowedDomains   []string       `yaml:"allowed_domains" json:"allowed_domains,omitempty"`
	MaxSteps         int            `yaml:"max_steps" json:"max_steps,omitempty"`
	LLMModel         string         `yaml:"llm_model" json:"llm_model,omitempty"`
	StructuredOutput map[string]any `yaml:"structured_output" json:"structured_output,omitempty"`
}

// AppInfo carries product branding shown by the CLI and API.
type AppInfo struct {
	Name        string   `yaml:"name" json:"name"`
	Tagline     string   `yaml:"tagline" json:"tagline"`
	Description string   `yaml:"description" json:"description"`
	Examples    []string `yaml:"examples" json:"examples"`
}

// Catalog is an immutable set of templates with a default.
type Catalog struct {
	app       AppInfo
	defaultID string
	byID      map[string]Template
	order     []string
}

type catalogFile struct {
	App       AppInfo    `yaml:"app"`
	Default   string     `yaml:"default"`
	Templates []Template `yaml:"templates"`
}

// Parse decodes a YAML catalogue.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode task templates: %w", err)
	}
	if len(file.Templates) == 0 {
		return nil, fmt.Errorf("task templates: catalogue is empty")
	}

	c := &Catalog{app: file.App, byID: make(map[string]Template, len(file.Templates))}
	for _, tpl := range file.Templates {
		id := strings.TrimSpace(tpl.ID)
		if id == "" {
			return nil, fmt.Errorf("task templates: template without id")
		}
		if _, dup := c.byID[id]; dup {
			return nil, fmt.Errorf("task templates: duplicate id %q", id)
		}
		if !strings.Contains(tpl.Prompt, placeholderCompany) {
			return nil, fmt.Errorf("task templates: %s prompt lacks %s", id, placeholderCompany)
		}
		tpl.ID = id
		c.byID[id] = tpl
		c.order = append(c.order, id)
	}

	c.defaultID = strings.TrimSpace(file.Default)
	if c.defaultID == "" {
		c.defaultID = c.order[0]
	}
	if _, ok := c.byID[c.defaultID]; !ok {
		return nil, fmt.Errorf("task templates: default %q is not defined", c.defaultID)
	}
	return c, nil
}

var builtin = mustParse(builtinYAML)

func mustParse(data []byte) *Catalog {
	c, err := Parse(data)
	if err != nil {
		panic(err)
	}
	return c
}

// Builtin returns the embedded catalogue.
func Builtin() *Catalog {
	return builtin
}

// App returns branding details.
func (c *Catalog) App() AppInfo {
	return c.app
}

// DefaultID returns the id used when no task type is requested.
func (c *Catalog) DefaultID() string {
	return c.defaultID
}

// Get returns the template for id. Unknown and empty ids fall back to the
// default template.
func (c *Catalog) Get(id string) Template {
	if tpl, ok := c.byID[strings.TrimSpace(id)]; ok {
		return tpl
	}
	return c.byID[c.defaultID]
}

// Has reports whether id names a template.
func (c *Catalog) Has(id string) bool {
	_, ok := c.byID[strings.TrimSpace(id)]
	return ok
}

// List returns templates in catalogue order.
func (c *Catalog) List() []Template {
	out := make([]Template, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// IDs returns the sorted template ids.
func (c *Catalog) IDs() []string {
	ids := append([]string(nil), c.order...)
	sort.Strings(ids)
	return ids
}

const (
	placeholderCompany = "{companyName}"
	placeholderWebsite = "{websiteContext}"
)

// BuildPrompt fills the template placeholders. An empty website drops the
// website context entirely.
func BuildPrompt(tpl Template, companyName, website string) string {
	websiteContext := ""
	if site := strings.TrimSpace(website); site != "" {
		websiteContext = fmt.Sprintf(" (website: %s)", site)
	}
	return strings.NewReplacer(
		placeholderCompany, strings.TrimSpace(companyName),
		placeholderWebsite, websiteContext,
	).Replace(tpl.Prompt)
}

// StructuredOutputJSON encodes the output schema as the JSON string the remote
// API expects. It returns nil when the template has no schema.
func StructuredOutputJSON(tpl Template) (*string, error) {
	if len(tpl.StructuredOutput) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(tpl.StructuredOutput)
	if err != nil {
		return nil, fmt.Errorf("encode structured output for %s: %w", tpl.ID, err)
	}
	s := string(data)
	return &s, nil
}
