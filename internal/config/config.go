// Package config loads synth.yaml files into flow values.
//
// Loading happens in three passes: the raw YAML is validated against an
// embedded CUE schema (shape errors come back with file positions), then
// strictly decoded with yaml.v3, then resolved: name references to shared
// targets and triggers are replaced by their definitions and each flow is
// checked structurally. The engine only ever sees resolved, validated
// flow.Flow values.
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Error is a configuration error detected before execution.
type Error struct {
	Path    string // config file path
	Message string
	Detail  string // multi-line detail (CUE error listing), may be empty
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// Document is the raw decoded shape of a synth.yaml file, before name
// resolution.
type Document struct {
	Targets  map[string]TargetSpec  `yaml:"targets"`
	Triggers map[string]TriggerSpec `yaml:"triggers"`
	Flows    map[string]FlowSpec    `yaml:"flows"`

	path string
}

// TargetSpec mirrors a target definition in YAML.
type TargetSpec struct {
	Commands   string         `yaml:"commands"`
	Executable string         `yaml:"executable"`
	Args       map[string]any `yaml:"args"`
	Envs       map[string]any `yaml:"envs"`
}

// TriggerSpec mirrors a trigger definition in YAML. The variant is
// structural: an empty mapping is Once, `after` selects After, `delay`
// selects Restart, and `watch` (with optional `debounce` milliseconds)
// selects Watch. The CUE schema rejects field mixtures before decoding.
type TriggerSpec struct {
	After    []string `yaml:"after"`
	Delay    *float64 `yaml:"delay"`
	Watch    []string `yaml:"watch"`
	Debounce *int     `yaml:"debounce"`
}

// NodeSpec mirrors a node definition. Target and each trigger may be either
// an inline definition or the name of a shared one; the distinction is a
// YAML node kind, so both fields stay raw until resolution.
type NodeSpec struct {
	Target   yaml.Node      `yaml:"target"`
	Args     map[string]any `yaml:"args"`
	Envs     map[string]any `yaml:"envs"`
	Triggers []yaml.Node    `yaml:"triggers"`
	Color    string         `yaml:"color"`
}

// FlowSpec mirrors a flow definition.
type FlowSpec struct {
	Nodes map[string]NodeSpec `yaml:"nodes"`
	Args  map[string]any      `yaml:"args"`
	Envs  map[string]any      `yaml:"envs"`
}

// Load reads, schema-validates, and decodes a config file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Message: err.Error()}
	}

	if err := validateSchema(path, data); err != nil {
		return nil, err
	}

	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, &Error{Path: path, Message: fmt.Sprintf("decode: %v", err)}
	}
	doc.path = path
	return &doc, nil
}

// validateSchema unifies the YAML document with #Config from the embedded
// schema and reports every violation with its file position.
func validateSchema(path string, data []byte) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("internal schema error: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	if !def.Exists() {
		return fmt.Errorf("internal schema error: #Config not found")
	}

	file, err := cueyaml.Extract(path, data)
	if err != nil {
		return &Error{Path: path, Message: fmt.Sprintf("parse: %v", err)}
	}
	doc := ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return &Error{Path: path, Message: fmt.Sprintf("parse: %v", err)}
	}

	unified := def.Unify(doc)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return &Error{
			Path:    path,
			Message: "schema validation failed",
			Detail:  cueerrors.Details(err, nil),
		}
	}
	return nil
}
