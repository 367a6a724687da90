package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/synthesize-dev/synthesize/internal/flow"
)

// Resolve replaces target and trigger name references with their shared
// definitions and returns the fully resolved flows, keyed by flow name.
// Every returned flow has passed flow.Validate.
func (d *Document) Resolve() (map[string]flow.Flow, error) {
	targets := make(map[string]flow.Target, len(d.Targets))
	for id, spec := range d.Targets {
		targets[id] = spec.toTarget(id)
	}

	triggers := make(map[string]flow.Trigger, len(d.Triggers))
	for id, spec := range d.Triggers {
		t, err := spec.toTrigger()
		if err != nil {
			return nil, &Error{Path: d.path, Message: fmt.Sprintf("trigger %q: %v", id, err)}
		}
		triggers[id] = t
	}

	flows := make(map[string]flow.Flow, len(d.Flows))
	for name, spec := range d.Flows {
		f, err := spec.resolve(name, targets, triggers)
		if err != nil {
			return nil, &Error{Path: d.path, Message: err.Error()}
		}
		if err := f.Validate(); err != nil {
			return nil, &Error{Path: d.path, Message: fmt.Sprintf("flow %q: %v", name, err)}
		}
		flows[name] = f
	}
	return flows, nil
}

// FlowNames returns the declared flow names, sorted.
func (d *Document) FlowNames() []string {
	names := make([]string, 0, len(d.Flows))
	for name := range d.Flows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s TargetSpec) toTarget(id string) flow.Target {
	return flow.Target{
		ID:         id,
		Commands:   Dedent(s.Commands),
		Executable: s.Executable,
		Args:       stringify(s.Args),
		Envs:       flow.Envs(stringify(s.Envs)),
	}
}

func (s TriggerSpec) toTrigger() (flow.Trigger, error) {
	set := 0
	if s.After != nil {
		set++
	}
	if s.Delay != nil {
		set++
	}
	if s.Watch != nil {
		set++
	}
	if set > 1 {
		return flow.Trigger{}, fmt.Errorf("mixes fields of different trigger kinds")
	}

	switch {
	case s.After != nil:
		return flow.AfterNodes(s.After...), nil
	case s.Delay != nil:
		return flow.Restart(time.Duration(*s.Delay * float64(time.Second))), nil
	case s.Watch != nil:
		t := flow.Watch(s.Watch...)
		if s.Debounce != nil {
			t.Debounce = time.Duration(*s.Debounce) * time.Millisecond
		}
		return t, nil
	default:
		if s.Debounce != nil {
			return flow.Trigger{}, fmt.Errorf("debounce requires watch paths")
		}
		return flow.Once(), nil
	}
}

func (s FlowSpec) resolve(
	name string,
	targets map[string]flow.Target,
	triggers map[string]flow.Trigger,
) (flow.Flow, error) {
	f := flow.Flow{
		Name:  name,
		Nodes: make(map[string]flow.Node, len(s.Nodes)),
		Args:  stringify(s.Args),
		Envs:  flow.Envs(stringify(s.Envs)),
	}

	for id, node := range s.Nodes {
		target, err := resolveTarget(node.Target, targets)
		if err != nil {
			return flow.Flow{}, fmt.Errorf("flow %q node %q: %w", name, id, err)
		}

		resolved := make([]flow.Trigger, 0, len(node.Triggers))
		for i, raw := range node.Triggers {
			t, err := resolveTrigger(raw, triggers)
			if err != nil {
				return flow.Flow{}, fmt.Errorf("flow %q node %q trigger %d: %w", name, id, i, err)
			}
			resolved = append(resolved, t)
		}
		if len(resolved) == 0 {
			// A node without declared triggers runs once at start.
			resolved = []flow.Trigger{flow.Once()}
		}

		f.Nodes[id] = flow.Node{
			ID:       id,
			Target:   target,
			Args:     stringify(node.Args),
			Envs:     flow.Envs(stringify(node.Envs)),
			Triggers: resolved,
			Color:    node.Color,
		}
	}
	return f, nil
}

func resolveTarget(raw yaml.Node, targets map[string]flow.Target) (flow.Target, error) {
	switch raw.Kind {
	case yaml.ScalarNode:
		var ref string
		if err := raw.Decode(&ref); err != nil {
			return flow.Target{}, fmt.Errorf("target: %w", err)
		}
		t, ok := targets[ref]
		if !ok {
			return flow.Target{}, fmt.Errorf("unknown target %q", ref)
		}
		return t, nil
	case yaml.MappingNode:
		var spec TargetSpec
		if err := raw.Decode(&spec); err != nil {
			return flow.Target{}, fmt.Errorf("target: %w", err)
		}
		return spec.toTarget(""), nil
	case 0:
		return flow.Target{}, fmt.Errorf("target is required")
	default:
		return flow.Target{}, fmt.Errorf("target must be a name or a definition")
	}
}

func resolveTrigger(raw yaml.Node, triggers map[string]flow.Trigger) (flow.Trigger, error) {
	switch raw.Kind {
	case yaml.ScalarNode:
		var ref string
		if err := raw.Decode(&ref); err != nil {
			return flow.Trigger{}, err
		}
		t, ok := triggers[ref]
		if !ok {
			return flow.Trigger{}, fmt.Errorf("unknown trigger %q", ref)
		}
		return t, nil
	case yaml.MappingNode:
		var spec TriggerSpec
		if err := raw.Decode(&spec); err != nil {
			return flow.Trigger{}, err
		}
		return spec.toTrigger()
	default:
		return flow.Trigger{}, fmt.Errorf("trigger must be a name or a definition")
	}
}

// stringify coerces scalar YAML values (numbers, booleans) to the strings
// the templating layer works with.
func stringify(m map[string]any) flow.Args {
	if len(m) == 0 {
		return nil
	}
	out := make(flow.Args, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			out[k] = val
		default:
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out
}

// Dedent strips the common leading whitespace from every non-blank line and
// trims surrounding blank lines, so multi-line YAML command blocks read
// naturally when indented under their key.
func Dedent(s string) string {
	lines := strings.Split(s, "\n")

	margin := -1
	for _, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		if trimmed == "" {
			continue
		}
		indent := len(line) - len(trimmed)
		if margin < 0 || indent < margin {
			margin = indent
		}
	}
	if margin > 0 {
		for i, line := range lines {
			if len(line) >= margin {
				lines[i] = line[margin:]
			} else {
				lines[i] = strings.TrimLeft(line, " \t")
			}
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
