package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/synthesize-dev/synthesize/internal/config"
	"github.com/synthesize-dev/synthesize/internal/flow"
)

// loadFlows locates the config file (explicit flag or upward discovery),
// loads it, and resolves every flow.
func loadFlows(opts *RootOptions) (map[string]flow.Flow, string, error) {
	path := opts.Config
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, "", WrapExitError(ExitCommandError, "resolve working directory", err)
		}
		path = config.Discover(cwd)
		if path == "" {
			return nil, "", NewExitError(ExitCommandError,
				fmt.Sprintf("no config file found (looked for %s upwards from %s)",
					strings.Join(config.FileNames, ", "), cwd))
		}
	}

	doc, err := config.Load(path)
	if err != nil {
		return nil, "", configError(err)
	}

	flows, err := doc.Resolve()
	if err != nil {
		return nil, "", configError(err)
	}
	return flows, path, nil
}

// selectFlow picks one flow by name, listing the alternatives on a miss.
func selectFlow(flows map[string]flow.Flow, name string) (flow.Flow, error) {
	if f, ok := flows[name]; ok {
		return f, nil
	}

	names := make([]string, 0, len(flows))
	for n := range flows {
		names = append(names, n)
	}
	sort.Strings(names)

	if len(names) == 0 {
		return flow.Flow{}, NewExitError(ExitCommandError, "the config file defines no flows")
	}
	return flow.Flow{}, NewExitError(ExitCommandError,
		fmt.Sprintf("no flow named %q; available flows: %s", name, strings.Join(names, ", ")))
}

// configError maps any config-layer error to the command-error exit code,
// keeping CUE's multi-line detail when present.
func configError(err error) error {
	if cfgErr, ok := err.(*config.Error); ok && cfgErr.Detail != "" {
		return NewExitError(ExitCommandError, cfgErr.Error()+"\n"+strings.TrimRight(cfgErr.Detail, "\n"))
	}
	return WrapExitError(ExitCommandError, "invalid configuration", err)
}
