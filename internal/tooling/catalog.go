// Package tooling holds the process-wide catalog of supported coding-agent
// CLIs: the built-in descriptors plus whatever configs/tools.yaml adds.
package tooling

import (
	"fmt"
	"os"

	"github.com/homer-run/homer/internal/types"
	"gopkg.in/yaml.v3"
)

// Catalog is the immutable, process-wide set of tool descriptors, keyed by
// id. Built with Init; never mutated after.
type Catalog struct {
	descriptors map[string]types.ToolDescriptor
}

// Get returns the descriptor for id and whether it was found.
func (c *Catalog) Get(id string) (types.ToolDescriptor, bool) {
	d, ok := c.descriptors[id]
	return d, ok
}

// GenericFallback returns the capability-less descriptor for an
// unknown-but-executable command, with its Command field set to cmd.
func (c *Catalog) GenericFallback(cmd string) types.ToolDescriptor {
	d := c.descriptors["generic"]
	d.Command = cmd
	return d
}

// IDs returns every registered descriptor id.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.descriptors))
	for id := range c.descriptors {
		ids = append(ids, id)
	}
	return ids
}

// configFile is the shape of configs/tools.yaml.
type configFile struct {
	Tools []configEntry `yaml:"tools"`
}

type configEntry struct {
	ID                    string   `yaml:"id"`
	Name                  string   `yaml:"name"`
	Command               string   `yaml:"command"`
	Interactive           bool     `yaml:"interactive"`
	SupportsSystemPrompt  bool     `yaml:"supports_system_prompt"`
	SupportsInitialPrompt bool     `yaml:"supports_initial_prompt"`
	PermissionModes       []string `yaml:"permission_modes"`
	RequiredEnvVar        string   `yaml:"required_env_var"`
}

// Init builds the catalog: the three built-ins first, then whatever path
// contains, overriding by id. A missing path is not an error — the built-ins
// alone are a valid catalog.
func Init(path string) (*Catalog, error) {
	c := &Catalog{descriptors: builtins()}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tooling: reading %s: %w", path, err)
	}

	var cfg configFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("tooling: parsing %s: %w", path, err)
	}

	for _, e := range cfg.Tools {
		if e.ID == "" || e.Command == "" {
			return nil, fmt.Errorf("tooling: %s: entry missing id or command", path)
		}
		c.descriptors[e.ID] = fromConfigEntry(e)
	}
	return c, nil
}

func fromConfigEntry(e configEntry) types.ToolDescriptor {
	var caps types.ToolCapability
	if e.Interactive {
		caps |= types.CapInteractive
	}
	if e.SupportsSystemPrompt {
		caps |= types.CapSupportsSystemPrompt
	}
	if e.SupportsInitialPrompt {
		caps |= types.CapSupportsInitialPrompt
	}
	return types.ToolDescriptor{
		ID:                     e.ID,
		Name:                   e.Name,
		Command:                e.Command,
		Capabilities:           caps,
		PermissionModes:        e.PermissionModes,
		RequiredEnvVar:         e.RequiredEnvVar,
		BuildArgs:              genericBuildArgs(e),
		BuildInitialPromptArgs: nil,
	}
}

// genericBuildArgs gives a config-declared tool a minimal argument builder:
// model and permission mode flags if the tool declared support for them,
// nothing more — config entries can't express a bespoke CLI grammar, only
// built-ins get one of those.
func genericBuildArgs(e configEntry) func(types.SpawnOptions) []string {
	return func(opts types.SpawnOptions) []string {
		var args []string
		if opts.Model != "" {
			args = append(args, "--model", opts.Model)
		}
		if opts.PermissionMode != "" && len(e.PermissionModes) > 0 {
			args = append(args, "--permission-mode", opts.PermissionMode)
		}
		return args
	}
}
