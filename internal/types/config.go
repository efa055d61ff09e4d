package types

// RunConfig captures the supervisory CLI flags named in the control-surface
// spec (--tool, --model, --repo, --auto, --agents, --label,
// --permission-mode, --resume, --fresh). Parsing itself is the external
// collaborator; this struct is the parsed result handed to the orchestrator.
type RunConfig struct {
	Tool           string
	Model          string
	Repo           string
	Auto           bool
	MaxAgents      int
	LabelPrefix    string
	PermissionMode string
	Resume         bool
	Fresh          bool
}

// ToolsConfig is the root of configs/tools.yaml: a list of tool catalog
// entries layered on top of the three built-in descriptors.
type ToolsConfig struct {
	Tools []ToolConfigEntry `yaml:"tools"`
}

// ToolConfigEntry is one user-configurable tool catalog row.
type ToolConfigEntry struct {
	ID              string   `yaml:"id"`
	Name            string   `yaml:"name"`
	Command         string   `yaml:"command"`
	Interactive     bool     `yaml:"interactive"`
	SystemPrompt    bool     `yaml:"supports_system_prompt"`
	InitialPrompt   bool     `yaml:"supports_initial_prompt"`
	PermissionModes []string `yaml:"permission_modes"`
	RequiredEnvVar  string   `yaml:"required_env_var"`
}
