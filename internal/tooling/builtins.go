package tooling

import "github.com/homer-run/homer/internal/types"

// builtins returns the three descriptors every catalog carries regardless of
// configs/tools.yaml: claude and aider, which accept an initial prompt via
// argument, and generic, the capability-less fallback for any other
// executable named at spawn time.
func builtins() map[string]types.ToolDescriptor {
	return map[string]types.ToolDescriptor{
		"claude": {
			ID:              "claude",
			Name:            "Claude Code",
			Command:         "claude",
			Capabilities:    types.CapInteractive | types.CapSupportsSystemPrompt | types.CapSupportsInitialPrompt,
			PermissionModes: []string{"default", "acceptEdits", "bypassPermissions", "plan"},
			BuildArgs:       claudeBuildArgs,
			BuildInitialPromptArgs: func(prompt string) []string {
				return []string{"--print", prompt}
			},
		},
		"aider": {
			ID:              "aider",
			Name:            "Aider",
			Command:         "aider",
			Capabilities:    types.CapInteractive | types.CapSupportsInitialPrompt,
			PermissionModes: []string{"ask", "auto"},
			BuildArgs:       aiderBuildArgs,
			BuildInitialPromptArgs: func(prompt string) []string {
				return []string{"--message", prompt}
			},
		},
		"generic": {
			ID:                     "generic",
			Name:                   "Generic",
			Capabilities:           0,
			BuildArgs:              func(types.SpawnOptions) []string { return nil },
			BuildInitialPromptArgs: nil,
		},
	}
}

func claudeBuildArgs(opts types.SpawnOptions) []string {
	var args []string
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.PermissionMode != "" {
		args = append(args, "--permission-mode", opts.PermissionMode)
	}
	if opts.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", opts.SystemPrompt)
	}
	return args
}

func aiderBuildArgs(opts types.SpawnOptions) []string {
	var args []string
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	switch opts.PermissionMode {
	case "auto":
		args = append(args, "--yes-always")
	case "ask", "":
	default:
		args = append(args, "--yes-always")
	}
	return args
}
