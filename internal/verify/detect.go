// Package verify is the verification runner: it detects which project
// commands to run, executes them with a hard timeout, and normalizes
// failing output into the error keys the memory store indexes on.
package verify

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
)

var makeCheckTarget = regexp.MustCompile(`(?m)^check:`)

// Command is one detected verification step.
type Command struct {
	Name string
	Argv []string
}

type packageJSON struct {
	Scripts map[string]string `json:"scripts"`
}

// Detect inspects the project root and returns the ordered list of
// verification commands to run. An empty result means "nothing to verify".
func Detect(root string) []Command {
	if cmds := detectNode(root); cmds != nil {
		return cmds
	}
	if cmds := detectPython(root); cmds != nil {
		return cmds
	}
	if cmds := detectMakefile(root); cmds != nil {
		return cmds
	}
	return nil
}

func detectNode(root string) []Command {
	pkgPath := filepath.Join(root, "package.json")
	data, err := os.ReadFile(pkgPath)
	if err != nil {
		return nil
	}
	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil
	}

	var cmds []Command
	switch {
	case pkg.Scripts["typecheck"] != "":
		cmds = append(cmds, Command{Name: "typecheck", Argv: []string{"npm", "run", "typecheck"}})
	case pkg.Scripts["type-check"] != "":
		cmds = append(cmds, Command{Name: "typecheck", Argv: []string{"npm", "run", "type-check"}})
	default:
		if fileExists(filepath.Join(root, "tsconfig.json")) {
			cmds = append(cmds, Command{Name: "typecheck", Argv: []string{"npx", "tsc", "--noEmit"}})
		}
	}

	if pkg.Scripts["lint"] != "" {
		cmds = append(cmds, Command{Name: "lint", Argv: []string{"npm", "run", "lint"}})
	}

	if script, ok := pkg.Scripts["test"]; ok && !isStockTestStub(script) {
		cmds = append(cmds, Command{Name: "test", Argv: []string{"npm", "run", "test"}})
	}

	if len(cmds) == 0 && pkg.Scripts["build"] != "" {
		cmds = append(cmds, Command{Name: "build", Argv: []string{"npm", "run", "build"}})
	}

	if len(cmds) == 0 {
		return nil
	}
	return cmds
}

// isStockTestStub matches the placeholder `npm init` leaves behind.
func isStockTestStub(script string) bool {
	return script == `echo "Error: no test specified" && exit 1`
}

func detectPython(root string) []Command {
	var cmds []Command
	if fileExists(filepath.Join(root, "mypy.ini")) || fileExists(filepath.Join(root, "setup.cfg")) {
		cmds = append(cmds, Command{Name: "typecheck", Argv: []string{"mypy", "."}})
	}
	if fileExists(filepath.Join(root, "tests")) || fileExists(filepath.Join(root, "test")) {
		cmds = append(cmds, Command{Name: "test", Argv: []string{"pytest"}})
	}
	if fileExists(filepath.Join(root, "ruff.toml")) || fileExists(filepath.Join(root, ".ruff.toml")) {
		cmds = append(cmds, Command{Name: "lint", Argv: []string{"ruff", "check", "."}})
	}
	if len(cmds) == 0 {
		return nil
	}
	return cmds
}

func detectMakefile(root string) []Command {
	data, err := os.ReadFile(filepath.Join(root, "Makefile"))
	if err != nil {
		return nil
	}
	if !makeCheckTarget.Match(data) {
		return nil
	}
	return []Command{{Name: "check", Argv: []string{"make", "check"}}}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
