package verify

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDetect_NodeTypecheckScript(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", `{"scripts":{"typecheck":"tsc --noEmit","lint":"eslint ."}}`)

	cmds := Detect(dir)
	if len(cmds) != 2 || cmds[0].Name != "typecheck" || cmds[1].Name != "lint" {
		t.Fatalf("cmds = %+v", cmds)
	}
}

func TestDetect_NodeSynthesizesTscWhenTsconfigPresent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", `{"scripts":{}}`)
	writeFile(t, dir, "tsconfig.json", `{}`)

	cmds := Detect(dir)
	if len(cmds) != 1 || cmds[0].Argv[0] != "npx" {
		t.Fatalf("cmds = %+v", cmds)
	}
}

func TestDetect_SkipsStockTestStub(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", `{"scripts":{"test":"echo \"Error: no test specified\" && exit 1"}}`)

	cmds := Detect(dir)
	for _, c := range cmds {
		if c.Name == "test" {
			t.Fatalf("expected stock test stub to be skipped, got %+v", cmds)
		}
	}
}

func TestDetect_FallsBackToBuildWhenNothingElseDetected(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", `{"scripts":{"build":"tsc"}}`)

	cmds := Detect(dir)
	if len(cmds) != 1 || cmds[0].Name != "build" {
		t.Fatalf("cmds = %+v", cmds)
	}
}

func TestDetect_PythonMypyAndPytest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "mypy.ini", "[mypy]\n")
	if err := os.Mkdir(filepath.Join(dir, "tests"), 0o755); err != nil {
		t.Fatal(err)
	}

	cmds := Detect(dir)
	if len(cmds) != 2 || cmds[0].Name != "typecheck" || cmds[1].Name != "test" {
		t.Fatalf("cmds = %+v", cmds)
	}
}

func TestDetect_MakefileCheckTarget(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Makefile", "build:\n\techo build\ncheck:\n\techo check\n")

	cmds := Detect(dir)
	if len(cmds) != 1 || cmds[0].Name != "check" {
		t.Fatalf("cmds = %+v", cmds)
	}
}

func TestDetect_NothingDetected(t *testing.T) {
	if cmds := Detect(t.TempDir()); cmds != nil {
		t.Fatalf("expected nil, got %+v", cmds)
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
