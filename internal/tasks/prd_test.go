package tasks

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_PrefersFirstCandidatePath(t *testing.T) {
	dir := t.TempDir()
	prd := &PRD{Project: "demo", Stories: []Story{{ID: "US-1", Title: "one"}}}
	data, _ := json.Marshal(prd)
	if err := os.WriteFile(filepath.Join(dir, "prd.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}

	got, path, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got == nil || got.Project != "demo" {
		t.Fatalf("Load returned %+v", got)
	}
	if filepath.Base(path) != "prd.json" {
		t.Errorf("path = %s, want prd.json", path)
	}
}

func TestLoad_FallsBackToRalphThenHomer(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, ".homer"), 0o755); err != nil {
		t.Fatal(err)
	}
	prd := &PRD{Project: "fallback"}
	data, _ := json.Marshal(prd)
	if err := os.WriteFile(filepath.Join(dir, ".homer", "prd.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}

	got, _, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got == nil || got.Project != "fallback" {
		t.Fatalf("Load returned %+v", got)
	}
}

func TestLoad_MissingTreatedAsAbsent(t *testing.T) {
	got, path, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load returned error for missing PRD: %v", err)
	}
	if got != nil || path != "" {
		t.Errorf("expected nil PRD for missing file, got %+v / %q", got, path)
	}
}

func TestLoad_MalformedJSONTreatedAsAbsent(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "prd.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, _, err := Load(dir)
	if err != nil {
		t.Fatalf("Load returned error for malformed PRD: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil PRD for malformed file, got %+v", got)
	}
}

func TestSave_AtomicRewrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prd.json")
	prd := &PRD{Project: "p", Stories: []Story{{ID: "US-1"}}}
	if err := Save(path, prd); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one file after Save, got %d", len(entries))
	}

	loaded, _, err := Load(dir)
	if err != nil || loaded == nil || loaded.Project != "p" {
		t.Fatalf("round trip failed: loaded=%+v err=%v", loaded, err)
	}
}

func TestNextStory_OrdersByPriorityMissingLast(t *testing.T) {
	prd := &PRD{Stories: []Story{
		{ID: "a", Priority: 0},
		{ID: "b", Priority: 2},
		{ID: "c", Priority: 1},
		{ID: "done", Priority: 1, Passed: true},
	}}

	got, ok := NextStory(prd)
	if !ok {
		t.Fatal("expected a story")
	}
	if got.ID != "c" {
		t.Errorf("NextStory = %s, want c", got.ID)
	}
}

func TestNextStory_NoneWhenAllPassed(t *testing.T) {
	prd := &PRD{Stories: []Story{{ID: "a", Passed: true}}}
	if _, ok := NextStory(prd); ok {
		t.Error("expected no story when all passed")
	}
}

func TestDecomposeStory_RequiresMoreThanTwoCriteria(t *testing.T) {
	story := &Story{ID: "US-1", Criteria: []string{"a", "b"}}
	if _, ok := DecomposeStory(story); ok {
		t.Error("expected no decomposition for 2 criteria")
	}

	story.Criteria = append(story.Criteria, "c")
	units, ok := DecomposeStory(story)
	if !ok {
		t.Fatal("expected decomposition for 3 criteria")
	}
	if len(units) != 3 || units[0].SubtaskID != "US-1-1" || units[2].SubtaskID != "US-1-3" {
		t.Errorf("unexpected subtask ids: %+v", units)
	}
}

func TestMarkStoryPassed_Persists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prd.json")
	prd := &PRD{Stories: []Story{{ID: "US-1"}}}
	if err := Save(path, prd); err != nil {
		t.Fatal(err)
	}

	if err := MarkStoryPassed(path, prd, "US-1"); err != nil {
		t.Fatalf("MarkStoryPassed failed: %v", err)
	}

	reloaded, _, err := Load(dir)
	if err != nil || reloaded == nil {
		t.Fatalf("reload failed: %v", err)
	}
	if !reloaded.Stories[0].Passed {
		t.Error("expected story to be marked passed on disk")
	}
}
