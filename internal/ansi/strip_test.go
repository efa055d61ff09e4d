package ansi

import "testing"

func TestStrip_RemovesColorCodes(t *testing.T) {
	in := "\x1b[38;2;34;197;94mhello\x1b[0m world"
	if got := Strip(in); got != "hello world" {
		t.Errorf("Strip = %q", got)
	}
}

func TestStrip_RemovesCursorMovement(t *testing.T) {
	in := "\x1b[2K\x1b[1Gdone"
	if got := Strip(in); got != "done" {
		t.Errorf("Strip = %q", got)
	}
}

func TestStrip_LeavesPlainTextUnchanged(t *testing.T) {
	in := "no escapes here"
	if got := Strip(in); got != in {
		t.Errorf("Strip = %q, want unchanged", got)
	}
}
