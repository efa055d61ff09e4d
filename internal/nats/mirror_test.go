package nats

import (
	"testing"

	"github.com/homer-run/homer/internal/events"
)

func TestSubjectForEvent(t *testing.T) {
	got := SubjectForEvent(events.EventAgentDone)
	want := "homer.events.agent:done"
	if got != want {
		t.Errorf("SubjectForEvent = %q, want %q", got, want)
	}
}
