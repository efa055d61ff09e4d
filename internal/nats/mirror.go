package nats

import (
	"log"

	"github.com/homer-run/homer/internal/events"
)

// SubjectForEvent returns the NATS subject an event of type t is mirrored
// onto: "homer.events.<type>", e.g. "homer.events.agent:done".
func SubjectForEvent(t events.EventType) string {
	return "homer.events." + string(t)
}

// Mirror subscribes to every event on bus and republishes each one onto the
// client's connection, one subject per event type. It never affects bus
// delivery to in-process subscribers; this is a pure side tap for an
// external collaborator (e.g. a desktop tray app) listening on loopback.
// The returned func stops the mirror and releases the subscription.
func Mirror(bus *events.Bus, client *Client) func() {
	ch := bus.Subscribe("all", nil)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if err := client.PublishJSON(SubjectForEvent(ev.Type), ev); err != nil {
					log.Printf("[NATS] mirror publish failed: %v", err)
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		bus.Unsubscribe("all", ch)
	}
}
