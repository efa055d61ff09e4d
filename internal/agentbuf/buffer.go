// Package agentbuf is the per-agent output processor: it holds a bounded
// tail of recent PTY bytes, detects HOMER_DONE/HOMER_BLOCKED completion
// signals, and compacts context (file touches, errors, approach notes) out
// of anything it trims away.
package agentbuf

import (
	"regexp"
	"strings"
	"sync"

	"github.com/homer-run/homer/internal/ansi"
	"github.com/homer-run/homer/internal/signals"
)

const (
	// TrimAt is the soft cap that triggers a compaction pass.
	TrimAt = 300 * 1024
	// Keep is how much of the tail survives a trim.
	Keep = 128 * 1024
	// scanWindow is how much of the ANSI-stripped tail signal detection sees.
	scanWindow = 500
	// maxErrorLines bounds how many error lines a compaction keeps.
	maxErrorLines = 5
	// maxApproachLines bounds how many "approach" lines a compaction keeps.
	maxApproachLines = 3
)

var (
	doneToken    = regexp.MustCompile(`HOMER_DONE`)
	blockedToken = regexp.MustCompile(`HOMER_BLOCKED(?:\s*:\s*(.*))?`)
	approachWord = regexp.MustCompile(`(?i)\b(approach|strategy|plan|trying|attempt|will|going to|let me)\b`)
)

// SignalKind tags a detected completion signal.
type SignalKind int

const (
	SignalNone SignalKind = iota
	SignalDone
	SignalBlocked
)

// Signal is what a scan of the tail window found, at most one per scan.
type Signal struct {
	Kind   SignalKind
	Reason string // only set for SignalBlocked; defaults to "unknown"
}

// Compaction is emitted whenever a trim discards part of the buffer, so the
// caller can feed it to the memory store.
type Compaction struct {
	FilePaths    []string
	Errors       []string
	ApproachNote string
}

// Buffer is the bounded, signal-detecting output buffer for one agent.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	digest string // short summary standing in for everything already trimmed
	armed  bool   // false right after a signal fires, until Rearm is called
}

// New creates an armed, empty Buffer.
func New() *Buffer {
	return &Buffer{armed: true}
}

// Write appends data, runs a trim (and compaction) if the soft cap is
// exceeded, and returns any signal detected in the ANSI-stripped tail. At
// most one signal fires per call, and none fires again until Rearm.
func (b *Buffer) Write(data []byte) (Signal, *Compaction) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, data...)

	var compaction *Compaction
	if len(b.data) > TrimAt {
		compaction = b.trimLocked()
	}

	if !b.armed {
		return Signal{}, compaction
	}

	sig := b.scanLocked()
	if sig.Kind != SignalNone {
		b.armed = false
	}
	return sig, compaction
}

// Rearm re-enables signal detection; the supervisor calls this when an
// agent's status returns to "working".
func (b *Buffer) Rearm() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.armed = true
}

// Bytes returns the current buffer contents.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// scanLocked detects a signal in the ANSI-stripped last scanWindow chars.
func (b *Buffer) scanLocked() Signal {
	tailStart := len(b.data) - scanWindow
	if tailStart < 0 {
		tailStart = 0
	}
	tail := ansi.Strip(string(b.data[tailStart:]))

	doneLoc := doneToken.FindStringIndex(tail)
	blockedLoc := blockedToken.FindStringSubmatchIndex(tail)

	switch {
	case doneLoc == nil && blockedLoc == nil:
		return Signal{}
	case doneLoc != nil && (blockedLoc == nil || doneLoc[0] <= blockedLoc[0]):
		return Signal{Kind: SignalDone}
	default:
		m := blockedToken.FindStringSubmatch(tail)
		reason := "unknown"
		if len(m) > 1 && strings.TrimSpace(m[1]) != "" {
			reason = strings.TrimSpace(m[1])
		}
		return Signal{Kind: SignalBlocked, Reason: reason}
	}
}

// trimLocked runs the extract-then-discard protocol on the portion about to
// be dropped, then collapses the buffer to digest + tail[-Keep:]. The
// signal-bearing tail is never part of what gets discarded since Keep is
// always larger than scanWindow.
func (b *Buffer) trimLocked() *Compaction {
	cut := len(b.data) - Keep
	discarded := string(b.data[:cut])

	comp := &Compaction{
		FilePaths: signals.ExtractFilePaths(discarded),
		Errors:    signals.ExtractErrorLines(discarded, maxErrorLines),
	}
	comp.ApproachNote = sampleApproachLines(discarded, maxApproachLines)

	b.digest = summarize(comp)
	b.data = append([]byte(b.digest), b.data[cut:]...)
	return comp
}

func sampleApproachLines(text string, max int) string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if len(lines) >= max {
			break
		}
		if approachWord.MatchString(line) {
			lines = append(lines, strings.TrimSpace(line))
		}
	}
	return strings.Join(lines, " / ")
}

func summarize(c *Compaction) string {
	var sb strings.Builder
	sb.WriteString("[compacted")
	if len(c.FilePaths) > 0 {
		sb.WriteString("; touched: ")
		sb.WriteString(strings.Join(c.FilePaths, ", "))
	}
	if len(c.Errors) > 0 {
		sb.WriteString("; errors: ")
		sb.WriteString(strings.Join(c.Errors, " | "))
	}
	sb.WriteString("]\n")
	return sb.String()
}
