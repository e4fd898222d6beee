// File: internal/render/render.go
// Brief: The renderer seam between the streaming engine and any UI.

// Package render turns log entries into styled terminal lines. It holds the
// deterministic pod color assigner, the JSON-aware line formatter, and the
// snapshot console; an interactive UI would implement the same Renderer
// contract.
package render

import (
	"time"

	"github.com/JoseManuelPS/KuLo/internal/kube"
)

// Entry is one log line captured from a container stream. Immutable; it lives
// from enqueue to render.
type Entry struct {
	Container kube.ContainerID
	Raw       string
	// Timestamp is the API-provided time when --timestamps requested it;
	// zero otherwise.
	Timestamp time.Time
}

// Renderer is the sole seam between the streaming engine and the UI. The
// engine depends on nothing else; the snapshot console and any interactive
// alternative implement it.
type Renderer interface {
	Render(Entry)
	Warn(text string)
	Error(text string)
}
