// File: internal/render/console.go
// Brief: Snapshot renderer writing aligned, color-coded lines to a terminal.

package render

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"github.com/JoseManuelPS/KuLo/internal/kube"
)

// Console is the line-oriented Renderer. It owns the output writer; only the
// consumer task calls Render, and Warn/Error take a lock so pre-flight
// messages interleave safely.
type Console struct {
	mu         sync.Mutex
	out        io.Writer
	colors     *Assigner
	colorize   bool
	timestamps bool

	width      int
	namespaces map[string]struct{}
	podCount   map[string]int // containers admitted per ns/pod

	levelCols map[string]*color.Color
	dim       *color.Color
	warnCol   *color.Color
	errCol    *color.Color
}

// NewConsole builds the snapshot renderer. colorize false suppresses every
// style; text and alignment stay identical.
func NewConsole(out io.Writer, colors *Assigner, colorize, timestamps bool) *Console {
	return &Console{
		out:        out,
		colors:     colors,
		colorize:   colorize,
		timestamps: timestamps,
		namespaces: make(map[string]struct{}),
		podCount:   make(map[string]int),
		levelCols: map[string]*color.Color{
			"INFO":  color.New(color.FgGreen),
			"WARN":  color.New(color.FgYellow),
			"ERROR": color.New(color.FgRed),
			"DEBUG": color.New(color.Faint),
		},
		dim:     color.New(color.Faint),
		warnCol: color.New(color.FgYellow),
		errCol:  color.New(color.FgRed),
	}
}

// Admit registers containers with the prefix layout: namespace multiplicity,
// per-pod container counts, and the alignment width. Called once at startup
// and again when rotation introduces pods; the width only ever grows.
func (c *Console) Admit(containers []kube.ContainerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range containers {
		c.namespaces[id.Namespace] = struct{}{}
		c.podCount[id.Namespace+"/"+id.Pod]++
	}
	for _, id := range containers {
		if w := runewidth.StringWidth(c.prefixLocked(id)); w > c.width {
			c.width = w
		}
	}
}

// Render formats one log entry as a single terminal line.
func (c *Console) Render(e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := c.prefixLocked(e.Container)
	pad := c.width - runewidth.StringWidth(prefix)
	if pad < 0 {
		pad = 0
	}

	var b strings.Builder
	if c.timestamps && !e.Timestamp.IsZero() {
		stamp := e.Timestamp.Format(time.RFC3339)
		b.WriteString(c.sprint(c.dim, stamp))
		b.WriteByte(' ')
	}
	b.WriteString(c.colorPrefixLocked(e.Container, prefix))
	b.WriteString(strings.Repeat(" ", pad))
	b.WriteString(" > ")
	b.WriteString(c.formatMessageLocked(e.Container.Pod, e.Raw))
	fmt.Fprintln(c.out, b.String())
}

// Warn emits a single diagnostic line outside the log stream.
func (c *Console) Warn(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, c.sprint(c.warnCol, "warning: "+text))
}

// Error emits a single error line outside the log stream.
func (c *Console) Error(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, c.sprint(c.errCol, "error: "+text))
}

// prefixLocked builds the plain prefix: [NS] POD (CONTAINER), with the
// namespace omitted in single-namespace runs and the container omitted for
// single-container pods.
func (c *Console) prefixLocked(id kube.ContainerID) string {
	var b strings.Builder
	if len(c.namespaces) > 1 {
		b.WriteByte('[')
		b.WriteString(id.Namespace)
		b.WriteString("] ")
	}
	b.WriteString(id.Pod)
	if c.podCount[id.Namespace+"/"+id.Pod] > 1 {
		b.WriteString(" (")
		b.WriteString(id.Container)
		b.WriteByte(')')
	}
	return b.String()
}

// colorPrefixLocked rebuilds the prefix with the pod name colored. The plain
// variant is passed in so the no-color path costs nothing extra.
func (c *Console) colorPrefixLocked(id kube.ContainerID, plain string) string {
	if !c.colorize {
		return plain
	}
	podColor := c.colors.Get(id.Pod)
	var b strings.Builder
	if len(c.namespaces) > 1 {
		b.WriteByte('[')
		b.WriteString(id.Namespace)
		b.WriteString("] ")
	}
	b.WriteString(podColor.Sprint(id.Pod))
	if c.podCount[id.Namespace+"/"+id.Pod] > 1 {
		b.WriteString(" (")
		b.WriteString(id.Container)
		b.WriteByte(')')
	}
	return b.String()
}

// formatMessageLocked applies JSON intelligence to the message body. Parsing
// happens here, once per rendered line, never in the producers.
func (c *Console) formatMessageLocked(pod, raw string) string {
	parsed, ok := parseJSONLine(raw)
	if !ok {
		if !c.colorize {
			return raw
		}
		return c.colors.Get(pod).Sprint(raw)
	}
	var b strings.Builder
	if parsed.HasLevel && parsed.Level != "" {
		tag := "[" + parsed.Level + "]"
		if c.colorize && parsed.LevelKnown {
			tag = c.levelCols[parsed.Level].Sprint(tag)
		}
		b.WriteString(tag)
		b.WriteByte(' ')
	}
	if parsed.HasMessage {
		if c.colorize {
			b.WriteString(c.colors.Get(pod).Sprint(parsed.Message))
		} else {
			b.WriteString(parsed.Message)
		}
	}
	if len(parsed.Fields) > 0 {
		b.WriteString("  ")
		for i, f := range parsed.Fields {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(c.sprint(c.dim, f.Key+"="+f.Value))
		}
	}
	return b.String()
}

func (c *Console) sprint(col *color.Color, text string) string {
	if !c.colorize {
		return text
	}
	return col.Sprint(text)
}
