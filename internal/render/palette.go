// File: internal/render/palette.go
// Brief: Deterministic pod color assignment over a fixed 20-color palette.

package render

import (
	"sort"
	"sync"

	"github.com/fatih/color"
)

// PaletteSize is the number of visually distinct colors pods rotate through.
const PaletteSize = 20

// DefaultColorPalette returns the color rotation used when rendering streams.
func DefaultColorPalette() []*color.Color {
	return []*color.Color{
		color.New(color.FgHiCyan),
		color.New(color.FgHiMagenta),
		color.New(color.FgHiGreen),
		color.New(color.FgHiYellow),
		color.New(color.FgHiBlue),
		color.New(color.FgHiRed),
		color.New(color.FgCyan),
		color.New(color.FgMagenta),
		color.New(color.FgGreen),
		color.New(color.FgYellow),
		color.New(color.FgBlue),
		color.New(color.FgRed),
		color.New(color.Bold, color.FgHiCyan),
		color.New(color.Bold, color.FgHiMagenta),
		color.New(color.Bold, color.FgHiGreen),
		color.New(color.Bold, color.FgHiYellow),
		color.New(color.Bold, color.FgHiBlue),
		color.New(color.Bold, color.FgHiRed),
		color.New(color.FgHiWhite),
		color.New(color.Bold, color.FgWhite),
	}
}

// Assigner maps pod names to palette indices. Initialization sorts the pod
// names so the same pod set always produces the same assignment; pods seen
// later take the next index, wrapping on the palette size. Once assigned, a
// pod's color never changes for the run.
type Assigner struct {
	mu      sync.Mutex
	palette []*color.Color
	byPod   map[string]int
	next    int
}

// NewAssigner builds an assigner over the default palette.
func NewAssigner() *Assigner {
	return &Assigner{
		palette: DefaultColorPalette(),
		byPod:   make(map[string]int),
	}
}

// Init assigns indices 0, 1, ... modulo the palette size to the given pod
// names in lexicographic order. Pods already assigned keep their index.
func (a *Assigner) Init(podNames []string) {
	sorted := append([]string(nil), podNames...)
	sort.Strings(sorted)
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, name := range sorted {
		if _, ok := a.byPod[name]; ok {
			continue
		}
		a.byPod[name] = a.next % len(a.palette)
		a.next++
	}
}

// Get returns the color for a pod, assigning the next index to pods not seen
// before.
func (a *Assigner) Get(pod string) *color.Color {
	return a.palette[a.Index(pod)]
}

// Index returns the palette index for a pod, assigning one if needed.
func (a *Assigner) Index(pod string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if idx, ok := a.byPod[pod]; ok {
		return idx
	}
	idx := a.next % len(a.palette)
	a.byPod[pod] = idx
	a.next++
	return idx
}
