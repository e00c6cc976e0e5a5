package window

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Screen elements an agent window exposes.
const (
	ElementInput = "input"
	ElementCopy  = "copy"
	ElementProbe = "probe"
)

// Elements lists every element an agent needs coordinates for.
var Elements = []string{ElementInput, ElementCopy, ElementProbe}

// Point is a screen coordinate.
type Point struct {
	X int `mapstructure:"x" yaml:"x"`
	Y int `mapstructure:"y" yaml:"y"`
}

func (p Point) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// ParsePoint parses "X,Y". The parenthesized form produced by String is also accepted.
func ParsePoint(s string) (Point, error) {
	s = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(s), "("), ")")
	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return Point{}, fmt.Errorf("point %q: want X,Y", s)
	}
	x, err := strconv.Atoi(strings.TrimSpace(xs))
	if err != nil {
		return Point{}, fmt.Errorf("point %q: bad X: %w", s, err)
	}
	y, err := strconv.Atoi(strings.TrimSpace(ys))
	if err != nil {
		return Point{}, fmt.Errorf("point %q: bad Y: %w", s, err)
	}
	if x < 0 || y < 0 {
		return Point{}, fmt.Errorf("point %q: coordinates must not be negative", s)
	}
	return Point{X: x, Y: y}, nil
}

// UIAutomation drives the editor through simulated input.
// Implementations should wrap ErrClickFailed, ErrFocusLost and
// ErrClipboardUnchanged for failures that are worth retrying.
type UIAutomation interface {
	// PerformInjection focuses the input at p, types text and submits it.
	PerformInjection(ctx context.Context, p Point, text string) error
	// PerformCopy clicks the copy control at p and returns the clipboard right after.
	PerformCopy(ctx context.Context, p Point) (string, error)
	ReadClipboard(ctx context.Context) (string, error)
	CheckWindowFocused(ctx context.Context, title string) (bool, error)
	// ProbeClick performs a harmless click that only succeeds on a responsive window.
	ProbeClick(ctx context.Context, p Point) error
	// PressNeutralKey presses a key with no effect in the editor, used to recover focus.
	PressNeutralKey(ctx context.Context) error
}

// ReadinessProbe reports whether an agent's editor has finished responding.
// Fixed delays and screen probing are both implementations.
type ReadinessProbe interface {
	ResponseReady(ctx context.Context, agentID string) (bool, error)
}

// CoordinateStore resolves element positions per agent.
type CoordinateStore interface {
	Lookup(agentID, element string) (Point, bool)
}

// StaticCoordinates is a CoordinateStore built from configuration: agent ID to
// element name to point.
type StaticCoordinates map[string]map[string]Point

// Lookup implements CoordinateStore.
func (c StaticCoordinates) Lookup(agentID, element string) (Point, bool) {
	elements, ok := c[agentID]
	if !ok {
		return Point{}, false
	}
	p, ok := elements[element]
	return p, ok
}

// Validate reports the first agent missing an element.
func (c StaticCoordinates) Validate() error {
	for agentID, elements := range c {
		for _, el := range Elements {
			if _, ok := elements[el]; !ok {
				return fmt.Errorf("agent %s: %w for %q", agentID, ErrUnknownElement, el)
			}
		}
	}
	return nil
}
