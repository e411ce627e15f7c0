// Package proptree implements the hierarchical observable parameter store
// consumed by the daughterboard control plane. Leaves are keyed by
// slash-separated paths and may carry a coercer, applied synchronously on
// write with its return value becoming the stored value, and a publisher,
// invoked on read in place of the stored value. A leaf with both installed
// is a pure routing veneer over whatever the functions talk to; the tree
// itself never becomes a cache for them.
//
// Trees are explicit instances passed to whatever wires leaves. There is
// no package-level tree.
package proptree

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrNotFound = errors.New("proptree: path not found")
	ErrExists   = errors.New("proptree: path already exists")
	ErrReadOnly = errors.New("proptree: leaf is read-only")
)

// CoerceFunc transforms a requested value into the value actually stored.
// Returning an error leaves the stored value untouched.
type CoerceFunc func(v any) (any, error)

// PublishFunc produces the current value on read.
type PublishFunc func() (any, error)

// Tree is a path-keyed collection of leaves. Safe for concurrent use;
// coercers and publishers run on the calling goroutine without any tree
// lock held, so a slow leaf never blocks the others.
type Tree struct {
	mu     sync.RWMutex
	leaves map[string]*Leaf
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{leaves: make(map[string]*Leaf)}
}

func cleanPath(path string) string {
	return strings.Trim(strings.TrimSpace(path), "/")
}

// Create registers a new leaf at path holding initial. It fails with
// ErrExists when the path is already taken.
func (t *Tree) Create(path string, initial any) (*Leaf, error) {
	p := cleanPath(path)
	if p == "" {
		return nil, fmt.Errorf("proptree: empty path")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.leaves[p]; ok {
		return nil, fmt.Errorf("create %q: %w", p, ErrExists)
	}
	l := &Leaf{path: p, value: initial}
	t.leaves[p] = l
	return l, nil
}

// Exists reports whether a leaf is registered at path.
func (t *Tree) Exists(path string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.leaves[cleanPath(path)]
	return ok
}

// Leaf returns the leaf at path.
func (t *Tree) Leaf(path string) (*Leaf, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	l, ok := t.leaves[cleanPath(path)]
	return l, ok
}

// Paths returns every registered path in sorted order.
func (t *Tree) Paths() []string {
	t.mu.RLock()
	paths := make([]string, 0, len(t.leaves))
	for p := range t.leaves {
		paths = append(paths, p)
	}
	t.mu.RUnlock()
	sort.Strings(paths)
	return paths
}

// Get reads the value at path, going through the leaf's publisher when one
// is installed.
func (t *Tree) Get(path string) (any, error) {
	l, ok := t.Leaf(path)
	if !ok {
		return nil, fmt.Errorf("get %q: %w", cleanPath(path), ErrNotFound)
	}
	return l.Get()
}

// Set writes v at path through the leaf's coercer and returns the value
// actually stored.
func (t *Tree) Set(path string, v any) (any, error) {
	l, ok := t.Leaf(path)
	if !ok {
		return nil, fmt.Errorf("set %q: %w", cleanPath(path), ErrNotFound)
	}
	return l.Set(v)
}

// GetFloat64 reads path and converts the result to float64.
func (t *Tree) GetFloat64(path string) (float64, error) {
	v, err := t.Get(path)
	if err != nil {
		return 0, err
	}
	f, ok := asFloat64(v)
	if !ok {
		return 0, fmt.Errorf("get %q: value %T is not numeric", cleanPath(path), v)
	}
	return f, nil
}

// GetString reads path and converts the result to string.
func (t *Tree) GetString(path string) (string, error) {
	v, err := t.Get(path)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("get %q: value %T is not a string", cleanPath(path), v)
	}
	return s, nil
}

// GetStringMap reads path and converts the result to map[string]string.
func (t *Tree) GetStringMap(path string) (map[string]string, error) {
	v, err := t.Get(path)
	if err != nil {
		return nil, err
	}
	switch m := v.(type) {
	case map[string]string:
		return m, nil
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, mv := range m {
			s, ok := mv.(string)
			if !ok {
				return nil, fmt.Errorf("get %q: entry %q is %T, not string", cleanPath(path), k, mv)
			}
			out[k] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("get %q: value %T is not a string map", cleanPath(path), v)
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}

// Leaf is a single observable value. The value swap is mutex-guarded;
// coercers and publishers execute outside the lock.
type Leaf struct {
	mu       sync.Mutex
	path     string
	value    any
	coerce   CoerceFunc
	publish  PublishFunc
	readOnly bool
}

// Path returns the leaf's registration path.
func (l *Leaf) Path() string { return l.path }

// WithCoercer installs fn as the write-time coercer. Chainable;
// registration-time only.
func (l *Leaf) WithCoercer(fn CoerceFunc) *Leaf {
	l.mu.Lock()
	l.coerce = fn
	l.mu.Unlock()
	return l
}

// WithPublisher installs fn as the read-time publisher. Chainable;
// registration-time only.
func (l *Leaf) WithPublisher(fn PublishFunc) *Leaf {
	l.mu.Lock()
	l.publish = fn
	l.mu.Unlock()
	return l
}

// ReadOnly marks the leaf as rejecting writes. Used for static metadata
// such as ranges and option lists.
func (l *Leaf) ReadOnly() *Leaf {
	l.mu.Lock()
	l.readOnly = true
	l.mu.Unlock()
	return l
}

// Set applies the coercer to v, stores the coerced result, and returns it.
// Without a coercer v is stored as-is.
func (l *Leaf) Set(v any) (any, error) {
	l.mu.Lock()
	if l.readOnly {
		l.mu.Unlock()
		return nil, fmt.Errorf("set %q: %w", l.path, ErrReadOnly)
	}
	coerce := l.coerce
	l.mu.Unlock()

	realized := v
	if coerce != nil {
		var err error
		realized, err = coerce(v)
		if err != nil {
			return nil, fmt.Errorf("set %q: %w", l.path, err)
		}
	}

	l.mu.Lock()
	l.value = realized
	l.mu.Unlock()
	return realized, nil
}

// Get returns the published value when a publisher is installed, updating
// the stored value to match, and the stored value otherwise.
func (l *Leaf) Get() (any, error) {
	l.mu.Lock()
	publish := l.publish
	stored := l.value
	l.mu.Unlock()

	if publish == nil {
		return stored, nil
	}
	v, err := publish()
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", l.path, err)
	}
	l.mu.Lock()
	l.value = v
	l.mu.Unlock()
	return v, nil
}
