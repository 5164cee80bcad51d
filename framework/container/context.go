package container

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/km-arc/go-activator/framework/immutable"
)

// Frame records one activation in progress, for diagnostics.
type Frame struct {
	Type     reflect.Type
	Provider *Provider
}

// String renders the frame.
func (f Frame) String() string {
	if f.Provider == nil {
		return f.Type.String()
	}
	return fmt.Sprintf("%v via %v", f.Type, f.Provider)
}

// Context is the ambient state of one top-level resolve: named values that
// unresolvable dependencies fall back to, a stack of activations in
// progress, and the per-request instance cache.
//
// Values are copy-on-write: Clone shares them until either side calls Set.
// A Context belongs to one resolve at a time; a singleton that reaches
// itself through the same Context while it is being created fails with
// ErrCircularDependency.
type Context struct {
	mu     sync.Mutex
	values map[any]any
	shared bool
	frames []Frame
	items  immutable.Ref[uint64, *slot]
}

// NewContext creates an empty context.
func NewContext() *Context {
	return &Context{}
}

// Set stores value under key and returns the context for chaining.
// Keys of type reflect.Type are matched against requested types.
func (c *Context) Set(key, value any) *Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil || c.shared {
		next := make(map[any]any, len(c.values)+1)
		for k, v := range c.values {
			next[k] = v
		}
		c.values = next
		c.shared = false
	}
	c.values[key] = value
	return c
}

// Get returns the value stored under key.
func (c *Context) Get(key any) (any, bool) {
	if c == nil || key == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok
}

// Clone returns a context that shares the values of c but has its own
// frame stack and per-request cache.
func (c *Context) Clone() *Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shared = true
	return &Context{values: c.values, shared: true}
}

// Frames returns a copy of the activations in progress, outermost first.
func (c *Context) Frames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Frame(nil), c.frames...)
}

func (c *Context) push(f Frame) {
	c.mu.Lock()
	c.frames = append(c.frames, f)
	c.mu.Unlock()
}

func (c *Context) pop() {
	c.mu.Lock()
	if n := len(c.frames); n > 0 {
		c.frames = c.frames[:n-1]
	}
	c.mu.Unlock()
}

func (c *Context) item(id uint64, create func() (reflect.Value, error)) (reflect.Value, error) {
	s, ok := c.items.Get(id)
	if !ok {
		s, _ = c.items.AddOrKeep(id, &slot{})
	}
	return s.get(c, create)
}
