package container

import (
	"io"
	"reflect"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/km-arc/go-activator/framework/immutable"
)

// Disposable is implemented by instances that need cleanup when their
// owning scope ends.
type Disposable interface {
	Dispose() error
}

type disposal struct {
	value any
	hooks []func(any) error
}

// Disposer is an append-only list of instances owned by one scope.
// Appends are lock-free; Dispose runs cleanups in reverse append order.
type Disposer struct {
	items    immutable.Stack[disposal]
	disposed atomic.Bool
	log      *zap.Logger
	observer Observer
}

func newDisposer(log *zap.Logger, obs Observer) *Disposer {
	return &Disposer{log: log, observer: obs}
}

// Track registers v for disposal if it is Disposable, an io.Closer, or has
// hooks. It reports whether anything was registered.
func (d *Disposer) Track(v any, hooks ...func(any) error) bool {
	if v == nil {
		return false
	}
	_, isDisposable := v.(Disposable)
	_, isCloser := v.(io.Closer)
	if !isDisposable && !isCloser && len(hooks) == 0 {
		return false
	}
	d.items.Push(disposal{value: v, hooks: hooks})
	return true
}

// Len returns the number of tracked instances.
func (d *Disposer) Len() int { return d.items.Len() }

// Disposed reports whether Dispose has run.
func (d *Disposer) Disposed() bool { return d.disposed.Load() }

// Dispose cleans up every tracked instance, newest first, and returns all
// errors combined. Calling it again is a no-op.
func (d *Disposer) Dispose() error {
	if !d.disposed.CompareAndSwap(false, true) {
		return nil
	}

	var errs error
	for _, item := range d.items.Drain() {
		err := item.dispose()
		if err != nil && d.log != nil {
			d.log.Warn("dispose failed",
				zap.String("type", reflect.TypeOf(item.value).String()),
				zap.Error(err))
		}
		if d.observer != nil {
			d.observer.Disposed(reflect.TypeOf(item.value), err)
		}
		errs = multierr.Append(errs, err)
	}
	return errs
}

func (item disposal) dispose() error {
	var errs error
	for _, hook := range item.hooks {
		errs = multierr.Append(errs, hook(item.value))
	}
	switch v := item.value.(type) {
	case Disposable:
		errs = multierr.Append(errs, v.Dispose())
	case io.Closer:
		errs = multierr.Append(errs, v.Close())
	}
	return errs
}

// disposeTrackNode registers the produced instance with the current
// disposal scope.
type disposeTrackNode struct {
	inner node
	hooks []func(any) error
}

func (n *disposeTrackNode) Type() reflect.Type { return n.inner.Type() }

func (n *disposeTrackNode) compile() evalFunc {
	inner := n.inner.compile()
	hooks := n.hooks
	return func(f *frame) (reflect.Value, error) {
		v, err := inner(f)
		if err != nil || !v.IsValid() || isNil(v) {
			return v, err
		}
		if f.disposer != nil {
			f.disposer.Track(v.Interface(), hooks...)
		}
		return v, nil
	}
}

// trackable reports whether instances of t could ever need disposal, so
// plans for plain values skip the tracking node.
func trackable(t reflect.Type, hooks int) bool {
	if hooks > 0 || t.Kind() == reflect.Interface {
		return true
	}
	return t.Implements(disposableType) || t.Implements(closerType)
}

var (
	disposableType = reflect.TypeFor[Disposable]()
	closerType     = reflect.TypeFor[io.Closer]()
)
