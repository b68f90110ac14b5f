package dispatch

import (
	"sync"
	"sync/atomic"

	"github.com/hyp3rd/ewrap"
)

// ErrAlreadyInstalled is returned by Install when a process-wide dispatcher is in place.
var ErrAlreadyInstalled = ewrap.New("a global dispatcher is already installed").
	WithContext(&ewrap.ErrorContext{
		Severity: ewrap.SeverityError,
		Type:     ewrap.ErrorTypeConfiguration,
	})

var (
	installMu sync.Mutex
	installed atomic.Pointer[Dispatcher]
	fallback  = New(nil)
)

// Guard undoes an Install.
type Guard struct {
	d    *Dispatcher
	once sync.Once
}

// Install makes d the process-wide dispatcher returned by Current.
func Install(d *Dispatcher) (*Guard, error) {
	if d == nil {
		return nil, ewrap.New("nil dispatcher")
	}

	installMu.Lock()
	defer installMu.Unlock()

	if installed.Load() != nil {
		return nil, ErrAlreadyInstalled
	}

	installed.Store(d)

	return &Guard{d: d}, nil
}

// Release uninstalls the dispatcher if it is still the installed one. It is safe to call
// more than once.
func (g *Guard) Release() {
	if g == nil {
		return
	}

	g.once.Do(func() {
		installMu.Lock()
		defer installMu.Unlock()

		installed.CompareAndSwap(g.d, nil)
	})
}

// Dispatcher returns the dispatcher the guard installed.
func (g *Guard) Dispatcher() *Dispatcher {
	return g.d
}

// Current returns the installed dispatcher, or one that discards everything.
func Current() *Dispatcher {
	if d := installed.Load(); d != nil {
		return d
	}

	return fallback
}
