package domain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lua "github.com/yuin/gopher-lua"
)

// Default limits for a domain.
const (
	// DefaultInstructionLimit is reserved: gopher-lua exposes no
	// instruction-counting hook, so the knob is carried but not enforced.
	DefaultInstructionLimit = 10_000_000

	// DefaultCallTimeout bounds each host entry point, enforced through
	// the state's context.
	DefaultCallTimeout = 5 * time.Second
)

// Domain is one isolation domain: a Lua state plus identity and limits.
//
// IMPORTANT: gopher-lua's LState is not goroutine-safe. The mutex in this
// struct serializes host-level entry points; code already executing inside
// the state (wrapper closures invoked by Lua) must use the raw LState it is
// handed and must not re-enter the Domain methods.
type Domain struct {
	mu sync.Mutex

	L *lua.LState

	id         string
	name       string
	privileged bool

	// Limits
	instructionLimit int64 // Reserved, see DefaultInstructionLimit
	callTimeout      time.Duration

	closed bool
}

// Option configures a Domain.
type Option func(*Domain)

// WithName sets a human-readable domain name for logging.
func WithName(name string) Option {
	return func(d *Domain) {
		d.name = name
	}
}

// WithPrivileged marks the domain as privileged and installs the sandbox.
func WithPrivileged() Option {
	return func(d *Domain) {
		d.privileged = true
	}
}

// WithInstructionLimit sets the reserved instruction limit.
func WithInstructionLimit(limit int64) Option {
	return func(d *Domain) {
		d.instructionLimit = limit
	}
}

// WithCallTimeout sets the timeout applied to every host entry point.
// Zero disables the timeout.
func WithCallTimeout(timeout time.Duration) Option {
	return func(d *Domain) {
		d.callTimeout = timeout
	}
}

// New creates a domain with a fresh Lua state.
func New(opts ...Option) *Domain {
	d := &Domain{
		id:               uuid.New().String(),
		instructionLimit: DefaultInstructionLimit,
		callTimeout:      DefaultCallTimeout,
	}

	for _, opt := range opts {
		opt(d)
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs: true, // Open selectively below
	})
	d.L = L

	openSafeLibraries(L)

	if d.privileged {
		installSandbox(L)
	}

	return d
}

// openSafeLibraries opens only safe Lua standard libraries.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// Note: io, os, debug and package are intentionally NOT opened.
}

// ID returns the stable domain identity.
func (d *Domain) ID() string {
	return d.id
}

// Name returns the human-readable domain name, or the ID when unset.
func (d *Domain) Name() string {
	if d.name == "" {
		return d.id
	}
	return d.name
}

// Privileged reports whether the domain is privileged.
func (d *Domain) Privileged() bool {
	return d.privileged
}

// CallTimeout returns the timeout applied to host entry points.
func (d *Domain) CallTimeout() time.Duration {
	return d.callTimeout
}

// armTimeout places a deadline context on the state for the duration of
// one entry point. Caller holds d.mu. The Lua VM polls the context
// between instructions, so a runaway script errors out instead of
// hanging the host. Wrapper closures running inside the entry point
// share the same deadline.
func (d *Domain) armTimeout() func() {
	if d.callTimeout <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.callTimeout)
	d.L.SetContext(ctx)
	return func() {
		d.L.RemoveContext()
		cancel()
	}
}

// LuaState returns the underlying state.
//
// WARNING: Direct access bypasses the mutex. The caller is responsible for
// ensuring no concurrent domain entry points run.
func (d *Domain) LuaState() *lua.LState {
	return d.L
}

// DoString executes Lua source in the domain.
func (d *Domain) DoString(code string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDomainClosed
	}
	defer d.armTimeout()()

	return withRecovery(func() error {
		return d.L.DoString(code)
	})
}

// Global returns a global value.
func (d *Domain) Global(name string) lua.LValue {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return lua.LNil
	}
	return d.L.GetGlobal(name)
}

// SetGlobal sets a global value.
func (d *Domain) SetGlobal(name string, value lua.LValue) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.L.SetGlobal(name, value)
}

// Call invokes a callable value with the given arguments and returns all
// results. Panics inside the state are converted to errors.
func (d *Domain) Call(fn lua.LValue, args ...lua.LValue) ([]lua.LValue, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrDomainClosed
	}
	defer d.armTimeout()()

	return Invoke(d.L, fn, args...)
}

// RunChunk executes a compiled chunk in the domain and returns its first
// result, or LNil when the chunk returns nothing.
func (d *Domain) RunChunk(c *Chunk) (lua.LValue, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return lua.LNil, ErrDomainClosed
	}
	if c == nil || c.Proto == nil {
		return lua.LNil, ErrNilChunk
	}
	defer d.armTimeout()()

	fn := d.L.NewFunctionFromProto(c.Proto)
	results, err := Invoke(d.L, fn)
	if err != nil {
		return lua.LNil, fmt.Errorf("running chunk %s: %w", c.Name, err)
	}
	if len(results) == 0 {
		return lua.LNil, nil
	}
	return results[0], nil
}

// IsClosed returns true if the domain has been closed.
func (d *Domain) IsClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Close releases the Lua state. After Close all other methods fail.
func (d *Domain) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.L.Close()
	d.closed = true
	return nil
}

// Invoke calls fn on an already-entered state. It exists for wrapper
// closures that execute inside the state and must not take the domain
// mutex. Returns all results; recovers panics into errors.
func Invoke(L *lua.LState, fn lua.LValue, args ...lua.LValue) (results []lua.LValue, err error) {
	if fn == lua.LNil {
		return nil, ErrNotFunction
	}
	switch fn.Type() {
	case lua.LTFunction:
	default:
		return nil, fmt.Errorf("%w (got %s)", ErrNotFunction, fn.Type())
	}

	stackTop := L.GetTop()

	L.Push(fn)
	for _, arg := range args {
		L.Push(arg)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	if err := L.PCall(len(args), lua.MultRet, nil); err != nil {
		return nil, err
	}

	nRet := L.GetTop() - stackTop
	if nRet <= 0 {
		return []lua.LValue{}, nil
	}
	results = make([]lua.LValue, nRet)
	for i := 0; i < nRet; i++ {
		results[i] = L.Get(stackTop + i + 1)
	}
	L.Pop(nRet)

	return results, nil
}

// withRecovery executes a function with panic recovery.
func withRecovery(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}
