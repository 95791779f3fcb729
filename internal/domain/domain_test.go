package domain

import (
	"errors"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"
)

func TestNewAssignsIdentity(t *testing.T) {
	a := New()
	defer a.Close()
	b := New()
	defer b.Close()

	if a.ID() == "" {
		t.Fatal("domain ID is empty")
	}
	if a.ID() == b.ID() {
		t.Error("two domains share an ID")
	}
}

func TestNameFallsBackToID(t *testing.T) {
	d := New()
	defer d.Close()
	if d.Name() != d.ID() {
		t.Errorf("Name() = %q, want ID %q", d.Name(), d.ID())
	}

	named := New(WithName("app"))
	defer named.Close()
	if named.Name() != "app" {
		t.Errorf("Name() = %q, want app", named.Name())
	}
}

func TestDoStringAndGlobal(t *testing.T) {
	d := New()
	defer d.Close()

	if err := d.DoString(`answer = 42`); err != nil {
		t.Fatalf("DoString() error = %v", err)
	}
	if v := d.Global("answer"); v != lua.LNumber(42) {
		t.Errorf("Global(answer) = %v, want 42", v)
	}
}

func TestCall(t *testing.T) {
	d := New()
	defer d.Close()

	if err := d.DoString(`function add(a, b) return a + b end`); err != nil {
		t.Fatal(err)
	}

	results, err := d.Call(d.Global("add"), lua.LNumber(2), lua.LNumber(3))
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if len(results) != 1 || results[0] != lua.LNumber(5) {
		t.Errorf("Call() = %v, want [5]", results)
	}
}

func TestCallTimeoutStopsRunawayScript(t *testing.T) {
	d := New(WithCallTimeout(50 * time.Millisecond))
	defer d.Close()

	if err := d.DoString(`while true do end`); err == nil {
		t.Fatal("runaway script returned without error")
	}

	// The deadline covers one entry point only; the domain stays usable.
	if err := d.DoString(`answer = 7`); err != nil {
		t.Fatalf("DoString after timeout: %v", err)
	}
	if v := d.Global("answer"); v != lua.LNumber(7) {
		t.Errorf("Global(answer) = %v, want 7", v)
	}
}

func TestCallTimeoutZeroDisabled(t *testing.T) {
	d := New(WithCallTimeout(0))
	defer d.Close()

	// A bounded loop long enough to outlast any tiny implicit deadline.
	if err := d.DoString(`
		local n = 0
		for i = 1, 2000000 do n = n + 1 end
		total = n
	`); err != nil {
		t.Fatalf("DoString() error = %v", err)
	}
	if v := d.Global("total"); v != lua.LNumber(2000000) {
		t.Errorf("Global(total) = %v, want 2000000", v)
	}
}

func TestCallNonFunction(t *testing.T) {
	d := New()
	defer d.Close()

	_, err := d.Call(lua.LString("not callable"))
	if !errors.Is(err, ErrNotFunction) {
		t.Errorf("Call() error = %v, want ErrNotFunction", err)
	}
}

func TestClosedDomain(t *testing.T) {
	d := New()
	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	if err := d.DoString(`x = 1`); !errors.Is(err, ErrDomainClosed) {
		t.Errorf("DoString() error = %v, want ErrDomainClosed", err)
	}
	if _, err := d.Call(lua.LNil); !errors.Is(err, ErrDomainClosed) {
		t.Errorf("Call() error = %v, want ErrDomainClosed", err)
	}
	if !d.IsClosed() {
		t.Error("IsClosed() = false after Close")
	}
}

func TestCompileAndRunChunk(t *testing.T) {
	d := New()
	defer d.Close()

	chunk, err := CompileChunk("greeting", `return "hello"`)
	if err != nil {
		t.Fatalf("CompileChunk() error = %v", err)
	}

	v, err := d.RunChunk(chunk)
	if err != nil {
		t.Fatalf("RunChunk() error = %v", err)
	}
	if v != lua.LString("hello") {
		t.Errorf("RunChunk() = %v, want hello", v)
	}
}

func TestCompileChunkSyntaxError(t *testing.T) {
	if _, err := CompileChunk("bad", `return return`); err == nil {
		t.Error("CompileChunk() accepted invalid source")
	}
}

func TestRunNilChunk(t *testing.T) {
	d := New()
	defer d.Close()

	if _, err := d.RunChunk(nil); !errors.Is(err, ErrNilChunk) {
		t.Errorf("RunChunk(nil) error = %v, want ErrNilChunk", err)
	}
}

func TestPrivilegedSandboxStripsLoaders(t *testing.T) {
	d := New(WithPrivileged())
	defer d.Close()

	if !d.Privileged() {
		t.Fatal("Privileged() = false")
	}

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		if v := d.Global(name); v != lua.LNil {
			t.Errorf("privileged domain still exposes %s", name)
		}
	}
}

func TestOrdinaryDomainKeepsBaseLibraries(t *testing.T) {
	d := New()
	defer d.Close()

	if err := d.DoString(`s = string.upper("ok") .. tostring(math.floor(1.5))`); err != nil {
		t.Fatalf("base libraries unavailable: %v", err)
	}
	if v := d.Global("s"); v != lua.LString("OK1") {
		t.Errorf("s = %v, want OK1", v)
	}
}

func TestExtendedSeesDomainCode(t *testing.T) {
	d := New()
	defer d.Close()

	if err := d.DoString(`marker = "present"`); err != nil {
		t.Fatal(err)
	}

	ext := NewExtended(d)
	if ext.Domain() != d {
		t.Error("Extended.Domain() mismatch")
	}
	if v := ext.Global("marker"); v != lua.LString("present") {
		t.Errorf("Extended.Global(marker) = %v, want present", v)
	}
	if ext.NewTable() == nil {
		t.Error("Extended.NewTable() returned nil")
	}
}
