// Package main runs a small demonstration host: it loads a Lua script,
// describes its classes, lets the engine rewrite them with an example
// tracing plugin, and executes the script.
package main

import (
	"flag"
	"fmt"
	"os"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/luaweave/internal/domain"
	"github.com/dshills/luaweave/internal/engine"
	"github.com/dshills/luaweave/internal/enhance"
	"github.com/dshills/luaweave/internal/logging"
	"github.com/dshills/luaweave/internal/plugin"
	"github.com/dshills/luaweave/internal/unit"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

type options struct {
	configPath string
	logLevel   string
	script     string
}

func run() int {
	opts := parseFlags()

	log := logging.New(logging.Config{
		Level:  logging.ParseLevel(opts.logLevel),
		Output: os.Stderr,
		Prefix: "luaweave",
	})

	registry := plugin.NewRegistry()
	tracer := &traceInterceptor{log: log.WithComponent("trace")}
	if err := registry.Register("trace", func(ext *domain.Extended) (any, error) {
		return tracer, nil
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: register interceptor: %v\n", err)
		return 1
	}

	engineOpts := []engine.Option{engine.WithLogger(log)}
	if opts.configPath != "" {
		engineOpts = append(engineOpts, engine.WithConfigFile(opts.configPath))
	}

	eng, err := engine.New(registry, exampleDefinitions(), engineOpts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		return 1
	}

	host := newDemoHost(eng)
	defer host.Close()

	if err := eng.Install(host); err != nil {
		fmt.Fprintf(os.Stderr, "Error: install engine: %v\n", err)
		return 1
	}
	if err := eng.Boot(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: boot engine: %v\n", err)
		return 1
	}
	defer eng.Shutdown()

	if err := host.RunScript(opts.script); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// exampleDefinitions targets every class whose name starts with "App";
// the shape a real instrumentation bundle takes.
func exampleDefinitions() []*plugin.Definition {
	return []*plugin.Definition{{
		Name:        "app-tracer",
		TargetMatch: plugin.ByPrefix("App"),
		ConstructorPoints: []plugin.ConstructorPoint{
			{Matcher: plugin.AnyMethod{}, Interceptor: "trace"},
		},
		InstanceMethodPoints: []plugin.InstanceMethodPoint{
			{Matcher: plugin.AnyMethod{}, Interceptor: "trace", DeclaredOnly: true},
		},
		StaticMethodPoints: []plugin.StaticMethodPoint{
			{Matcher: plugin.AnyMethod{}, Interceptor: "trace"},
		},
	}}
}

// traceInterceptor logs every intercepted call and tags instances with
// a correlation marker through the dynamic field.
type traceInterceptor struct {
	log   *logging.Logger
	spans int
}

func (ti *traceInterceptor) Before(inv *enhance.Invocation, result *enhance.Result) error {
	ti.spans++
	if inv.Target != nil {
		enhance.SetDynamicField(inv.Target, lua.LNumber(ti.spans))
	}
	ti.log.Info("-> %s.%s", inv.UnitName, inv.Method)
	return nil
}

func (ti *traceInterceptor) After(inv *enhance.Invocation, ret lua.LValue) (lua.LValue, error) {
	ti.log.Info("<- %s.%s = %s", inv.UnitName, inv.Method, ret.String())
	return ret, nil
}

func (ti *traceInterceptor) OnException(inv *enhance.Invocation, err error) {
	ti.log.Warn("!! %s.%s: %v", inv.UnitName, inv.Method, err)
}

func (ti *traceInterceptor) OnConstruct(L *lua.LState, instance *lua.LTable, args []lua.LValue) error {
	ti.spans++
	enhance.SetDynamicField(instance, lua.LNumber(ti.spans))
	ti.log.Info("++ constructed instance, %d args", len(args))
	return nil
}

func parseFlags() options {
	var opts options
	var showVersion bool

	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.configPath, "c", "", "Path to configuration file (shorthand)")
	flag.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "luaweave - dynamic instrumentation demo host\n\n")
		fmt.Fprintf(os.Stderr, "Usage: luaweave [options] [script.lua]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nWithout a script the built-in demo program runs.\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("luaweave %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		os.Exit(0)
	}

	switch opts.logLevel {
	case "debug", "info", "warn", "error":
	default:
		fmt.Fprintf(os.Stderr, "Error: invalid log level %q (must be debug, info, warn, or error)\n", opts.logLevel)
		os.Exit(1)
	}

	if args := flag.Args(); len(args) > 0 {
		opts.script = args[0]
	}
	return opts
}

// demoScript runs when no script file is given. Scripts define their
// classes at the top level and put their program into main(), which the
// host calls once the classes are rewritten.
const demoScript = `
AppCounter = {}
AppCounter.__index = AppCounter

function AppCounter.new(start)
	local self = setmetatable({}, AppCounter)
	self.count = start
	return self
end

function AppCounter.bump(self, by)
	self.count = self.count + by
	return self.count
end

function AppCounter.describe()
	return "a demo counter"
end

function main()
	local c = AppCounter.new(10)
	c:bump(5)
	c:bump(27)
	print("final count: " .. tostring(c:bump(0)))
	print("marker: " .. tostring(c:getDynamicField()))
	print(AppCounter.describe())
end
`

// demoHost is a minimal embedding runtime: one application domain, one
// privileged domain, classes admitted through the engine.
type demoHost struct {
	eng  *engine.Engine
	app  *domain.Domain
	priv *domain.Domain
}

func newDemoHost(eng *engine.Engine) *demoHost {
	return &demoHost{
		eng:  eng,
		app:  eng.NewDomain("app"),
		priv: eng.NewPrivilegedDomain(),
	}
}

func (h *demoHost) PrivilegedDomain() *domain.Domain {
	return h.priv
}

// RunScript loads the script's definitions into the application domain,
// admits every global class table through the engine, then calls the
// script's main function. A production host would hook its module
// loader instead of scanning globals.
func (h *demoHost) RunScript(path string) error {
	src := demoScript
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read script: %w", err)
		}
		src = string(data)
	}

	if err := h.app.DoString(src); err != nil {
		return fmt.Errorf("load script: %w", err)
	}

	for _, desc := range describeGlobals(h.app) {
		if !h.eng.Match(desc) {
			continue
		}
		class, ok := h.app.Global(desc.Name).(*lua.LTable)
		if !ok {
			continue
		}
		if _, err := h.eng.OnUnitLoad(desc, class, h.app); err != nil {
			return fmt.Errorf("rewrite %s: %w", desc.Name, err)
		}
	}

	if entry := h.app.Global("main"); entry != lua.LNil {
		if _, err := h.app.Call(entry); err != nil {
			return fmt.Errorf("run main: %w", err)
		}
	}
	return nil
}

func (h *demoHost) Close() {
	h.app.Close()
	h.priv.Close()
}

// describeGlobals builds descriptors for every global table that looks
// like a class: functions keyed by name, constructors recognized by the
// conventional "new" prefix.
func describeGlobals(dom *domain.Domain) []*unit.Descriptor {
	var descs []*unit.Descriptor

	globals := dom.LuaState().G.Global
	globals.ForEach(func(k, v lua.LValue) {
		name, ok := k.(lua.LString)
		if !ok {
			return
		}
		tbl, ok := v.(*lua.LTable)
		if !ok {
			return
		}
		desc := describeClass(string(name), tbl)
		if len(desc.Methods) > 0 {
			descs = append(descs, desc)
		}
	})
	return descs
}

func describeClass(name string, tbl *lua.LTable) *unit.Descriptor {
	desc := &unit.Descriptor{Name: name}
	tbl.ForEach(func(k, v lua.LValue) {
		mname, ok := k.(lua.LString)
		if !ok {
			return
		}
		fn, ok := v.(*lua.LFunction)
		if !ok {
			return
		}
		m := unit.Method{Name: string(mname), Declared: true}
		switch {
		case string(mname) == "new":
			m.Constructor = true
		case !takesSelf(fn):
			m.Static = true
		}
		desc.Methods = append(desc.Methods, m)
	})
	return desc
}

// takesSelf reports whether a Lua function's first parameter is the
// conventional receiver. Colon-defined methods get it implicitly.
func takesSelf(fn *lua.LFunction) bool {
	if fn.Proto == nil || fn.Proto.NumParameters == 0 || len(fn.Proto.DbgLocals) == 0 {
		return false
	}
	return fn.Proto.DbgLocals[0].Name == "self"
}
