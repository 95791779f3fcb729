// Package domain provides isolation domains for code units.
//
// A Domain wraps one gopher-lua state. Lua values are not shareable across
// states, so a value loaded into one domain is invisible to every other
// domain; interceptor instances therefore have to be resolved per domain.
// Domains carry a stable identity used as part of interceptor cache keys.
//
// A privileged domain holds foundational runtime code. It is created with
// the sandbox installed: script-level code loading is stripped and plugin
// code cannot be resolved from inside it. The only way interception logic
// reaches a privileged domain is raw injection of compiled chunks by the
// host, before rewriting starts.
package domain
