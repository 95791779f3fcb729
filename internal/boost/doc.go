// Package boost injects interception delegates into the privileged
// domain.
//
// The privileged domain is sandboxed: it has no code loaders, so nothing
// defined by ordinary plugin code is reachable from it. Plugins that
// target units living there instead get a generated delegate, compiled
// from an embedded template with the interceptor name bound in, injected
// as a global named after the interceptor with an "_internal" suffix.
// The delegates call back into real Go interceptors through a dispatch
// bridge bound by the host, bypassing per-domain interceptor caching
// entirely.
package boost
