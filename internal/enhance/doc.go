// Package enhance rewrites code units by weaving interceptor calls around
// matched operations.
//
// Rewriting is in place on the unit's class table: matched methods are
// replaced with wrapper closures that route control through the named
// interceptor before and after the original body. Static method points are
// applied first; constructor and instance method points additionally extend
// instances with one hidden auxiliary-state slot, added exactly once per
// unit no matter how many plugins enhance it.
//
// Interceptors are resolved at wrap time. Ordinary targets go through the
// Loader, which caches one instance per (interceptor name, domain).
// Privileged targets resolve the injected <name>_internal delegate straight
// from the privileged domain's globals.
package enhance
