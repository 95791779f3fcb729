// Package plugin defines interception plugins and the matcher that decides
// which loaded code units they apply to.
//
// A Definition targets code units through a ClassMatch and declares where
// control is intercepted through three kinds of points: constructor,
// instance method and static method. Definitions are built once at
// discovery time and are immutable afterward; the Finder classifies them
// into read-only indices that are safe for unsynchronized concurrent reads.
//
// Interceptors are referenced by logical name, never directly. The name is
// resolved per isolation domain at enhancement time, which is what keeps
// interceptor instances from leaking across domains.
package plugin
