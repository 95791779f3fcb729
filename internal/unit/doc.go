// Package unit describes loadable code units.
//
// A code unit is a Lua class: a table holding methods and constructor
// functions, loaded into an isolation domain by the host. The host builds a
// Descriptor for each unit it is about to install and offers it to the
// engine's admission hook before the class becomes reachable by application
// code. Descriptors are metadata only; the class value itself stays inside
// its domain.
package unit
