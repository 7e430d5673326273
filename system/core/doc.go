// Package engine implements the in-process control plane core: the ordered
// event bus, the fail-closed invariant engine, and the plugin loader that
// drives dependency-ordered lifecycle transitions.
//
// The loader owns exactly one Bus and one InvariantEngine per instance and
// injects both into every plugin through a PluginContext. Plugins never reach
// into the core except through that context.
package engine
