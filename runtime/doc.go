// Package runtime supplies everything generated shader code calls back
// into: the extern library (math, printf, dictionary lookups, closure
// allocation, range checks), the closure registry, texture and trace
// option blocks, the renderer services interface, and the shader
// globals layout.
//
// Externs are installed onto an ir.Machine by an Externs value, which
// also accumulates the errors and warnings shaders raise while running.
package runtime
