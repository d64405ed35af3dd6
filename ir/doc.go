// Package ir defines the low-level intermediate representation that
// shader layers are lowered into, plus a small interpreter for running
// it.
//
// A Program holds one function per layer (and per parameter init
// block). Functions are lists of labeled basic blocks; instructions
// produce ValueIDs consumed by later instructions. Memory is modeled as
// typed cell buffers reached through pointer values, which is enough to
// express parameter storage, derivative channels and closure blocks.
//
// The interpreter exists so generated code can be executed directly:
// renderer services, shadeop externs and closure hooks are supplied as
// Go callbacks registered on a Machine.
package ir
