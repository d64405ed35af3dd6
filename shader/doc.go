// Package shader models a shading network: immutable master programs,
// parameter-bound instances, the connections that wire instances into a
// group, and the structural-equivalence test used to merge redundant
// instances.
//
// A Master is the shared, never-mutated template produced by the shading
// language compiler: symbol table, default value pools, and opcode stream.
// Instances reference a Master, record per-parameter overrides, and only
// receive a private copy of the symbol table and code when the group is
// specialized for code generation. Groups own an ordered list of instances
// ("layers") and the serialization of their override/connection state.
package shader
