// Package codegen lowers a specialized shader group into ir functions,
// one per layer plus a group entry point.
//
// Layer functions take two pointers: the shader globals buffer and the
// group data buffer. Group data starts with one run flag cell per layer,
// followed by the parameter slots of every unmerged layer; connected
// params are satisfied by running the upstream layer on demand and
// copying its output slot. Derivative-carrying symbols store three
// planes (value, d/dx, d/dy) and the arithmetic generators apply the
// usual dual-number rules; everything without a deriv rule zeroes the
// result's derivative planes.
//
// Operations without a dedicated generator fall back to a call into the
// extern library, with the callee name derived from the operation name
// and the argument types.
package codegen
