// Package dict implements the XML dictionary lookup facility exposed to
// shaders: parse a document once, query nodes with path expressions, and
// walk or read the results through small integer handles.
//
// Handle 0 always means "not found". Documents and queries are memoized
// per Dictionary, so a shader evaluating the same lookup for every
// shading point pays for the parse and the search once.
package dict
