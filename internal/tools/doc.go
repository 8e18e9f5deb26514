// Package tools owns external command execution shared by build modules.
//
// Ownership boundary:
// - invocation shape (binary, args, cwd, env overlay)
// - local process execution and exit-code mapping
package tools
