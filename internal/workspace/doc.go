// Package workspace owns the versioned build workspace and its phase
// record.
//
// Ownership boundary:
// - layout resolution (which paths a firmware version implies)
// - checkout synchronization policy (pinned vs tracking)
// - the persisted phase record and its legal transitions
// - one-time actions guarded by the record (patches, message injection)
//
// Lifecycle order:
// - uninitialized -> synchronized -> patched -> injected -> ready
//
// - conflicted is terminal for a workspace generation; the next run
//   destroys the workspace and rebuilds it from scratch.
//
// The workspace root is the unit of destruction. Checkouts and the
// phase record live and die together, never one alone.
package workspace
