// Package pipeline sequences one build run end to end.
//
// Ownership boundary:
// - step ordering, the dist directory, and artifact naming
// - workspace owns checkout state and the phase record
// - tools owns process execution; pipeline never calls os/exec
//
// A run is: synchronize checkouts, patch the firmware, install codec
// runtime dependencies, inject and commit the custom message, then the
// requested builds. Preparation steps are idempotent through the
// workspace record; build steps rerun every time they are requested.
package pipeline
