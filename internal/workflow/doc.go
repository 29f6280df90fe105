// Package workflow drives a session through the review stage machine:
// document registration, checkpointed bounded-parallel evidence extraction,
// validation with conflict detection, report artifact generation, and
// review completion gated on conflict resolution.
package workflow
