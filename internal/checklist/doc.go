// Package checklist loads the immutable requirement definitions a session
// validates evidence against.
package checklist
