// Package differ compares a desired resource record with its observed
// cluster object and decides the next convergence step.
//
// The decision table, in order:
//
//	observation unknown         -> no action
//	deleting, object present    -> delete
//	deleting, object absent     -> no action (record can be removed)
//	object absent               -> create
//	controlled field differs    -> update
//	otherwise                   -> no action (converged)
//
// Only the controlled fields of each kind are compared. Quantities compare
// by value, so "4Gi" matches "4096Mi", booleans by parsed value, and an
// option missing on either side compares as its kind default.
package differ
