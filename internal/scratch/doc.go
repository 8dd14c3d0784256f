// Package scratch manages per-job temporary files in a directory shared by
// all concurrent jobs.
//
// A job acquires a Scope, asks it for paths, and releases it from a single
// deferred call:
//
//	scope, err := manager.Acquire(jobID)
//	if err != nil {
//	    return err
//	}
//	defer scope.Release()
//
//	in, _ := scope.NewPath(scratch.PurposeInput, ".mov")
//	out, _ := scope.NewPath(scratch.PurposeOutput, ".mp4")
//
// Every name embeds a UUID token unique to the scope, so jobs never collide
// and no locking is needed on the directory itself. Release is idempotent
// and tolerates paths that were never created.
//
// Sweep reclaims files orphaned by a hard crash. It skips scopes that are
// still active, so it is safe to run while jobs are in flight.
package scratch
