// Package rollback decides when the loop has gone wrong and restores the
// pre-loop state.
//
// Evaluate is a pure function of the iteration log and two edges. It runs
// four checks in a fixed order: consecutive invalid, severe regression,
// cumulative loss, champion destroyed. Any true check triggers; the
// recorded reason is the last true check, not the most severe one.
//
// Governor.Apply quarantines stats, log and tracked side files into
// rollback_archive/ and then, unless running archive_only, restores the
// champion and side files from the pre-loop snapshot.
package rollback
