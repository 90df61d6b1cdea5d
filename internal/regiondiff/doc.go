// Package regiondiff checks that a candidate program changed only the
// mechanism it was asked to change.
//
// Every mechanism is resolved on both sides: the original with line-range
// fallback allowed, the candidate without. The target's normalized region
// must differ; any other mechanism whose candidate region resolved and whose
// text changed is an overlap violation unless the target lists it in
// allowed_overlap_with. Mechanisms whose anchors drifted on the candidate are
// left out of the overlap check and reported as warnings.
//
// In strict mode target_unchanged and overlap_violation make the result
// invalid. Lenient mode reports them as warnings and keeps Valid true, which
// tolerates drift such as helper extraction.
package regiondiff
