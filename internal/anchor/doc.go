// Package anchor maps a mechanism's anchor rules to line spans in source text.
//
// Anchors are text patterns rather than line numbers, so a mechanism's region
// survives edits elsewhere in the file. Each rule names a start pattern, an
// optional end pattern, 1-based occurrence indexes for both and padding lines.
//
// Resolution is pure: identical (source, mechanism) inputs always yield
// identical spans, and every span lies within the document's line bounds.
//
// Status values:
//
//	anchors            at least one anchor rule resolved
//	anchor_unresolved  anchors were specified and none resolved (drift)
//	line_ranges        the legacy code_location range string was used
//	unresolved         neither anchors nor a usable range
//
// Fallback to code_location is allowed on the original side of a comparison
// only. Candidate-side resolution passes allowFallback=false so drift on the
// candidate is reported instead of hidden behind a stale line range.
package anchor
