// Package template loads the visual markers a worker looks for and finds them
// in captured frames.
//
// A Catalog is built once at startup from a directory of PNG files; each file
// becomes a Spec named after its file stem ("button7.png" -> "button7"). A
// file that cannot be decoded still appears in the catalog, with no artifact,
// so that it is perpetually non-matching rather than silently absent.
//
// The Matcher runs zero-mean normalized cross-correlation (the CCOEFF_NORMED
// score) of a template against a frame and reports the centre of the best
// region when its score reaches the template's threshold. The search is
// coarse-to-fine over a 2x box-filtered pyramid:
//
//	level 2   exhaustive scan, keep the best few candidates
//	level 1   refine each candidate within +-2 px
//	level 0   refine again and score at full resolution
//
// Small templates are searched exhaustively at full resolution. Matching is
// deterministic: identical frame and template pixels always give identical
// results.
package template
