// Package policy decides what a worker does when a template matches.
//
// Behaviour is data, not branching: each template name maps to a Rule, and a
// name with no rule gets the zero Rule (click, no wait, no recheck). The
// default Table carries the reference markers:
//
//	lose      abort trigger
//	notupo    abort trigger, reported as "resource exhausted"
//	button10  click, then recheck for notupo
//	button7   wait 8-10s before clicking
//
// Deployments extend or override the table from the policy.rules section of
// the configuration.
//
// The package also owns the randomised parts of acting on a match: the polar
// tap offset (Jitter) and the uniform delay ranges (Range).
package policy
