package policy

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/nerrad567/graytap-core/internal/infrastructure/config"
)

// Range is an inclusive duration range sampled uniformly.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// Pick returns a uniformly random duration in [Min, Max].
func (r Range) Pick(rng *rand.Rand) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + time.Duration(rng.Int63n(int64(r.Max-r.Min)+1))
}

// String formats the range for log messages.
func (r Range) String() string {
	return fmt.Sprintf("%.1f-%.1fs", r.Min.Seconds(), r.Max.Seconds())
}

// Rule is the behaviour attached to one template name.
type Rule struct {
	// Template is the name the rule applies to.
	Template string

	// Abort marks a detection that pauses the session instead of clicking.
	Abort bool

	// Reason is the warning text emitted on abort. Defaults to Template.
	Reason string

	// Cooldown is an extra minimum time since the device's last click before
	// this template may be clicked. The global click cooldown applies first.
	Cooldown time.Duration

	// PreClickWait, when set, is slept before the tap is dispatched.
	PreClickWait *Range

	// Recheck names a template tested on a fresh capture after the click;
	// a hit pauses the session like an abort trigger.
	Recheck string
}

// AbortReason returns the text to report when the rule aborts.
func (r Rule) AbortReason() string {
	if r.Reason != "" {
		return r.Reason
	}
	return r.Template
}

// Table maps template names to rules.
//
// A Table is built at startup and read-only afterwards; it may be shared by
// every worker.
type Table struct {
	rules map[string]Rule
}

// NewTable builds a table from rules. A later rule for the same template
// replaces an earlier one.
func NewTable(rules ...Rule) *Table {
	t := &Table{rules: make(map[string]Rule, len(rules))}
	for _, r := range rules {
		t.rules[r.Template] = r
	}
	return t
}

// DefaultTable returns the reference marker behaviour.
func DefaultTable() *Table {
	return NewTable(
		Rule{Template: "lose", Abort: true, Reason: "lose"},
		Rule{Template: "notupo", Abort: true, Reason: "resource exhausted"},
		Rule{Template: "button10", Recheck: "notupo"},
		Rule{Template: "button7", PreClickWait: &Range{Min: 8 * time.Second, Max: 10 * time.Second}},
	)
}

// WithOverrides returns a copy of t with rules from configuration applied.
// An override replaces the whole rule for its template.
func (t *Table) WithOverrides(overrides []config.RuleConfig) *Table {
	out := NewTable()
	for k, v := range t.rules {
		out.rules[k] = v
	}
	for _, o := range overrides {
		r := Rule{
			Template: o.Template,
			Abort:    o.Abort,
			Reason:   o.Reason,
			Recheck:  o.Recheck,
			Cooldown: config.Millis(o.CooldownMS),
		}
		if w := o.PreClickWaitMS; w != nil {
			r.PreClickWait = &Range{
				Min: config.Millis(w.Min),
				Max: config.Millis(w.Max),
			}
		}
		out.rules[o.Template] = r
	}
	return out
}

// Lookup returns the rule for name, or the default rule if none is registered.
func (t *Table) Lookup(name string) Rule {
	if r, ok := t.rules[name]; ok {
		return r
	}
	return Rule{Template: name}
}

// IsAbort reports whether name is an abort trigger.
func (t *Table) IsAbort(name string) bool {
	return t.rules[name].Abort
}

// Partition splits names into abort triggers and action templates, keeping
// the given order within each group.
func (t *Table) Partition(names []string) (aborts, actions []string) {
	for _, n := range names {
		if t.IsAbort(n) {
			aborts = append(aborts, n)
		} else {
			actions = append(actions, n)
		}
	}
	return aborts, actions
}

// AbortTemplates returns the abort triggers among names, in order.
func (t *Table) AbortTemplates(names []string) []string {
	aborts, _ := t.Partition(names)
	return aborts
}

// ActionTemplates returns the clickable templates among names, in order.
func (t *Table) ActionTemplates(names []string) []string {
	_, actions := t.Partition(names)
	return actions
}

// Check reports rules that reference templates missing from known, such as
// a recheck target with no image. The result is sorted for stable logs.
func (t *Table) Check(known []string) []string {
	have := make(map[string]bool, len(known))
	for _, k := range known {
		have[k] = true
	}

	var problems []string
	for name, r := range t.rules {
		if r.Recheck != "" && !have[r.Recheck] {
			problems = append(problems, fmt.Sprintf("rule %q rechecks unknown template %q", name, r.Recheck))
		}
		if !have[name] {
			problems = append(problems, fmt.Sprintf("rule %q has no template image", name))
		}
	}
	sort.Strings(problems)
	return problems
}

// Jitter offsets taps by a random planar vector whose length lies in [Min, Max].
type Jitter struct {
	Min float64
	Max float64
}

// maxJitterAttempts bounds resampling when rounding pushes a vector out of range.
const maxJitterAttempts = 8

// Apply returns (x, y) displaced by a random offset: magnitude uniform in
// [Min, Max], direction uniform in [0, 2π). The integer result lies within
// [Min, Max] of the original point whenever the range holds a whole-pixel
// distance (ceil(Min) <= Max), which config validation enforces.
func (j Jitter) Apply(rng *rand.Rand, x, y int) (int, int) {
	for i := 0; i < maxJitterAttempts; i++ {
		mag := j.Min + rng.Float64()*(j.Max-j.Min)
		angle := rng.Float64() * 2 * math.Pi
		dx := int(math.Round(mag * math.Cos(angle)))
		dy := int(math.Round(mag * math.Sin(angle)))
		if d := math.Hypot(float64(dx), float64(dy)); d >= j.Min && d <= j.Max {
			return x + dx, y + dy
		}
	}
	// Axis-aligned fallback with an integral length inside the range.
	dx := int(math.Ceil(j.Min))
	if float64(dx) > j.Max {
		dx = int(math.Floor(j.Max))
	}
	return x + dx, y
}
