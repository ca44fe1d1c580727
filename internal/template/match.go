package template

import (
	"image"
	"sort"
)

// Match is the location of a template found in a frame.
type Match struct {
	Template   string  `json:"template"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Confidence float64 `json:"confidence"`
}

// Logger defines the logging interface for the matcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Frame is a captured screen prepared for matching. Pyramid levels are built
// on first use and reused for every template matched against the frame.
//
// A Frame is not safe for concurrent use; each worker owns its frames.
type Frame struct {
	planes    []*plane
	integrals []*integral
}

// NewFrame converts img for matching. A nil img yields a nil Frame.
func NewFrame(img image.Image) *Frame {
	if img == nil {
		return nil
	}
	return &Frame{planes: []*plane{toPlane(img)}}
}

// Size returns the frame dimensions.
func (f *Frame) Size() (int, int) {
	return f.planes[0].w, f.planes[0].h
}

// level returns the plane and integral table at pyramid level n.
func (f *Frame) level(n int) (*plane, *integral) {
	for len(f.planes) <= n {
		f.planes = append(f.planes, f.planes[len(f.planes)-1].half())
	}
	for len(f.integrals) <= n {
		f.integrals = append(f.integrals, newIntegral(f.planes[len(f.integrals)]))
	}
	return f.planes[n], f.integrals[n]
}

// Matcher finds templates in frames.
type Matcher struct {
	logger     Logger
	candidates int
	radius     int
}

// NewMatcher creates a matcher with the default search parameters.
func NewMatcher() *Matcher {
	return &Matcher{
		logger:     noopLogger{},
		candidates: 5,
		radius:     2,
	}
}

// SetLogger sets the logger for the matcher.
func (m *Matcher) SetLogger(logger Logger) {
	m.logger = logger
}

// Match searches frame for spec.
//
// Returns:
//   - Match: Centre of the best region and its score
//   - bool: false if the best score is below spec.Threshold, the frame is
//     nil, the template has no artifact or the template is larger than the frame
func (m *Matcher) Match(frame *Frame, spec Spec) (Match, bool) {
	if frame == nil {
		m.logger.Warn("match skipped: no frame", "template", spec.Name)
		return Match{}, false
	}
	if !spec.Ready() {
		m.logger.Warn("match skipped: template unavailable", "template", spec.Name, "error", spec.err)
		return Match{}, false
	}

	fw, fh := frame.Size()
	tw, th := spec.Size()
	if tw > fw || th > fh {
		m.logger.Debug("match skipped: template larger than frame",
			"template", spec.Name, "template_size", [2]int{tw, th}, "frame_size", [2]int{fw, fh})
		return Match{}, false
	}

	x, y, s := m.search(frame, spec)
	if s < spec.Threshold {
		return Match{}, false
	}

	return Match{
		Template:   spec.Name,
		X:          x + tw/2,
		Y:          y + th/2,
		Confidence: s,
	}, true
}

// MatchImage is Match for a single image.
func (m *Matcher) MatchImage(img image.Image, spec Spec) (Match, bool) {
	return m.Match(NewFrame(img), spec)
}

type candidate struct {
	x, y  int
	score float64
}

// search returns the top-left corner and score of the best region.
//
// Large templates are located coarse-to-fine on the pyramid. Downsampling
// can erase fine detail, so a pyramid result below the threshold is
// confirmed by scoring every full-resolution position.
func (m *Matcher) search(frame *Frame, spec Spec) (int, int, float64) {
	fw, fh := frame.Size()
	top := 0
	for top+1 < len(spec.levels) {
		k := spec.levels[top+1]
		if k.w > fw>>(top+1) || k.h > fh>>(top+1) {
			break
		}
		top++
	}

	p, ii := frame.level(top)
	cands := m.scan(p, ii, spec.levels[top])

	best := candidate{score: -2}
	for _, c := range cands {
		for lvl := top - 1; lvl >= 0; lvl-- {
			c = m.refine(frame, spec.levels[lvl], lvl, c.x*2, c.y*2)
		}
		if c.score > best.score || (c.score == best.score && (c.y < best.y || (c.y == best.y && c.x < best.x))) {
			best = c
		}
	}

	if top > 0 && best.score < spec.Threshold {
		p, ii := frame.level(0)
		full := exhaustive(p, ii, spec.levels[0])
		m.logger.Debug("pyramid search below threshold, rescanned full resolution",
			"template", spec.Name, "pyramid_score", best.score, "score", full.score)
		best = full
	}
	return best.x, best.y, best.score
}

// exhaustive scores every position of k in p. Ties keep the first
// position in row-major order.
func exhaustive(p *plane, ii *integral, k *kernel) candidate {
	best := candidate{score: -2}
	for y := 0; y+k.h <= p.h; y++ {
		for x := 0; x+k.w <= p.w; x++ {
			if s := score(p, ii, k, x, y); s > best.score {
				best = candidate{x: x, y: y, score: s}
			}
		}
	}
	return best
}

// scan scores every position and keeps the best few, at least radius apart.
func (m *Matcher) scan(p *plane, ii *integral, k *kernel) []candidate {
	var all []candidate
	for y := 0; y+k.h <= p.h; y++ {
		for x := 0; x+k.w <= p.w; x++ {
			all = append(all, candidate{x: x, y: y, score: score(p, ii, k, x, y)})
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].score > all[j].score })

	var kept []candidate
	for _, c := range all {
		if len(kept) == m.candidates {
			break
		}
		near := false
		for _, k := range kept {
			if abs(k.x-c.x) <= m.radius && abs(k.y-c.y) <= m.radius {
				near = true
				break
			}
		}
		if !near {
			kept = append(kept, c)
		}
	}
	return kept
}

// refine searches a (2*radius+1)^2 neighbourhood of (cx, cy) at level lvl.
func (m *Matcher) refine(frame *Frame, k *kernel, lvl, cx, cy int) candidate {
	p, ii := frame.level(lvl)
	best := candidate{score: -2}
	for y := cy - m.radius; y <= cy+m.radius; y++ {
		if y < 0 || y+k.h > p.h {
			continue
		}
		for x := cx - m.radius; x <= cx+m.radius; x++ {
			if x < 0 || x+k.w > p.w {
				continue
			}
			if s := score(p, ii, k, x, y); s > best.score {
				best = candidate{x: x, y: y, score: s}
			}
		}
	}
	return best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
