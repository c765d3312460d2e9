package stealth

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Mouse moves the pointer along eased Bézier curves with a little jitter
// and the occasional overshoot, instead of teleporting onto targets.
type Mouse struct {
	// BaseSpeed is the duration of a short move; longer moves scale it.
	BaseSpeed time.Duration
	// 8-15 steps look human, many more look scripted.
	MinSteps int
	MaxSteps int
	// OvershootChance is the probability of passing the target and
	// correcting back; OvershootDistance is the max overshoot as a fraction
	// of the move length.
	OvershootChance   float64
	OvershootDistance float64
	// CurveVariance bends the path: 0 is a straight line.
	CurveVariance float64
	// Jitter is the max sideways wobble per step in pixels.
	Jitter float64
}

func DefaultMouse() Mouse {
	return Mouse{
		BaseSpeed:         150 * time.Millisecond,
		MinSteps:          8,
		MaxSteps:          14,
		OvershootChance:   0.15,
		OvershootDistance: 0.08,
		CurveVariance:     0.25,
		Jitter:            1.5,
	}
}

// Path returns the points a move from from to to passes through. The last
// point is always to.
func (m Mouse) Path(from, to proto.Point) []proto.Point {
	distance := math.Hypot(to.X-from.X, to.Y-from.Y)
	if distance < 5 {
		return []proto.Point{to}
	}

	steps := m.MinSteps + int(distance/100)
	if steps > m.MaxSteps {
		steps = m.MaxSteps
	}
	if steps < 1 {
		steps = 1
	}

	c1, c2 := controlPoints(from, to, m.CurveVariance)
	path := make([]proto.Point, 0, steps+4)
	for i := 1; i <= steps; i++ {
		p := cubicBezier(from, c1, c2, to, easeInOutQuad(float64(i)/float64(steps)))
		if i < steps {
			p.X += (rand.Float64() - 0.5) * m.Jitter
			p.Y += (rand.Float64() - 0.5) * m.Jitter
		}
		path = append(path, p)
	}

	if rand.Float64() < m.OvershootChance {
		over := distance * m.OvershootDistance * (0.5 + rand.Float64()*0.5)
		angle := rand.Float64() * 2 * math.Pi
		past := proto.Point{X: to.X + math.Cos(angle)*over, Y: to.Y + math.Sin(angle)*over}
		path = append(path, past)
		corrections := 2 + rand.Intn(2)
		for i := 1; i <= corrections; i++ {
			t := float64(i) / float64(corrections)
			path = append(path, proto.Point{
				X: past.X + (to.X-past.X)*t,
				Y: past.Y + (to.Y-past.Y)*t,
			})
		}
	}
	return path
}

// stepDelay spreads a move of the given length over its steps.
func (m Mouse) stepDelay(distance float64, steps int) time.Duration {
	total := time.Duration(float64(m.BaseSpeed) * (0.8 + distance/500))
	d := total/time.Duration(steps) + time.Duration(rand.Intn(10)-5)*time.Millisecond
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

// Move walks page's pointer to to.
func (m Mouse) Move(ctx context.Context, page *rod.Page, to proto.Point) error {
	from := page.Mouse.Position()
	if from.X == 0 && from.Y == 0 {
		start, err := viewportPoint(page)
		if err != nil {
			return err
		}
		if err := page.Mouse.MoveTo(start); err != nil {
			return err
		}
		from = start
	}

	path := m.Path(from, to)
	delay := m.stepDelay(math.Hypot(to.X-from.X, to.Y-from.Y), len(path))
	for _, p := range path {
		if err := page.Mouse.MoveTo(p); err != nil {
			return err
		}
		if err := Sleep(ctx, delay); err != nil {
			return err
		}
	}
	return nil
}

// Click moves to a random point near el's centre and clicks it. Elements
// without a box are clicked directly.
func (m Mouse) Click(ctx context.Context, page *rod.Page, el *rod.Element) error {
	shape, err := el.Shape()
	if err != nil || shape == nil || len(shape.Quads) == 0 {
		return el.Click(proto.InputMouseButtonLeft, 1)
	}

	q := shape.Quads[0]
	target := proto.Point{
		X: (q[0] + q[2] + q[4] + q[6]) / 4,
		Y: (q[1] + q[3] + q[5] + q[7]) / 4,
	}
	target.X += (rand.Float64() - 0.5) * math.Abs(q[2]-q[0]) * 0.3
	target.Y += (rand.Float64() - 0.5) * math.Abs(q[5]-q[1]) * 0.3

	if err := m.Move(ctx, page, target); err != nil {
		return err
	}
	if err := Sleep(ctx, Between(30*time.Millisecond, 100*time.Millisecond)); err != nil {
		return err
	}
	return page.Mouse.Click(proto.InputMouseButtonLeft, 1)
}

func controlPoints(from, to proto.Point, variance float64) (proto.Point, proto.Point) {
	dx, dy := to.X-from.X, to.Y-from.Y
	distance := math.Hypot(dx, dy)
	perpX, perpY := -dy/distance, dx/distance

	off1 := (rand.Float64() - 0.5) * 2 * variance * distance
	off2 := (rand.Float64() - 0.5) * 2 * variance * distance
	return proto.Point{X: from.X + dx*0.3 + perpX*off1, Y: from.Y + dy*0.3 + perpY*off1},
		proto.Point{X: from.X + dx*0.7 + perpX*off2, Y: from.Y + dy*0.7 + perpY*off2}
}

func cubicBezier(p0, p1, p2, p3 proto.Point, t float64) proto.Point {
	mt := 1 - t
	a, b, c, d := mt*mt*mt, 3*mt*mt*t, 3*mt*t*t, t*t*t
	return proto.Point{
		X: a*p0.X + b*p1.X + c*p2.X + d*p3.X,
		Y: a*p0.Y + b*p1.Y + c*p2.Y + d*p3.Y,
	}
}

func easeInOutQuad(t float64) float64 {
	if t < 0.5 {
		return 2 * t * t
	}
	return 1 - math.Pow(-2*t+2, 2)/2
}

// viewportPoint picks a start position in the middle of the viewport.
func viewportPoint(page *rod.Page) (proto.Point, error) {
	res, err := page.Eval(`() => ({w: window.innerWidth, h: window.innerHeight})`)
	if err != nil {
		return proto.Point{}, err
	}
	return proto.Point{
		X: res.Value.Get("w").Num() * (0.3 + rand.Float64()*0.4),
		Y: res.Value.Get("h").Num() * (0.3 + rand.Float64()*0.4),
	}, nil
}
