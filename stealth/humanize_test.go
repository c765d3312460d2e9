package stealth

import (
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMousePathEndsOnTarget(t *testing.T) {
	from, to := proto.Point{X: 10, Y: 10}, proto.Point{X: 610, Y: 410}

	for _, overshoot := range []float64{0, 1} {
		m := DefaultMouse()
		m.OvershootChance = overshoot
		for i := 0; i < 20; i++ {
			path := m.Path(from, to)
			require.NotEmpty(t, path)
			assert.InDelta(t, to.X, path[len(path)-1].X, 1e-9)
			assert.InDelta(t, to.Y, path[len(path)-1].Y, 1e-9)
			assert.LessOrEqual(t, len(path), m.MaxSteps+4)
			if overshoot == 0 {
				assert.Len(t, path, m.MaxSteps, "a 720px move uses the step cap")
			}
		}
	}
}

func TestMousePathShortMove(t *testing.T) {
	to := proto.Point{X: 102, Y: 101}
	assert.Equal(t, []proto.Point{to}, DefaultMouse().Path(proto.Point{X: 100, Y: 100}, to))
}

func TestMousePathStaysNearLine(t *testing.T) {
	m := DefaultMouse()
	m.CurveVariance, m.Jitter, m.OvershootChance = 0, 0, 0

	for _, p := range m.Path(proto.Point{X: 0, Y: 0}, proto.Point{X: 500, Y: 0}) {
		assert.InDelta(t, 0, p.Y, 1e-9)
		assert.GreaterOrEqual(t, p.X, 0.0)
		assert.LessOrEqual(t, p.X, 500.0)
	}
}

func TestTypistDelay(t *testing.T) {
	ty := Typist{Base: 100 * time.Millisecond}

	assert.Equal(t, 100*time.Millisecond, ty.Delay('a', 3))
	assert.Equal(t, 150*time.Millisecond, ty.Delay('a', 0), "first key is slower")
	assert.Equal(t, 180*time.Millisecond, ty.Delay('.', 3))
	assert.Greater(t, ty.Delay('A', 3), ty.Delay('a', 3))

	fast := Typist{Base: time.Millisecond}
	assert.Equal(t, minKeystroke, fast.Delay('a', 5))

	thinker := Typist{Base: 100 * time.Millisecond, ThinkChance: 1, ThinkMin: time.Second, ThinkMax: time.Second}
	assert.Equal(t, 1100*time.Millisecond, thinker.Delay('a', 3))
}

func TestTypistDelayVariation(t *testing.T) {
	ty := DefaultTypist()
	ty.ThinkChance = 0
	for i := 0; i < 100; i++ {
		d := ty.Delay('e', 4)
		assert.GreaterOrEqual(t, d, ty.Base-ty.Variation)
		assert.Less(t, d, ty.Base+ty.Variation)
	}
}
