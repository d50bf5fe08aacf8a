package main

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// humanPointer moves the mouse along curved, eased paths instead of
// teleporting it onto the target.
type humanPointer struct {
	mouse playwright.Mouse
	rng   *rand.Rand

	mu  sync.Mutex
	pos Point
}

func newHumanPointer(mouse playwright.Mouse) *humanPointer {
	return &humanPointer{
		mouse: mouse,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (h *humanPointer) ClickAt(target Point) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, step := range bezierPath(h.pos, target, h.rng) {
		if err := h.mouse.Move(step.X, step.Y); err != nil {
			return err
		}
		time.Sleep(time.Duration(4+h.rng.Intn(8)) * time.Millisecond)
	}
	h.pos = target

	if err := h.mouse.Down(); err != nil {
		return err
	}
	time.Sleep(time.Duration(40+h.rng.Intn(80)) * time.Millisecond)
	return h.mouse.Up()
}

// aimPoint resolves where inside box to click: box origin plus offset when an
// offset is given, otherwise a random spot away from the edges.
func aimPoint(box *playwright.Rect, offset *Point, rng *rand.Rand) Point {
	if offset != nil {
		return Point{X: box.X + offset.X, Y: box.Y + offset.Y}
	}
	if box.Width <= 0 || box.Height <= 0 {
		return Point{X: box.X, Y: box.Y}
	}
	return Point{
		X: box.X + box.Width*(0.2+0.6*rng.Float64()),
		Y: box.Y + box.Height*(0.2+0.6*rng.Float64()),
	}
}

// bezierPath samples a cubic Bezier curve from one point to another with
// randomized control points. The last sample is exactly the destination.
func bezierPath(from, to Point, rng *rand.Rand) []Point {
	dist := math.Hypot(to.X-from.X, to.Y-from.Y)
	steps := int(math.Max(12, math.Min(60, dist/8)))
	spread := math.Max(8, dist*0.25)

	control := func(frac float64) Point {
		return Point{
			X: from.X + (to.X-from.X)*frac + (rng.Float64()*2-1)*spread,
			Y: from.Y + (to.Y-from.Y)*frac + (rng.Float64()*2-1)*spread,
		}
	}
	c1, c2 := control(0.3), control(0.7)

	path := make([]Point, 0, steps)
	for i := 1; i <= steps; i++ {
		t := easeInOut(float64(i) / float64(steps))
		path = append(path, cubicBezier(from, c1, c2, to, t))
	}
	path[len(path)-1] = to
	return path
}

func cubicBezier(p0, p1, p2, p3 Point, t float64) Point {
	u := 1 - t
	a, b, c, d := u*u*u, 3*u*u*t, 3*u*t*t, t*t*t
	return Point{
		X: a*p0.X + b*p1.X + c*p2.X + d*p3.X,
		Y: a*p0.Y + b*p1.Y + c*p2.Y + d*p3.Y,
	}
}

func easeInOut(t float64) float64 {
	return t * t * (3 - 2*t)
}
