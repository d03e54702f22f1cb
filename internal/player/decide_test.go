package player

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecideBoundaryLaw(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		frame float64
		clock float64
		want  Action
	}{
		{"exactly on time", 2.0, 2.0, Render},
		{"slightly late", 1.9, 2.0, Render},
		{"late at tolerance", 1.75, 2.0, Render},
		{"slightly early", 2.1, 2.0, Wait},
		{"early at tolerance", 2.25, 2.0, Wait},
		{"too late", 1.5, 2.0, Drop},
		{"too early", 2.5, 2.0, Drop},
		{"far behind", 0, 9, Drop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.frame, tt.clock, false, false, DefaultTolerance))
		})
	}
}

func TestDecideMatchesDefinition(t *testing.T) {
	t.Parallel()
	for f := 0.0; f <= 3; f += 0.05 {
		for p := 0.0; p <= 3; p += 0.07 {
			got := Decide(f, p, false, false, DefaultTolerance)
			d := p - f
			if d < 0 {
				d = -d
			}
			var want Action
			switch {
			case d > DefaultTolerance:
				want = Drop
			case f <= p:
				want = Render
			default:
				want = Wait
			}
			assert.Equal(t, want, got, "f=%v p=%v", f, p)
		}
	}
}

func TestDecideWhileSeeking(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Drop, Decide(1, 5, true, false, DefaultTolerance))
	assert.Equal(t, Drop, Decide(5, 5, true, false, DefaultTolerance), "on-time frames before the target frame are stale")
	assert.Equal(t, Resync, Decide(5, 2, true, true, DefaultTolerance))
	assert.Equal(t, Resync, Decide(0, 100, true, true, DefaultTolerance), "reseeked frame is used regardless of distance")
}

func TestReseekedFlagIgnoredOutsideSeek(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Render, Decide(1, 1, false, true, DefaultTolerance))
}

func TestActionString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "render", Render.String())
	assert.Equal(t, "wait", Wait.String())
	assert.Equal(t, "drop", Drop.String())
	assert.Equal(t, "resync", Resync.String())
	assert.Equal(t, "unknown", Action(9).String())
}
