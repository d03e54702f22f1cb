package player

import "math"

// DefaultTolerance is how far, in seconds, a frame may sit from the clock
// and still be shown.
const DefaultTolerance = 0.3

// Action is what to do with a video frame on this tick.
type Action int

const (
	// Render shows the frame now.
	Render Action = iota
	// Wait keeps the frame for a later tick; it is ahead of the clock.
	Wait
	// Drop discards the frame.
	Drop
	// Resync shows the frame and moves the clock to it. Only the first frame
	// reaching a seek target gets this.
	Resync
)

func (a Action) String() string {
	switch a {
	case Render:
		return "render"
	case Wait:
		return "wait"
	case Drop:
		return "drop"
	case Resync:
		return "resync"
	default:
		return "unknown"
	}
}

// Decide compares a frame's presentation time with the clock. While a seek
// is pending only the reseeked frame is usable. Otherwise a frame within
// tolerance is rendered once the clock has reached it and held until then;
// anything further away is dropped. A drop never triggers a corrective seek.
func Decide(frameTime, clockTime float64, seeking, reseeked bool, tolerance float64) Action {
	if seeking {
		if reseeked {
			return Resync
		}
		return Drop
	}
	if math.Abs(clockTime-frameTime) > tolerance {
		return Drop
	}
	if frameTime <= clockTime {
		return Render
	}
	return Wait
}
