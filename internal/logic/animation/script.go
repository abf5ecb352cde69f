package animation

// WinkScript is the fixed headlight script: both actuators to max, then
// min, then back to their default positions.
func WinkScript(bounds func() (min, max int), defaults func() (left, right int)) []Waypoint {
	return []Waypoint{
		{Name: "max", Target: func() (int, int) {
			_, max := bounds()
			return max, max
		}},
		{Name: "min", Target: func() (int, int) {
			min, _ := bounds()
			return min, min
		}},
		{Name: "default", Target: defaults},
	}
}
