package logic

// CountDirection selects up- or down-counting.
type CountDirection int

const (
	// CountUp counts rising edges from 0 toward the preset.
	CountUp CountDirection = iota

	// CountDown counts rising edges from the preset toward 0.
	CountDown
)

func (d CountDirection) String() string {
	if d == CountDown {
		return "down"
	}
	return "up"
}

// Counter counts rising edges of its count input, clamped to
// [0, preset]. An up-counter is done at preset, a down-counter at 0.
// Reset takes priority over counting within the same scan.
type Counter struct {
	dir    CountDirection
	preset int
	count  int
	done   bool
	edge   *EdgeDetector
}

// NewCounter creates a counter. A negative preset is treated as 0.
func NewCounter(dir CountDirection, preset int) *Counter {
	if preset < 0 {
		preset = 0
	}
	c := &Counter{
		dir:    dir,
		preset: preset,
		edge:   NewEdgeDetector(Rising),
	}
	if dir == CountDown {
		c.count = preset
	}
	c.refreshDone()
	return c
}

// NewUpCounter creates an up-counter with the given preset.
func NewUpCounter(preset int) *Counter {
	return NewCounter(CountUp, preset)
}

// NewDownCounter creates a down-counter starting at the given preset.
func NewDownCounter(preset int) *Counter {
	return NewCounter(CountDown, preset)
}

// Update samples the count and reset inputs for this scan. The edge
// detector is always sampled, even during reset, so a count input held
// true across a reset does not produce a phantom edge afterwards.
func (c *Counter) Update(count, reset bool) {
	edge := c.edge.Sample(count)

	if reset {
		if c.dir == CountDown {
			c.count = c.preset
		} else {
			c.count = 0
		}
		c.done = false
		return
	}

	if edge {
		if c.dir == CountUp && c.count < c.preset {
			c.count++
		} else if c.dir == CountDown && c.count > 0 {
			c.count--
		}
	}
	c.refreshDone()
}

func (c *Counter) refreshDone() {
	if c.dir == CountUp {
		c.done = c.count == c.preset
	} else {
		c.done = c.count == 0
	}
}

// Done reports whether the counter reached its terminal bound.
func (c *Counter) Done() bool { return c.done }

// Count returns the current count.
func (c *Counter) Count() int { return c.count }

// Preset returns the preset count.
func (c *Counter) Preset() int { return c.preset }

// Direction returns the counting direction.
func (c *Counter) Direction() CountDirection { return c.dir }
