package frame

// Clock tracks the current simulation frame. The rollback coordinator is the
// only writer; game systems read the frame number to index per-frame state.
type Clock struct {
	frame Number
}

// NewClock returns a clock positioned before the first simulated frame.
func NewClock() *Clock {
	return &Clock{}
}

// Frame returns the current frame number.
func (c *Clock) Frame() Number {
	return c.frame
}

// Advance moves the clock forward by n frames.
func (c *Clock) Advance(n Number) {
	c.frame += n
}

// Set rewinds or jumps the clock to an absolute frame. Only the rollback
// coordinator should ever move the clock backwards.
func (c *Clock) Set(f Number) {
	c.frame = f
}
