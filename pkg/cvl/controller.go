package cvl

import "sync"

// Controller wraps Compute with the mutable runtime state it closes
// over, giving concurrent publishers a single place to ask "what are
// the limits right now" without each caller re-deriving state.
type Controller struct {
	mu      sync.Mutex
	cfg     Config
	runtime RuntimeState
	latest  Result
}

// NewController constructs a Controller starting in the Bulk state.
func NewController(cfg Config) *Controller {
	return &Controller{cfg: cfg, runtime: RuntimeState{State: StateBulk}}
}

// SetConfig replaces the active configuration, taking effect on the next
// Step call.
func (c *Controller) SetConfig(cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
}

// Step advances the controller one cycle with fresh inputs and returns
// the new limits.
func (c *Controller) Step(in Inputs) Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := Compute(in, c.cfg, c.runtime)
	c.runtime = RuntimeState{
		State:                result.State,
		CvlVoltageV:          result.CvlVoltageV,
		CellProtectionActive: result.CellProtectionActive,
	}
	c.latest = result
	return result
}

// GetLatest returns the most recently computed result without advancing
// the state machine.
func (c *Controller) GetLatest() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest
}
