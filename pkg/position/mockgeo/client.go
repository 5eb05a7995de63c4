package mockgeo

import (
	"context"
	"sync"
	"time"

	"geofollow/pkg/geo"
	"geofollow/pkg/model"
	"geofollow/pkg/position"
)

const tickRateMs = 100

// Config holds the simulated device settings.
type Config struct {
	StartLat float64
	StartLon float64
	// Heading in degrees true and Speed in meters per second describe a
	// straight walk from the start point. Zero speed keeps the device still.
	Heading float64
	Speed   float64
	// Delay before a fix is delivered.
	Delay time.Duration
	// FailWith makes every request fail with the given code when non-zero.
	FailWith position.ErrorCode
	// Unsupported makes the capability report itself as absent.
	Unsupported bool
}

// DefaultConfig returns a stationary device at the original demo coordinates.
func DefaultConfig() Config {
	return Config{
		StartLat: 6.3345,
		StartLon: 3.93,
		Delay:    250 * time.Millisecond,
	}
}

// Capability implements position.Capability with a simulated device.
type Capability struct {
	mu       sync.Mutex
	config   Config
	current  geo.Point
	calls    int
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a simulated capability and starts its movement loop.
func New(cfg Config) *Capability {
	c := &Capability{
		config:  cfg,
		current: geo.Point{Lat: cfg.StartLat, Lon: cfg.StartLon},
		stopCh:  make(chan struct{}),
	}

	c.wg.Add(1)
	go c.moveLoop()
	return c
}

// Available implements position.Capability.
func (c *Capability) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.config.Unsupported
}

// GetCurrentPosition implements position.Capability. The result is delivered
// on a timer goroutine after the configured delay unless ctx ends first.
func (c *Capability) GetCurrentPosition(ctx context.Context, onSuccess func(model.GeoPosition), onError func(position.ErrorCode)) {
	c.mu.Lock()
	c.calls++
	delay := c.config.Delay
	c.mu.Unlock()

	deliver := func() {
		if ctx.Err() != nil {
			return
		}
		c.mu.Lock()
		failWith := c.config.FailWith
		fix := c.current.Position()
		c.mu.Unlock()

		if failWith != 0 {
			onError(failWith)
			return
		}
		onSuccess(fix)
	}

	if delay <= 0 {
		go deliver()
		return
	}
	timer := time.AfterFunc(delay, deliver)
	go func() {
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-c.stopCh:
			timer.Stop()
		}
	}()
}

// Calls returns how many times GetCurrentPosition was invoked.
func (c *Capability) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Current returns the simulated device location.
func (c *Capability) Current() geo.Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// SetFailure switches the failure code at runtime. Zero restores success.
func (c *Capability) SetFailure(code position.ErrorCode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config.FailWith = code
}

// Teleport moves the simulated device.
func (c *Capability) Teleport(p geo.Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = p
}

// Close stops the movement loop. Pending deliveries are dropped.
func (c *Capability) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	return nil
}

func (c *Capability) moveLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(time.Duration(tickRateMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.update()
		}
	}
}

func (c *Capability) update() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.config.Speed <= 0 {
		return
	}
	dt := float64(tickRateMs) / 1000.0 // seconds
	c.current = geo.DestinationPoint(c.current, c.config.Speed*dt, c.config.Heading)
}
