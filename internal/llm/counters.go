package llm

import (
	"sync"
	"sync/atomic"
)

// Counters are process-wide call statistics shared by every invoker.
type Counters struct {
	Calls       atomic.Int64
	Failures    atomic.Int64
	Timeouts    atomic.Int64
	Retries     atomic.Int64
	Exhaustions atomic.Int64

	byProvider sync.Map // provider name -> *atomic.Int64
}

// DefaultCounters is used by invokers built without WithCounters.
var DefaultCounters = &Counters{}

func (c *Counters) providerCall(name string) {
	v, _ := c.byProvider.LoadOrStore(name, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Calls       int64            `json:"calls"`
	Failures    int64            `json:"failures"`
	Timeouts    int64            `json:"timeouts"`
	Retries     int64            `json:"retries"`
	Exhaustions int64            `json:"exhaustions"`
	ByProvider  map[string]int64 `json:"byProvider"`
}

// Snapshot copies the current values.
func (c *Counters) Snapshot() Snapshot {
	s := Snapshot{
		Calls:       c.Calls.Load(),
		Failures:    c.Failures.Load(),
		Timeouts:    c.Timeouts.Load(),
		Retries:     c.Retries.Load(),
		Exhaustions: c.Exhaustions.Load(),
		ByProvider:  make(map[string]int64),
	}
	c.byProvider.Range(func(k, v any) bool {
		s.ByProvider[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	return s
}
