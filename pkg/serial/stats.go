package serial

import (
	"sync/atomic"
	"time"
)

// EngineStats accumulates cumulative counters describing the gateway's
// single BMS serial link: ok/failed reads and writes, CRC errors,
// timeouts, NACKs, retries, the queue high-water mark, and a mean
// latency.
type EngineStats struct {
	okReads       uint64
	okWrites      uint64
	failedReads   uint64
	failedWrites  uint64
	crcErrors     uint64
	timeouts      uint64
	nacks         uint64
	retries       uint64
	queueHighWater uint64
	meanLatencyUs  uint64 // running mean, microseconds, fixed-point free (integer mean)
	latencySamples uint64
}

// Snapshot is an immutable copy of EngineStats for reporting.
type Snapshot struct {
	OkReads        uint64
	OkWrites       uint64
	FailedReads    uint64
	FailedWrites   uint64
	CrcErrors      uint64
	Timeouts       uint64
	Nacks          uint64
	Retries        uint64
	QueueHighWater uint64
	MeanLatency    time.Duration
}

func (s *EngineStats) recordOkRead(latency time.Duration) {
	atomic.AddUint64(&s.okReads, 1)
	s.observeLatency(latency)
}

func (s *EngineStats) recordOkWrite(latency time.Duration) {
	atomic.AddUint64(&s.okWrites, 1)
	s.observeLatency(latency)
}

func (s *EngineStats) recordFailedRead() { atomic.AddUint64(&s.failedReads, 1) }
func (s *EngineStats) recordFailedWrite() { atomic.AddUint64(&s.failedWrites, 1) }
func (s *EngineStats) recordCrcError()    { atomic.AddUint64(&s.crcErrors, 1) }
func (s *EngineStats) recordTimeout()     { atomic.AddUint64(&s.timeouts, 1) }
func (s *EngineStats) recordNack()        { atomic.AddUint64(&s.nacks, 1) }
func (s *EngineStats) recordRetry()       { atomic.AddUint64(&s.retries, 1) }

func (s *EngineStats) observeQueueDepth(depth int) {
	for {
		cur := atomic.LoadUint64(&s.queueHighWater)
		if uint64(depth) <= cur {
			return
		}
		if atomic.CompareAndSwapUint64(&s.queueHighWater, cur, uint64(depth)) {
			return
		}
	}
}

// observeLatency updates a running mean in microseconds. Not lock-free
// across the two fields together, but each field's update is atomic and
// the mean is advisory telemetry, not a correctness-bearing value.
func (s *EngineStats) observeLatency(d time.Duration) {
	n := atomic.AddUint64(&s.latencySamples, 1)
	us := d.Microseconds()
	prevMean := int64(atomic.LoadUint64(&s.meanLatencyUs))
	newMean := prevMean + (us-prevMean)/int64(n)
	atomic.StoreUint64(&s.meanLatencyUs, uint64(newMean))
}

// Snapshot returns a consistent-enough point-in-time copy of the counters.
func (s *EngineStats) Snapshot() Snapshot {
	return Snapshot{
		OkReads:        atomic.LoadUint64(&s.okReads),
		OkWrites:       atomic.LoadUint64(&s.okWrites),
		FailedReads:    atomic.LoadUint64(&s.failedReads),
		FailedWrites:   atomic.LoadUint64(&s.failedWrites),
		CrcErrors:      atomic.LoadUint64(&s.crcErrors),
		Timeouts:       atomic.LoadUint64(&s.timeouts),
		Nacks:          atomic.LoadUint64(&s.nacks),
		Retries:        atomic.LoadUint64(&s.retries),
		QueueHighWater: atomic.LoadUint64(&s.queueHighWater),
		MeanLatency:    time.Duration(atomic.LoadUint64(&s.meanLatencyUs)) * time.Microsecond,
	}
}
