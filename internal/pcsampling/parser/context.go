package parser

import (
	"sync"
	"time"

	"github.com/google/btree"
	"go.uber.org/zap"

	"github.com/ALEYI17/InfraSight_gpuprof/internal/buffer"
	"github.com/ALEYI17/InfraSight_gpuprof/pkg/logutil"
)

const forgetListDegree = 8

// forgetItem orders pending retirements by internal correlation id.
type forgetItem uint64

func (a forgetItem) Less(b btree.Item) bool { return a < b.(forgetItem) }

type Option func(*Context)

// WithClock sets the timestamp source of retirement records.
func WithClock(clock func() uint64) Option {
	return func(c *Context) { c.clock = clock }
}

// Context decodes sampling segments of one GFX family and tracks the
// dispatches their samples belong to.
type Context struct {
	gfxMajor   int
	hostTrap   func(*GenericSample) HostTrapRecord
	stochastic func(*GenericSample) StochasticRecord
	clock      func() uint64

	mu             sync.RWMutex
	corrMap        *CorrelationMap
	active         map[uint64]DispatchPacket
	forget         *btree.BTree
	buffers        map[uint64]buffer.Buffer
	hostTrapData   [][]HostTrapRecord
	stochasticData [][]StochasticRecord
}

// NewContext picks the decoders of gfxMajor once. Only GFX9 and GFX11 are
// supported.
func NewContext(gfxMajor int, opts ...Option) (*Context, error) {
	c := &Context{
		gfxMajor: gfxMajor,
		clock:    func() uint64 { return uint64(time.Now().UnixNano()) },
		corrMap:  NewCorrelationMap(),
		active:   make(map[uint64]DispatchPacket),
		forget:   btree.New(forgetListDegree),
		buffers:  make(map[uint64]buffer.Buffer),
	}
	switch gfxMajor {
	case 9:
		c.hostTrap, c.stochastic = gfx9HostTrap, gfx9Stochastic
	case 11:
		c.hostTrap, c.stochastic = gfx11HostTrap, gfx11Stochastic
	default:
		return nil, StatusInvalidGFXIP.Err()
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Context) GFXMajor() int { return c.gfxMajor }

// RegisterBuffer routes the records of agentID to b.
func (c *Context) RegisterBuffer(agentID uint64, b buffer.Buffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffers[agentID] = b
}

// Parse decodes one segment: a sequence of UpcomingSamples header slots,
// each followed by its samples. notify is called once decoding is done,
// before the forget list is flushed on flip.
func (c *Context) Parse(segment []GenericSample, gfxMajor int, notify func(), flip bool) Status {
	if gfxMajor != c.gfxMajor {
		return StatusInvalidGFXIP
	}

	status := c.parseSegment(segment)
	if notify != nil {
		notify()
	}
	if !flip || status != StatusSuccess {
		return status
	}
	status = c.FlushForgetList()
	c.releaseBatches()
	return status
}

func (c *Context) parseSegment(segment []GenericSample) Status {
	for i := 0; i < len(segment); {
		hdr, ok := decodeUpcoming(&segment[i])
		if !ok {
			logutil.GetLogger().Error("Missing upcoming samples header", zap.Int("slot", i))
			return StatusInvalidSample
		}
		start := i + 1
		end := start + int(hdr.NumSamples)
		if hdr.NumSamples > uint64(len(segment)) || end > len(segment) {
			logutil.GetLogger().Error("Truncated pc sampling batch",
				zap.Uint64("samples", hdr.NumSamples), zap.Int("available", len(segment)-start))
			return StatusInvalidSample
		}

		var status Status
		switch hdr.Type {
		case SampleTypeHostTrapV1:
			status = parseBatch[HostTrapRecord](c, hdr.AgentID, segment[start:end], c.hostTrap, buffer.KindPCSampleHostTrap)
		case SampleTypeSnapshotV1:
			status = parseBatch[StochasticRecord](c, hdr.AgentID, segment[start:end], c.stochastic, buffer.KindPCSampleStochastic)
		default:
			status = StatusInvalidSample
		}
		if status != StatusSuccess {
			return status
		}
		i = end
	}
	return StatusSuccess
}

type record interface {
	HostTrapRecord | StochasticRecord
}

type recordPtr[T record] interface {
	*T
	setDispatch(DispatchPacket, bool)
}

func parseBatch[T record, P recordPtr[T]](c *Context, agentID uint64, samples []GenericSample, decode func(*GenericSample) T, kind buffer.Kind) Status {
	out := Alloc[T](c, len(samples))
	for i := range samples {
		out[i] = decode(&samples[i])
	}

	c.mu.RLock()
	for i := range samples {
		pkt, ok := c.corrMap.Get(rawCorrelationID(&samples[i]))
		P(&out[i]).setDispatch(pkt, ok)
	}
	buf, ok := c.buffers[agentID]
	c.mu.RUnlock()

	if !ok {
		logutil.GetLogger().Error("Buffer does not exist", zap.Uint64("agent_id", agentID))
		return StatusBufferNotFound
	}
	for i := range out {
		buf.Emplace(buffer.CategoryPCSampling, kind, out[i])
	}
	return StatusSuccess
}

// Alloc reserves room for n decoded records. The slice stays valid until
// the next buffer flip.
func Alloc[T record](c *Context, n int) []T {
	out := make([]T, n)
	c.mu.Lock()
	defer c.mu.Unlock()
	switch b := any(out).(type) {
	case []HostTrapRecord:
		c.hostTrapData = append(c.hostTrapData, b)
	case []StochasticRecord:
		c.stochasticData = append(c.stochasticData, b)
	}
	return out
}

// Batches reports how many decoded batches are held until the next flip.
func (c *Context) Batches() (hostTrap, stochastic int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.hostTrapData), len(c.stochasticData)
}

func (c *Context) releaseBatches() {
	c.mu.Lock()
	c.hostTrapData = nil
	c.stochasticData = nil
	c.mu.Unlock()
}

func (c *Context) NewDispatch(pkt DispatchPacket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.corrMap.NewDispatch(pkt)
	c.active[pkt.CorrelationID.Internal] = pkt
}

// CompleteDispatch queues the dispatch for retirement at the next flip.
func (c *Context) CompleteDispatch(correlationID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forget.ReplaceOrInsert(forgetItem(correlationID))
}

// FlushForgetList retires every completed dispatch in correlation id order
// and emits a DispatchRetired record for each. Entries without an active
// dispatch are dropped and reported as StatusParserError.
func (c *Context) FlushForgetList() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := StatusSuccess
	c.forget.Ascend(func(i btree.Item) bool {
		id := uint64(i.(forgetItem))
		pkt, ok := c.active[id]
		if !ok {
			logutil.GetLogger().Warn("Retiring unknown dispatch", zap.Uint64("correlation_id", id))
			status = worst(status, StatusParserError)
			return true
		}
		c.emitRetired(pkt)
		c.corrMap.Forget(pkt)
		delete(c.active, id)
		return true
	})
	c.forget = btree.New(forgetListDegree)
	return status
}

func (c *Context) emitRetired(pkt DispatchPacket) {
	buf, ok := c.buffers[pkt.AgentID]
	if !ok {
		return
	}
	buf.Emplace(buffer.CategoryPCSampling, buffer.KindDispatchRetired, DispatchRetired{
		AgentID:       pkt.AgentID,
		DispatchID:    pkt.DispatchID,
		CorrelationID: pkt.CorrelationID,
		Timestamp:     c.clock(),
	})
}

// ShouldFlipRocrBuffer reports whether pkt collides with an in-flight
// dispatch on the device correlation slot.
func (c *Context) ShouldFlipRocrBuffer(pkt DispatchPacket) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.corrMap.CheckDispatch(pkt)
}

// Active reports whether correlationID is still tracked.
func (c *Context) Active(correlationID uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.active[correlationID]
	return ok
}
