package parser

const (
	dispatchIndexBits = 25
	doorbellShift     = 32
	doorbellBits      = 10
)

// DeviceCorrelationID builds the id the device stamps into each sample: the
// low 25 bits of the queue write index and the 10 bit doorbell id at bit 32.
func DeviceCorrelationID(doorbell, writeIndex uint64) uint64 {
	return (doorbell&(1<<doorbellBits-1))<<doorbellShift | writeIndex&(1<<dispatchIndexBits-1)
}

// DispatchPacket identifies a dispatch submitted with sampling enabled.
type DispatchPacket struct {
	CorrelationID CorrelationID
	DispatchID    uint64
	AgentID       uint64
	QueueID       uint64
	Doorbell      uint64
	WriteIndex    uint64
}

func (p DispatchPacket) DeviceID() uint64 {
	return DeviceCorrelationID(p.Doorbell, p.WriteIndex)
}

// CorrelationMap resolves device correlation ids to dispatches. It is not
// safe for concurrent use; Context serializes access.
type CorrelationMap struct {
	slots map[uint64]DispatchPacket
}

func NewCorrelationMap() *CorrelationMap {
	return &CorrelationMap{slots: make(map[uint64]DispatchPacket)}
}

func (m *CorrelationMap) NewDispatch(pkt DispatchPacket) {
	m.slots[pkt.DeviceID()] = pkt
}

func (m *CorrelationMap) Get(deviceID uint64) (DispatchPacket, bool) {
	pkt, ok := m.slots[deviceID]
	return pkt, ok
}

// Forget releases the slot of pkt unless it was already taken over by a
// newer dispatch.
func (m *CorrelationMap) Forget(pkt DispatchPacket) {
	id := pkt.DeviceID()
	if cur, ok := m.slots[id]; ok && cur.CorrelationID.Internal == pkt.CorrelationID.Internal {
		delete(m.slots, id)
	}
}

// CheckDispatch reports whether pkt would reuse a slot still held by another
// dispatch, in which case the sampling buffer must be flipped first.
func (m *CorrelationMap) CheckDispatch(pkt DispatchPacket) bool {
	cur, ok := m.slots[pkt.DeviceID()]
	return ok && cur.CorrelationID.Internal != pkt.CorrelationID.Internal
}

func (m *CorrelationMap) Len() int { return len(m.slots) }
