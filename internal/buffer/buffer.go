package buffer

//go:generate mockgen -source=$GOFILE -destination=mock/buffer_mock.go -package=mock

import (
	"context"
	"sync"
	"time"
)

type Category uint32

const (
	CategoryNone Category = iota
	CategoryCounterCollection
	CategoryPCSampling
	CategoryDispatch
)

func (c Category) String() string {
	switch c {
	case CategoryCounterCollection:
		return "counter_collection"
	case CategoryPCSampling:
		return "pc_sampling"
	case CategoryDispatch:
		return "dispatch"
	}
	return "none"
}

type Kind uint32

const (
	KindNone Kind = iota
	KindCounterHeader
	KindCounterRecord
	KindPCSampleHostTrap
	KindPCSampleStochastic
	KindDispatchRetired
	KindDeviceCounterRecord
)

func (k Kind) String() string {
	switch k {
	case KindCounterHeader:
		return "counter_header"
	case KindCounterRecord:
		return "counter_record"
	case KindPCSampleHostTrap:
		return "pc_sample_host_trap"
	case KindPCSampleStochastic:
		return "pc_sample_stochastic"
	case KindDispatchRetired:
		return "dispatch_retired"
	case KindDeviceCounterRecord:
		return "device_counter_record"
	}
	return "none"
}

// Buffer is an append-only sink of tagged records.
type Buffer interface {
	Emplace(category Category, kind Kind, record any)
}

type Entry struct {
	Seq      uint64
	Category Category
	Kind     Kind
	Record   any
}

// Records keeps emplaced entries in memory until they are flushed.
type Records struct {
	mu      sync.Mutex
	seq     uint64
	entries []Entry
}

func NewRecords() *Records {
	return &Records{}
}

func (r *Records) Emplace(category Category, kind Kind, record any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.entries = append(r.entries, Entry{Seq: r.seq, Category: category, Kind: kind, Record: record})
}

func (r *Records) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Flush hands over every entry emplaced since the previous flush.
func (r *Records) Flush() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.entries
	r.entries = nil
	return out
}

func (r *Records) Run(ctx context.Context, interval time.Duration) <-chan []Entry {
	out := make(chan []Entry)

	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				entries := r.Flush()
				if len(entries) == 0 {
					continue
				}
				select {
				case out <- entries:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

// Updater receives every entry a Fanout buffer is handed.
type Updater interface {
	Update(ev any)
}

// Fanout forwards entries to a set of updaters, in emplacement order.
type Fanout struct {
	mu   sync.Mutex
	seq  uint64
	next []Updater
}

func NewFanout(next ...Updater) *Fanout {
	return &Fanout{next: next}
}

func (f *Fanout) Emplace(category Category, kind Kind, record any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	e := Entry{Seq: f.seq, Category: category, Kind: kind, Record: record}
	for _, u := range f.next {
		u.Update(e)
	}
}
