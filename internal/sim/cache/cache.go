package cache

import (
	"fmt"

	"github.com/smoynes/hymem/internal/log"
	"github.com/smoynes/hymem/internal/sim/request"
)

// Mode controls which access kinds a cache level accepts directly, versus
// forwarding untouched to the next level (spec §4.4).
type Mode int

const (
	// Normal accepts both reads and writes.
	Normal Mode = iota
	// WriteOnly forwards reads to the next level unconditionally; only
	// writes are handled at this level. Used for the eDRAM position.
	WriteOnly
)

func (m Mode) String() string {
	if m == WriteOnly {
		return "WriteOnly"
	}

	return "Normal"
}

// Boundary distinguishes an on-chip-to-on-chip hop (ticked every cycle)
// from the LLC boundary (ticked on the configured on_chip/off_chip ratio,
// and where eviction write-backs become ordinary writes to main memory).
type Boundary int

const (
	OnChipToOnChip Boundary = iota
	OnChipToOffChip
)

// NextLevel is what a Cache dispatches accepted misses, write-backs, and
// drained entries to: either another Cache or the downstream memory system.
type NextLevel interface {
	Send(req *request.Request, clk uint64) bool
	Tick(clk uint64)
	PendingRequests() int
}

// pendingHit is a hit whose tag-lookup latency has not yet elapsed.
type pendingHit struct {
	req    *request.Request
	endExe uint64
}

// Config bundles a cache level's construction-time parameters (spec §6).
type Config struct {
	Name              string
	Assoc             int // 0 means fully associative
	NumSets           int // ignored when Assoc == 0
	NumBlocks         int // used when Assoc == 0 (fully associative)
	BlockSize         uint64
	NumMSHRs          int
	NumWBEntries      int
	TagLookupLatency  uint64
	Mode              Mode
	Boundary          Boundary
	NClksToTickNext   uint64 // ratio; 1 for on-chip hops
	SharedAcrossCores []int  // core IDs permitted to issue to a shared level; nil means unrestricted
}

// Cache is the level-generic cache of spec §4.4: hit handling, miss
// allocation with MSHR coalescing, write-back eviction, next-level
// dispatch, and tick-driven draining.
type Cache struct {
	cfg Config

	tags TagStore

	mshr *Queue
	wb   *Queue

	// inflightMSHR/inflightWB remember the original request kind and
	// modify bit for each address with an outstanding entry, since Queue
	// itself only tracks addresses.
	inflightMSHR map[request.Word]*request.Request
	inflightWB   map[request.Word]bool // true if eviction is also the LLC boundary (-> send as WRITE)

	pendingHits []pendingHit

	next NextLevel

	selectedClient int
	clients        []int

	hits   uint64
	misses uint64

	log *log.Logger
}

// New creates a Cache. tags must already be sized per cfg (see
// NewFATagStore / NewSetAssocTagStore).
func New(cfg Config, tags TagStore, next NextLevel, logger *log.Logger) *Cache {
	if logger == nil {
		logger = log.DefaultLogger()
	}

	c := &Cache{
		cfg:          cfg,
		tags:         tags,
		mshr:         NewQueue(cfg.NumMSHRs),
		wb:           NewQueue(cfg.NumWBEntries),
		inflightMSHR: make(map[request.Word]*request.Request),
		inflightWB:   make(map[request.Word]bool),
		next:         next,
		clients:      cfg.SharedAcrossCores,
		log:          logger,
	}

	return c
}

// Hits and Misses report cumulative counters for statistics output.
func (c *Cache) Hits() uint64   { return c.hits }
func (c *Cache) Misses() uint64 { return c.misses }

// PendingRequests is this level's outstanding MSHR + write-back + pending
// hit count, plus everything pending downstream (spec §4.8).
func (c *Cache) PendingRequests() int {
	n := c.mshr.Len() + c.wb.Len() + len(c.pendingHits)
	if c.next != nil {
		n += c.next.PendingRequests()
	}

	return n
}

// arbitrate rotates the selected client at tick granularity for a shared
// level (spec §4.4 "Arbitration").
func (c *Cache) arbitrate(clk uint64) {
	if len(c.clients) == 0 {
		return
	}

	c.selectedClient = c.clients[int(clk)%len(c.clients)]
}

func (c *Cache) clientAllowed(coreID int) bool {
	if len(c.clients) == 0 {
		return true
	}

	return coreID == c.selectedClient
}

// Send implements NextLevel for an upstream caller: the outcome of sending
// req to this cache at clk (spec §4.4's outcome table).
func (c *Cache) Send(req *request.Request, clk uint64) bool {
	outcome := c.access(req, clk)
	return outcome != request.Blocked
}

// SendDetailed is like Send but also reports the outcome, for callers (and
// tests) that need to distinguish HIT / MSHR-coalesce / ACCEPTED-MISS /
// BLOCKED / WB-absorb.
func (c *Cache) SendDetailed(req *request.Request, clk uint64) request.Outcome {
	return c.access(req, clk)
}

func (c *Cache) access(req *request.Request, clk uint64) request.Outcome {
	if !c.clientAllowed(req.CoreID) {
		return request.Blocked
	}

	if c.cfg.Mode == WriteOnly && req.Kind == request.Read {
		if c.next == nil || !c.next.Send(req, clk) {
			return request.Blocked
		}

		return request.AcceptedMiss
	}

	aligned := Align(req.Addr, c.cfg.BlockSize)

	if req.Kind == request.WriteBack {
		return c.absorbOrForwardWriteBack(req, aligned, clk)
	}

	if c.wb.IsInQueueNotOnBoard(aligned) {
		c.wb.DeAllocate(aligned)
		c.installHit(req, clk)
		c.hits++

		return request.WriteBackAbsorb
	}

	if hit, _ := c.tags.AccessBlock(req.Addr, req.Dirty(), clk); hit {
		c.installHit(req, clk)
		c.hits++

		return request.Hit
	}

	if c.mshr.IsInQueue(aligned) {
		c.hits++
		return request.MSHRCoalesce
	}

	if c.mshr.IsFull() || c.wb.IsFull() {
		return request.Blocked
	}

	readyAt := clk + c.cfg.TagLookupLatency
	if _, err := c.mshr.Allocate(aligned, readyAt); err != nil {
		return request.Blocked
	}

	c.inflightMSHR[aligned] = req
	c.misses++

	return request.AcceptedMiss
}

func (c *Cache) absorbOrForwardWriteBack(req *request.Request, aligned request.Word, clk uint64) request.Outcome {
	if c.cfg.Boundary == OnChipToOffChip {
		// At the LLC boundary, a write-back is sent downstream as an
		// ordinary write.
		if c.next == nil || !c.next.Send(req, clk) {
			return request.Blocked
		}

		return request.AcceptedMiss
	}

	if c.wb.IsFull() {
		return request.Blocked
	}

	if _, err := c.wb.Allocate(aligned, clk); err != nil {
		return request.Blocked
	}

	return request.AcceptedMiss
}

func (c *Cache) installHit(req *request.Request, clk uint64) {
	c.pendingHits = append(c.pendingHits, pendingHit{
		req:    req,
		endExe: clk + c.cfg.TagLookupLatency,
	})
}

// Tick advances the cache by one cycle: completes the oldest ready pending
// hit, drains one deferred entry (preferring a ready write-back under
// back-pressure or starvation of MSHRs), and ticks the next level every
// NClksToTickNext cycles (spec §4.4).
func (c *Cache) Tick(clk uint64) {
	c.arbitrate(clk)
	c.completeOldestHit(clk)
	c.drainOne(clk)

	if c.next == nil {
		return
	}

	ratio := c.cfg.NClksToTickNext
	if ratio == 0 {
		ratio = 1
	}

	if clk%ratio == 0 {
		c.next.Tick(clk)
	}
}

func (c *Cache) completeOldestHit(clk uint64) {
	if len(c.pendingHits) == 0 {
		return
	}

	oldest := c.pendingHits[0]
	if oldest.endExe > clk {
		return
	}

	c.pendingHits = c.pendingHits[1:]

	if oldest.req.Complete != nil {
		oldest.req.EndExec = clk
		oldest.req.Complete(clk)
	}
}

// drainOne services at most one deferred entry this tick: a ready
// write-back when the WB buffer is full or no MSHR is ready, otherwise a
// ready MSHR.
func (c *Cache) drainOne(clk uint64) {
	wbOK, wbAddr := c.wb.GetReadyEntry(clk)
	mshrOK, mshrAddr := c.mshr.GetReadyEntry(clk)

	preferWB := wbOK && (c.wb.IsFull() || !mshrOK)

	switch {
	case preferWB:
		c.drainWriteBack(wbAddr, clk)
	case mshrOK:
		c.drainMSHR(mshrAddr, clk)
	}
}

func (c *Cache) drainWriteBack(addr request.Word, clk uint64) {
	wbReq := &request.Request{Addr: addr, Kind: request.WriteBack, QueueArrival: clk}

	if c.next == nil || !c.next.Send(wbReq, clk) {
		// Back-pressure: retry on a later tick.
		return
	}

	c.wb.DeAllocate(addr)
}

func (c *Cache) drainMSHR(addr request.Word, clk uint64) {
	orig, ok := c.inflightMSHR[addr]
	if !ok {
		c.mshr.EntryOnBoard(addr)
		return
	}

	// Check whether this insert would need a write-back, and whether the
	// WB buffer has room for it, before touching the tag store at all: a
	// blocked completion must retry with no side effects, not evict a
	// victim it then has nowhere to put.
	if wbRequired, _ := c.tags.PeekVictim(addr); wbRequired && c.wb.IsFull() {
		return
	}

	wbRequired, wbAddr := c.tags.InsertBlock(addr, orig.Dirty(), clk)

	if wbRequired {
		if _, err := c.wb.Allocate(wbAddr, clk); err != nil {
			return
		}
	}

	c.mshr.DeAllocate(addr)
	delete(c.inflightMSHR, addr)

	if orig.Complete != nil {
		orig.EndExec = clk
		orig.Complete(clk)
	}
}

func (c *Cache) String() string {
	return fmt.Sprintf("cache[%s]: hits=%d misses=%d mshr=%d/%d wb=%d/%d",
		c.cfg.Name, c.hits, c.misses, c.mshr.Len(), c.mshr.Capacity(), c.wb.Len(), c.wb.Capacity())
}
