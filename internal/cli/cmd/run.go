package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math/bits"
	"os"
	"strings"

	"github.com/smoynes/hymem/internal/cli"
	"github.com/smoynes/hymem/internal/config"
	"github.com/smoynes/hymem/internal/log"
	"github.com/smoynes/hymem/internal/sim/array"
	"github.com/smoynes/hymem/internal/sim/cache"
	"github.com/smoynes/hymem/internal/sim/controller"
	"github.com/smoynes/hymem/internal/sim/core"
	"github.com/smoynes/hymem/internal/sim/memsys"
	"github.com/smoynes/hymem/internal/sim/request"
	"github.com/smoynes/hymem/internal/stats"
	"github.com/smoynes/hymem/internal/trace"
)

// Runner is the simulator's one operating mode.
//
//	hymem run --config dram.cfg [--config pcm.cfg] --traces trace1 [--traces trace2 ...] out.stats
//
// Every configuration or trace file needs its own flag; a file name given
// after another without a flag ends flag parsing.
func Runner() cli.Command {
	return &runner{log: log.DefaultLogger()}
}

type runner struct {
	configs stringSlice
	traces  stringSlice
	strict  bool

	log *log.Logger
}

func (runner) Description() string {
	return "run the simulator over one or more traces"
}

func (runner) Usage(out io.Writer) error {
	_, err := fmt.Fprintln(out, `run --config cfg [--config cfg2] --traces trace1 [--traces trace2 ...] out.stats

Run the memory-hierarchy simulator to trace exhaustion and write stats to
out.stats. Each file needs its own --config or --traces flag. A second
--config file switches on hybrid DRAM+PCM mode: the first file describes
the DRAM side, the second the PCM side. One core is created per --traces
file.`)

	return err
}

func (r *runner) FlagSet() *cli.FlagSet {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	fs.Var(&r.configs, "config", "configuration `file`; repeatable, second file selects hybrid mode")
	fs.Var(&r.traces, "traces", "trace `file`; repeatable, one core per file")
	fs.BoolVar(&r.strict, "strict", false, "fail on malformed trace lines instead of substituting address 0 READ")

	return fs
}

// Run wires a configuration into a cache/controller stack, drains every
// trace to exhaustion, and writes the collected statistics.
func (r *runner) Run(ctx context.Context, args []string, out io.Writer, logger *log.Logger) int {
	if len(r.configs) == 0 || len(r.traces) == 0 {
		logger.Error("run requires at least one --config and one --traces file")
		return 1
	}

	if len(args) != 1 {
		logger.Error("run requires exactly one output path for the stats file")
		return 1
	}

	sim, err := r.build(logger)
	if err != nil {
		logger.Error("build failed", "err", err)
		return 1
	}

	if err := sim.drain(ctx); err != nil {
		logger.Error("run failed", "err", err)
		return 1
	}

	outFile, err := os.Create(args[0])
	if err != nil {
		logger.Error("open stats output failed", "err", err)
		return 1
	}
	defer outFile.Close()

	sim.recordStats()

	if _, err := sim.collector.WriteTo(outFile); err != nil {
		logger.Error("write stats failed", "err", err)
		return 1
	}

	logger.Info("run completed", "retired", sim.retired(), "ticks", sim.clk)

	return 0
}

// simulation owns every component the run command drives to exhaustion.
type simulation struct {
	cores      []*core.Core
	l1s        []*cache.Cache
	l2         *cache.Cache
	edram      *cache.Cache // nil unless the config has an eDRAM level
	downstream memsysLike
	collector  *stats.Collector
	clk        uint64
}

func (s *simulation) retired() uint64 {
	var n uint64
	for _, c := range s.cores {
		n += c.Retired()
	}

	return n
}

// recordStats registers every cumulative counter and gauge SPEC_FULL.md's
// statistics output names: retirement summed over all cores, per-level hit/miss counts,
// outstanding pending counts, and cumulative read/set/reset energy.
func (s *simulation) recordStats() {
	s.collector.AddCounter("retired", s.retired())
	s.collector.AddCounter("ticks", s.clk)
	s.collector.AddCounter("pending", uint64(s.pendingTotal()))

	for i, l1 := range s.l1s {
		name := fmt.Sprintf("l1d_%d", i)
		s.collector.AddCounter(name+"_hits", l1.Hits())
		s.collector.AddCounter(name+"_misses", l1.Misses())
	}

	s.collector.AddCounter("l2_hits", s.l2.Hits())
	s.collector.AddCounter("l2_misses", s.l2.Misses())

	if s.edram != nil {
		s.collector.AddCounter("edram_hits", s.edram.Hits())
		s.collector.AddCounter("edram_misses", s.edram.Misses())
	}

	energy := s.downstream.Energy()
	s.collector.AddGauge("rd_energy_pj", energy.RdPJ)
	s.collector.AddGauge("set_energy_pj", energy.SetPJ)
	s.collector.AddGauge("reset_energy_pj", energy.ResetPJ)
}

func (s *simulation) done() bool {
	for _, c := range s.cores {
		if !c.Done() {
			return false
		}
	}

	return true
}

// topLevel is whatever a Core sends its first reference into: an L1 cache.
type topLevel interface {
	core.L1
}

func (r *runner) build(logger *log.Logger) (*simulation, error) {
	cfgs := make([]*config.Config, len(r.configs))

	for i, path := range r.configs {
		cfg := config.New()

		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}

		if err := config.Parse(cfg, f, path); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}

		cfgs[i] = cfg
	}

	dramCfg := cfgs[0]

	var downstream memsysLike

	if len(cfgs) >= 2 {
		dramMS, dramDecoder, err := buildMemorySystem(dramCfg, logger)
		if err != nil {
			return nil, err
		}

		pcmMS, _, err := buildMemorySystem(cfgs[1], logger)
		if err != nil {
			return nil, err
		}

		split := memsys.HybridSplit{DRAMLimit: addressSpan(dramCfg, dramDecoder)}
		downstream = memsys.NewHybrid(split, dramMS, pcmMS)
	} else {
		ms, _, err := buildMemorySystem(dramCfg, logger)
		if err != nil {
			return nil, err
		}

		downstream = ms
	}

	numCores := len(r.traces)
	coreIDs := make([]int, numCores)

	for i := range coreIDs {
		coreIDs[i] = i
	}

	var llc topLevel = downstream

	var edramCache *cache.Cache

	if lvl, ok := dramCfg.Levels["eDRAM"]; ok {
		edram, err := buildCacheLevel("eDRAM", lvl, dramCfg, downstream, cache.OnChipToOffChip, cache.WriteOnly, coreIDs, logger)
		if err != nil {
			return nil, err
		}

		llc = edram
		edramCache = edram
	} else {
		llc = &memsysAdapter{downstream}
	}

	l2Lvl, ok := dramCfg.Levels["L2"]
	if !ok {
		return nil, fmt.Errorf("%w: config has no L2 level", config.ErrConfigParse)
	}

	boundary := cache.OnChipToOnChip
	if _, hasEdram := dramCfg.Levels["eDRAM"]; !hasEdram {
		boundary = cache.OnChipToOffChip
	}

	l2, err := buildCacheLevel("L2", l2Lvl, dramCfg, llc, boundary, cache.Normal, coreIDs, logger)
	if err != nil {
		return nil, err
	}

	l1Lvl, ok := dramCfg.Levels["L1D"]
	if !ok {
		return nil, fmt.Errorf("%w: config has no L1D level", config.ErrConfigParse)
	}

	mode := trace.Lenient
	if r.strict {
		mode = trace.Strict
	}

	sim := &simulation{collector: stats.New(), l2: l2, edram: edramCache, downstream: downstream}

	for i, path := range r.traces {
		l1, err := buildCacheLevel("L1D", l1Lvl, dramCfg, l2, cache.OnChipToOnChip, cache.Normal, nil, logger)
		if err != nil {
			return nil, err
		}

		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}

		src := traceSource{scanner: trace.NewReferenceScanner(f, mode)}
		sim.cores = append(sim.cores, core.New(i, l1, src))
		sim.l1s = append(sim.l1s, l1)
	}

	return sim, nil
}

// memsysLike is the capability shared by MemorySystem and Hybrid.
type memsysLike interface {
	Send(req *request.Request, clk uint64) bool
	Tick(clk uint64)
	PendingRequests() int
	Energy() controller.EnergyTotals
}

// memsysAdapter lets a memsysLike stand in directly as a Cache's NextLevel
// (the two interfaces already agree method-for-method; this exists only so
// the LLC cache level is optional without a type assertion at call sites).
type memsysAdapter struct {
	memsysLike
}

func buildMemorySystem(cfg *config.Config, logger *log.Logger) (*memsys.MemorySystem, *array.Decoder, error) {
	geo := array.Geometry{Channels: cfg.NumChannels, Ranks: cfg.NumRanks, Banks: cfg.NumBanks}
	root := array.New(geo)
	decoder := buildDecoder(cfg)

	timings := controller.Timings{
		TRCD: uint64(cfg.TRCD), TData: uint64(cfg.TData),
		TWL: uint64(cfg.TWL), TWR: uint64(cfg.TWR), TCL: uint64(cfg.TCL),
	}

	energy := controller.Energy{
		NsBitRd: cfg.NsBitRd, NsBitSet: cfg.NsBitSet, NsBitReset: cfg.NsBitReset,
		PjBitRd: cfg.PjBitRd, PjBitSet: cfg.PjBitSet, PjBitReset: cfg.PjBitReset,
	}

	decode := func(addr request.Word) controller.Target {
		dec := decoder.Decode(uint64(addr))
		return controller.Target{Rank: dec.Rank, Bank: dec.Bank, Partition: dec.Partition}
	}

	controllers := make([]controller.Controller, geo.Channels)

	for c := 0; c < geo.Channels; c++ {
		ch := root.Channel(c)

		ctrl, err := buildController(cfg, ch, geo, timings, energy, decode, logger)
		if err != nil {
			return nil, nil, err
		}

		controllers[c] = ctrl
	}

	return memsys.New(decoder, controllers), decoder, nil
}

func buildController(
	cfg *config.Config,
	ch *array.Node,
	geo array.Geometry,
	timings controller.Timings,
	energy controller.Energy,
	decode func(request.Word) controller.Target,
	logger *log.Logger,
) (controller.Controller, error) {
	switch cfg.MemControllerType {
	case "Base":
		return controller.NewPLPController(ch, geo, timings, controller.Base, decode,
			int64(cfg.THB), cfg.RAPL, cfg.PowerLimitEnabled, cfg.StarvFreeEnabled, energy, logger), nil
	case "PALP":
		return controller.NewPLPController(ch, geo, timings, controller.PALP, decode,
			int64(cfg.THB), cfg.RAPL, cfg.PowerLimitEnabled, cfg.StarvFreeEnabled, energy, logger), nil
	case "PALP-R":
		return controller.NewPLPController(ch, geo, timings, controller.PALPR, decode,
			int64(cfg.THB), cfg.RAPL, cfg.PowerLimitEnabled, cfg.StarvFreeEnabled, energy, logger), nil
	case "CP_Static":
		return controller.NewLASERController(ch, geo, timings, controller.CPStatic, decode, wrHighWatermarkDefault, wrLowWatermarkDefault, queueCapacityDefault, energy, logger), nil
	case "LASER_1":
		return controller.NewLASERController(ch, geo, timings, controller.LASER1, decode, wrHighWatermarkDefault, wrLowWatermarkDefault, queueCapacityDefault, energy, logger), nil
	case "LASER_2":
		return controller.NewLASERController(ch, geo, timings, controller.LASER2, decode, wrHighWatermarkDefault, wrLowWatermarkDefault, queueCapacityDefault, energy, logger), nil
	case "", "FCFS":
		return controller.NewFCFSController(ch, geo, timings, controller.FCFS, decode, energy, logger), nil
	default:
		return nil, fmt.Errorf("%w: unrecognised mem_controller_type %q", config.ErrConfigParse, cfg.MemControllerType)
	}
}

// The config format has no dedicated keys for LASER's queue capacity or
// write-mode watermarks (spec §6's table only lists the keys common to
// every controller family); these mirror the baseline controllers' fixed
// queue capacity and a conventional 80%/20% high/low watermark split.
const (
	queueCapacityDefault   = 64
	wrHighWatermarkDefault = 0.8
	wrLowWatermarkDefault  = 0.2
)

func buildDecoder(cfg *config.Config) *array.Decoder {
	var w array.Widths

	w[array.FieldCacheLine] = log2Ceil(cfg.BlockSize)
	w[array.FieldChannel] = log2Ceil(cfg.NumChannels)
	w[array.FieldBank] = log2Ceil(cfg.NumBanks)
	w[array.FieldCol] = log2Ceil(cfg.NumBitLinesPerTile)
	w[array.FieldRow] = log2Ceil(cfg.NumWordLinesPerTile)
	w[array.FieldTile] = log2Ceil(cfg.NumTiles)
	w[array.FieldPartition] = log2Ceil(cfg.NumParts)
	w[array.FieldRank] = log2Ceil(cfg.NumRanks)

	return array.NewDecoder(w)
}

// log2Ceil returns the number of bits needed to address n distinct values,
// treating n <= 1 as requiring zero bits (spec §4.1: every array dimension
// is a power of two).
func log2Ceil(n int) uint {
	if n <= 1 {
		return 0
	}

	return uint(bits.Len(uint(n - 1)))
}

// addressSpan is the first address not covered by a config's own array
// geometry: 2^(sum of every field width) bytes. The hybrid split uses this
// to place the PCM side directly above the DRAM side's address range.
func addressSpan(cfg *config.Config, decoder *array.Decoder) uint64 {
	total := uint64(0)

	for _, n := range []int{
		cfg.NumRanks, cfg.NumParts, cfg.NumTiles,
		cfg.NumWordLinesPerTile, cfg.NumBitLinesPerTile,
		cfg.NumBanks, cfg.NumChannels,
	} {
		total += uint64(log2Ceil(n))
	}

	total += uint64(log2Ceil(cfg.BlockSize))

	return uint64(1) << total
}

func buildCacheLevel(
	name string,
	lvl *config.CacheLevel,
	cfg *config.Config,
	next cache.NextLevel,
	boundary cache.Boundary,
	mode cache.Mode,
	sharedAcrossCores []int,
	logger *log.Logger,
) (*cache.Cache, error) {
	if lvl.WriteOnly {
		mode = cache.WriteOnly
	}

	blockSize := uint64(cfg.BlockSize)

	ccfg := cache.Config{
		Name:              name,
		Assoc:             lvl.Assoc,
		BlockSize:         blockSize,
		NumMSHRs:          lvl.NumMSHRs,
		NumWBEntries:      lvl.NumWBEntries,
		TagLookupLatency:  uint64(lvl.TagLookupLatency),
		Mode:              mode,
		Boundary:          boundary,
		NClksToTickNext:   tickRatio(cfg, boundary),
		SharedAcrossCores: sharedAcrossCores,
	}

	var tags cache.TagStore

	if lvl.Assoc > 0 {
		numSets := lvl.Size / (lvl.Assoc * cfg.BlockSize)
		ccfg.NumSets = numSets
		tags = cache.NewSetAssocTagStore(numSets, lvl.Assoc, blockSize)
	} else {
		numBlocks := lvl.Size / cfg.BlockSize
		ccfg.NumBlocks = numBlocks
		tags = cache.NewFATagStore(numBlocks, blockSize)
	}

	return cache.New(ccfg, tags, next, logger), nil
}

// tickRatio implements the decided Open Question of spec §9: on-chip hops
// always tick every cycle; only the LLC boundary uses the configured
// on_chip/off_chip frequency ratio.
func tickRatio(cfg *config.Config, boundary cache.Boundary) uint64 {
	if boundary == cache.OnChipToOnChip {
		return 1
	}

	if cfg.OffChipFrequency == 0 {
		return 1
	}

	ratio := cfg.OnChipFrequency / cfg.OffChipFrequency
	if ratio < 1 {
		ratio = 1
	}

	return uint64(ratio)
}

// traceSource adapts a trace.ReferenceScanner to core.Source.
type traceSource struct {
	scanner *trace.ReferenceScanner
}

func (s traceSource) Scan() (trace.Reference, error) {
	return s.scanner.Scan()
}

// drain ticks every component in the fixed topological order of spec §5
// (cores -> caches from L1 outward -> memory system) until every core is
// done and nothing remains in flight.
func (s *simulation) drain(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Fixed topological order of spec §5: cores, then caches from
		// L1 outward. L2's own Tick cascades into the LLC and the
		// memory system beneath it, each at its configured ratio.
		for _, c := range s.cores {
			c.Tick(s.clk)
		}

		for _, l1 := range s.l1s {
			l1.Tick(s.clk)
		}

		s.l2.Tick(s.clk)

		s.clk++

		if s.done() && s.pendingTotal() == 0 {
			return nil
		}

		if s.clk > drainWatchdog {
			return fmt.Errorf("%w: simulation did not drain within %d ticks", errWatchdog, drainWatchdog)
		}
	}
}

func (s *simulation) pendingTotal() int {
	n := 0
	for _, c := range s.cores {
		n += c.PendingRequests()
	}

	return n
}

// drainWatchdog bounds a run that never reaches trace exhaustion plus drain
// (spec §5 promises no real-time timeouts, but a CLI still needs to fail
// loudly instead of spinning forever on a misconfigured stack).
const drainWatchdog = 100_000_000

var errWatchdog = fmt.Errorf("watchdog")

// stringSlice is a repeatable string flag (flag.Value), since the standard
// library has no built-in multi-value flag type.
type stringSlice []string

func (s *stringSlice) String() string { return strings.Join(*s, ",") }

func (s *stringSlice) Set(v string) error {
	*s = append(*s, v)
	return nil
}
