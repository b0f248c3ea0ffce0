package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
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

// demoConfig is a tiny built-in configuration: one channel, one rank, two
// banks, an 8-entry direct-mapped L1D feeding a 32-entry (16-set) 2-way L2 over an
// FCFS-scheduled PCM array. It exists so `hymem demo` proves the stack
// wires together without any file on disk (adapted from the teacher's
// cmd.Demo(), which runs a tiny built-in program for the same reason).
const demoConfigText = `
block_size = 8
L1D_assoc = 1
L1D_size = 64
L1D_num_mshrs = 4
L1D_num_wb_entries = 4
L1D_tag_lookup_latency = 1
L2_assoc = 2
L2_size = 256
L2_num_mshrs = 8
L2_num_wb_entries = 8
L2_tag_lookup_latency = 2
num_of_channels = 1
num_of_ranks = 1
num_of_banks = 2
num_of_parts = 2
num_of_tiles = 1
num_of_word_lines_per_tile = 1
num_of_bit_lines_per_tile = 1
tRCD = 2
tData = 1
tWL = 1
tWR = 1
tCL = 2
mem_controller_type = Base
`

const demoTraceText = `0x0 R
0x8 W
0x0 R
0x10 R
`

// Demo runs the built-in trace through the built-in configuration.
func Demo() cli.Command {
	return new(demo)
}

type demo struct{}

func (demo) Description() string {
	return "run a tiny built-in trace through a built-in configuration"
}

func (demo) Usage(out io.Writer) error {
	_, err := fmt.Fprintln(out, `demo

Run a small built-in trace through a small built-in configuration and
print the resulting statistics, without reading any files.`)

	return err
}

func (demo) FlagSet() *cli.FlagSet {
	return flag.NewFlagSet("demo", flag.ExitOnError)
}

func (demo) Run(ctx context.Context, _ []string, out io.Writer, logger *log.Logger) int {
	cfg := config.New()

	if err := config.Parse(cfg, io.NopCloser(strings.NewReader(demoConfigText)), ""); err != nil {
		logger.Error("demo config parse failed", "err", err)
		return 1
	}

	geo := array.Geometry{Channels: cfg.NumChannels, Ranks: cfg.NumRanks, Banks: cfg.NumBanks}
	root := array.New(geo)

	var w array.Widths
	w[array.FieldCacheLine] = 3 // block_size = 8
	w[array.FieldBank] = 1      // num_of_banks = 2
	w[array.FieldPartition] = 1 // num_of_parts = 2

	decoder := array.NewDecoder(w)
	decode := func(addr request.Word) controller.Target {
		dec := decoder.Decode(uint64(addr))
		return controller.Target{Rank: dec.Rank, Bank: dec.Bank, Partition: dec.Partition}
	}

	timings := controller.Timings{
		TRCD: uint64(cfg.TRCD), TData: uint64(cfg.TData),
		TWL: uint64(cfg.TWL), TWR: uint64(cfg.TWR), TCL: uint64(cfg.TCL),
	}

	energy := controller.Energy{
		PjBitRd: cfg.PjBitRd, PjBitSet: cfg.PjBitSet, PjBitReset: cfg.PjBitReset,
		NsBitRd: cfg.NsBitRd, NsBitSet: cfg.NsBitSet, NsBitReset: cfg.NsBitReset,
	}

	ctrl := controller.NewFCFSController(root.Channel(0), geo, timings, controller.FCFS, decode, energy, logger)
	ms := memsys.New(decoder, []controller.Controller{ctrl})

	l2Lvl := cfg.Levels["L2"]
	l2 := cache.New(cache.Config{
		Name: "L2", Assoc: l2Lvl.Assoc, NumSets: l2Lvl.Size / (l2Lvl.Assoc * cfg.BlockSize),
		BlockSize: uint64(cfg.BlockSize), NumMSHRs: l2Lvl.NumMSHRs, NumWBEntries: l2Lvl.NumWBEntries,
		TagLookupLatency: uint64(l2Lvl.TagLookupLatency), Boundary: cache.OnChipToOffChip, NClksToTickNext: 1,
	}, cache.NewSetAssocTagStore(l2Lvl.Size/(l2Lvl.Assoc*cfg.BlockSize), l2Lvl.Assoc, uint64(cfg.BlockSize)), ms, logger)

	l1Lvl := cfg.Levels["L1D"]
	l1 := cache.New(cache.Config{
		Name: "L1D", Assoc: l1Lvl.Assoc, NumSets: l1Lvl.Size / (l1Lvl.Assoc * cfg.BlockSize),
		BlockSize: uint64(cfg.BlockSize), NumMSHRs: l1Lvl.NumMSHRs, NumWBEntries: l1Lvl.NumWBEntries,
		TagLookupLatency: uint64(l1Lvl.TagLookupLatency), Boundary: cache.OnChipToOnChip, NClksToTickNext: 1,
	}, cache.NewSetAssocTagStore(l1Lvl.Size/(l1Lvl.Assoc*cfg.BlockSize), l1Lvl.Assoc, uint64(cfg.BlockSize)), l2, logger)

	src := traceSource{scanner: trace.NewReferenceScanner(strings.NewReader(demoTraceText), trace.Lenient)}
	cpu := core.New(0, l1, src)

	collector := stats.New()

	clk := uint64(0)
	for !cpu.Done() {
		cpu.Tick(clk)
		l1.Tick(clk)
		l2.Tick(clk)
		clk++

		if clk > 10_000 {
			logger.Error("demo did not drain")
			return 1
		}
	}

	collector.AddCounter("retired", cpu.Retired())
	collector.AddCounter("l1d_hits", l1.Hits())
	collector.AddCounter("l1d_misses", l1.Misses())
	collector.AddCounter("l2_hits", l2.Hits())
	collector.AddCounter("l2_misses", l2.Misses())
	collector.AddCounter("ticks", clk)

	msEnergy := ms.Energy()
	collector.SetGauge("rd_energy_pj", msEnergy.RdPJ)
	collector.SetGauge("set_energy_pj", msEnergy.SetPJ)
	collector.SetGauge("reset_energy_pj", msEnergy.ResetPJ)

	if _, err := collector.WriteTo(out); err != nil {
		logger.Error("demo stats write failed", "err", err)
		return 1
	}

	return 0
}
