package main

import (
	"fmt"
	"os"

	"github.com/ApoorvaMN/SWLTP/src/cachesystem"
	"github.com/ApoorvaMN/SWLTP/src/esim"
	"github.com/ApoorvaMN/SWLTP/src/isa/mips"
	"github.com/ApoorvaMN/SWLTP/src/isa/x86"
	"github.com/ApoorvaMN/SWLTP/src/kernel"
	"github.com/ApoorvaMN/SWLTP/src/misc"
)

func main() {
	command_line_parser := InitCommandLineParser()
	command_line_parser.Parse(os.Args)

	if command_line_parser.IsArgSet("help") || len(command_line_parser.Args()) == 0 {
		fmt.Printf("usage: swltp [options] <elf binary> [guest args...]\n\n")
		fmt.Printf("%s", command_line_parser.StringifyHelpMsgs())
		return
	}

	command_line_validator := new(misc.CommandLineValidator)
	command_line_validator.Init(command_line_parser)
	command_line_validator.Validate()

	engine := new(esim.Engine)
	engine.Init()

	var arch kernel.Arch
	switch command_line_parser.StringParameter("isa") {
	case "mips":
		mips_arch := new(mips.Arch)
		mips_arch.Init()
		arch = mips_arch
	case "x86":
		x86_arch := new(x86.Arch)
		x86_arch.Init()
		arch = x86_arch
	}

	emu := new(kernel.Emu)
	emu.Init(engine, arch)
	emu.SyscallDebug().Init(command_line_parser.BoolParameter("syscall_debug"))
	emu.LoaderDebug().Init(command_line_parser.BoolParameter("loader_debug"))
	emu.SignalDebug().Init(command_line_parser.BoolParameter("signal_debug"))
	emu.IsaDebug().Init(command_line_parser.BoolParameter("isa_debug"))
	emu.SetMaxInstructions(uint64(command_line_parser.IntParameter("max_instructions")))

	// Timing mode drives the coherent memory hierarchy with every data
	// reference; the functional image is still served by guest memory.
	var system *cachesystem.System
	if command_line_parser.BoolParameter("timing") {
		system = InitMemorySystem(engine, command_line_parser)
		l1 := system.Mods()[0]
		emu.SetMemAccessFunc(func(ctx *kernel.Context, addr uint32, write bool) {
			if write {
				system.Store(l1, addr, nil)
			} else {
				system.Load(l1, addr, nil)
			}
		})
	}

	args := command_line_parser.Args()
	emu.LoadProgram(
		args[0],
		args[1:],
		os.Environ(),
		command_line_parser.StringParameter("cwd"),
		command_line_parser.StringParameter("stdin_file"),
		command_line_parser.StringParameter("stdout_file"),
	)

	for !emu.IsFinished() {
		emu.Run()
	}
	engine.RunUntilIdle()

	if system != nil {
		DumpStats(system, command_line_parser.StringParameter("stats_filepath"))
	}

	os.Exit(emu.ExitCode())
}

func InitCommandLineParser() *misc.CommandLineParser {
	command_line_parser := new(misc.CommandLineParser)
	command_line_parser.Init()

	command_line_parser.AddOption(misc.BOOL, "help", "false", "print this help message")

	command_line_parser.AddOption(misc.STRING, "isa", "mips", "guest ISA (mips|x86)")
	command_line_parser.AddOption(misc.STRING, "cwd", "", "guest working directory")
	command_line_parser.AddOption(misc.STRING, "stdin_file", "", "redirect guest stdin from a file")
	command_line_parser.AddOption(misc.STRING, "stdout_file", "", "redirect guest stdout to a file")
	command_line_parser.AddOption(misc.INT, "max_instructions", "0",
		"abort after this many guest instructions (0 = unlimited)")

	command_line_parser.AddOption(misc.BOOL, "syscall_debug", "false", "trace system calls")
	command_line_parser.AddOption(misc.BOOL, "loader_debug", "false", "trace program loading")
	command_line_parser.AddOption(misc.BOOL, "signal_debug", "false", "trace signal delivery")
	command_line_parser.AddOption(misc.BOOL, "isa_debug", "false", "trace instruction faults")

	command_line_parser.AddOption(misc.BOOL, "timing", "false",
		"model the coherent memory hierarchy")
	command_line_parser.AddOption(misc.INT, "l1_sets", "128", "L1 cache sets")
	command_line_parser.AddOption(misc.INT, "l1_assoc", "2", "L1 cache associativity")
	command_line_parser.AddOption(misc.INT, "l1_block_size", "64", "L1 cache block size in bytes")
	command_line_parser.AddOption(misc.INT, "l1_latency", "2", "L1 access latency in cycles")
	command_line_parser.AddOption(misc.INT, "l2_sets", "512", "L2 cache sets")
	command_line_parser.AddOption(misc.INT, "l2_assoc", "8", "L2 cache associativity")
	command_line_parser.AddOption(misc.INT, "l2_block_size", "64", "L2 cache block size in bytes")
	command_line_parser.AddOption(misc.INT, "l2_latency", "10", "L2 access latency in cycles")
	command_line_parser.AddOption(misc.INT, "mem_sets", "1024", "main-memory directory sets")
	command_line_parser.AddOption(misc.INT, "mem_assoc", "16", "main-memory directory associativity")
	command_line_parser.AddOption(misc.INT, "mem_latency", "100", "main-memory latency in cycles")
	command_line_parser.AddOption(misc.INT, "net_width", "8", "interconnect width in bytes/cycle")
	command_line_parser.AddOption(misc.INT, "random_seed", "1", "retry-latency random seed")
	command_line_parser.AddOption(misc.STRING, "stats_filepath", "",
		"write memory-hierarchy statistics to this file (default stdout)")

	return command_line_parser
}

// InitMemorySystem builds the default two-level hierarchy: one L1 above a
// shared L2 above main memory.
func InitMemorySystem(engine *esim.Engine, parser *misc.CommandLineParser) *cachesystem.System {
	debug := new(misc.Debug)
	debug.Init(false)

	system := new(cachesystem.System)
	system.Init(engine, debug, int64(parser.IntParameter("random_seed")))

	l1 := system.NewMod("l1", cachesystem.ModKindCache,
		parser.IntParameter("l1_sets"), parser.IntParameter("l1_assoc"),
		parser.IntParameter("l1_block_size"), parser.IntParameter("l1_latency"))
	l2 := system.NewMod("l2", cachesystem.ModKindCache,
		parser.IntParameter("l2_sets"), parser.IntParameter("l2_assoc"),
		parser.IntParameter("l2_block_size"), parser.IntParameter("l2_latency"))
	mm := system.NewMod("mem", cachesystem.ModKindMainMemory,
		parser.IntParameter("mem_sets"), parser.IntParameter("mem_assoc"),
		parser.IntParameter("l2_block_size"), parser.IntParameter("mem_latency"))

	width := parser.IntParameter("net_width")
	net_l1_l2 := system.NewNet("net-l1-l2", width, 4)
	net_l2_mm := system.NewNet("net-l2-mem", width, 4)
	system.ConnectNet(net_l1_l2, l2, []*cachesystem.Mod{l1})
	system.ConnectNet(net_l2_mm, mm, []*cachesystem.Mod{l2})
	system.Finalize()

	return system
}

// DumpStats writes the per-module counters to the stats file, or stdout
// when none is configured.
func DumpStats(system *cachesystem.System, stats_filepath string) {
	lines := make([]string, 0)
	for _, mod := range system.Mods() {
		lines = append(lines, mod.StatsLines()...)
		lines = append(lines, "")
	}

	if stats_filepath == "" {
		for _, line := range lines {
			fmt.Println(line)
		}
		return
	}

	file_dumper := new(misc.FileDumper)
	file_dumper.Init(stats_filepath)
	file_dumper.WriteLines(lines)
}
