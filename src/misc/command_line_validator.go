package misc

import (
	"errors"
	"fmt"
)

type CommandLineValidator struct {
	command_line_parser *CommandLineParser
}

func (this *CommandLineValidator) Init(command_line_parser *CommandLineParser) {
	this.command_line_parser = command_line_parser
}

func (this *CommandLineValidator) Validate() {
	isa := this.command_line_parser.StringParameter("isa")
	if isa != "mips" && isa != "x86" {
		err := fmt.Errorf("isa %s is not supported", isa)
		panic(err)
	}

	if this.command_line_parser.IntParameter("max_instructions") < 0 {
		err := errors.New("max_instructions < 0")
		panic(err)
	}

	if this.command_line_parser.IntParameter("l1_sets") <= 0 {
		err := errors.New("l1_sets <= 0")
		panic(err)
	}

	if this.command_line_parser.IntParameter("l1_assoc") <= 0 {
		err := errors.New("l1_assoc <= 0")
		panic(err)
	}

	if this.command_line_parser.IntParameter("l1_block_size") <= 0 {
		err := errors.New("l1_block_size <= 0")
		panic(err)
	}

	if this.command_line_parser.IntParameter("l1_latency") <= 0 {
		err := errors.New("l1_latency <= 0")
		panic(err)
	}

	if this.command_line_parser.IntParameter("l2_sets") <= 0 {
		err := errors.New("l2_sets <= 0")
		panic(err)
	}

	if this.command_line_parser.IntParameter("l2_assoc") <= 0 {
		err := errors.New("l2_assoc <= 0")
		panic(err)
	}

	if this.command_line_parser.IntParameter("l2_block_size") <
		this.command_line_parser.IntParameter("l1_block_size") {
		err := errors.New("l2_block_size < l1_block_size")
		panic(err)
	}

	if this.command_line_parser.IntParameter("l2_latency") <= 0 {
		err := errors.New("l2_latency <= 0")
		panic(err)
	}

	if this.command_line_parser.IntParameter("mem_latency") <= 0 {
		err := errors.New("mem_latency <= 0")
		panic(err)
	}

	if this.command_line_parser.IntParameter("net_width") <= 0 {
		err := errors.New("net_width <= 0")
		panic(err)
	}
}
