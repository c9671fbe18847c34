package misc

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type OptionType int

const (
	INT OptionType = iota
	STRING
	BOOL
)

type Option struct {
	option_type   OptionType
	name          string
	default_value string
	value         string
	is_set        bool
	help_msg      string
}

type CommandLineParser struct {
	options map[string]*Option
	args    []string
}

func (this *CommandLineParser) Init() {
	this.options = make(map[string]*Option)
	this.args = make([]string, 0)
}

func (this *CommandLineParser) AddOption(
	option_type OptionType,
	name string,
	default_value string,
	help_msg string,
) {
	if _, found := this.options[name]; found {
		err := fmt.Errorf("option %s is already registered", name)
		panic(err)
	}

	option := new(Option)
	option.option_type = option_type
	option.name = name
	option.default_value = default_value
	option.value = default_value
	option.help_msg = help_msg

	this.options[name] = option
}

func (this *CommandLineParser) Parse(args []string) {
	i := 1
	for i < len(args) {
		arg := args[i]

		if !strings.HasPrefix(arg, "--") {
			this.args = append(this.args, arg)
			i++
			continue
		}

		name := strings.TrimPrefix(arg, "--")
		if pos := strings.Index(name, "="); pos >= 0 {
			value := name[pos+1:]
			name = name[:pos]
			this.setOption(name, value)
			i++
			continue
		}

		option, found := this.options[name]
		if !found {
			err := fmt.Errorf("unknown option --%s", name)
			panic(err)
		}

		if option.option_type == BOOL {
			this.setOption(name, "true")
			i++
			continue
		}

		if i+1 >= len(args) {
			err := fmt.Errorf("option --%s requires a value", name)
			panic(err)
		}

		this.setOption(name, args[i+1])
		i += 2
	}
}

func (this *CommandLineParser) setOption(name string, value string) {
	option, found := this.options[name]
	if !found {
		err := fmt.Errorf("unknown option --%s", name)
		panic(err)
	}

	option.value = value
	option.is_set = true
}

func (this *CommandLineParser) IsArgSet(name string) bool {
	option, found := this.options[name]
	if !found {
		err := fmt.Errorf("unknown option --%s", name)
		panic(err)
	}

	return option.is_set
}

func (this *CommandLineParser) Args() []string {
	return this.args
}

func (this *CommandLineParser) IntParameter(name string) int {
	option, found := this.options[name]
	if !found {
		err := fmt.Errorf("unknown option --%s", name)
		panic(err)
	} else if option.option_type != INT {
		err := fmt.Errorf("option --%s is not an int option", name)
		panic(err)
	}

	value, parse_err := strconv.Atoi(option.value)
	if parse_err != nil {
		panic(parse_err)
	}

	return value
}

func (this *CommandLineParser) StringParameter(name string) string {
	option, found := this.options[name]
	if !found {
		err := fmt.Errorf("unknown option --%s", name)
		panic(err)
	} else if option.option_type != STRING {
		err := fmt.Errorf("option --%s is not a string option", name)
		panic(err)
	}

	return option.value
}

func (this *CommandLineParser) BoolParameter(name string) bool {
	option, found := this.options[name]
	if !found {
		err := fmt.Errorf("unknown option --%s", name)
		panic(err)
	} else if option.option_type != BOOL {
		err := fmt.Errorf("option --%s is not a bool option", name)
		panic(err)
	}

	return option.value == "true" || option.value == "1"
}

func (this *CommandLineParser) StringifyArgs() string {
	return strings.Join(this.args, " ")
}

func (this *CommandLineParser) StringifyOptions() string {
	names := this.sortedNames()

	lines := make([]string, 0, len(names))
	for _, name := range names {
		option := this.options[name]
		lines = append(lines, fmt.Sprintf("--%s=%s", option.name, option.value))
	}

	return strings.Join(lines, "\n")
}

func (this *CommandLineParser) StringifyHelpMsgs() string {
	names := this.sortedNames()

	builder := new(strings.Builder)
	for _, name := range names {
		option := this.options[name]
		builder.WriteString(fmt.Sprintf("--%s (default: %s)\n    %s\n",
			option.name, option.default_value, option.help_msg))
	}

	return builder.String()
}

func (this *CommandLineParser) sortedNames() []string {
	names := make([]string, 0, len(this.options))
	for name := range this.options {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}
