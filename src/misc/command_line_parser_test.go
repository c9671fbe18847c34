package misc

import "testing"

func newTestParser() *CommandLineParser {
	parser := new(CommandLineParser)
	parser.Init()
	parser.AddOption(INT, "count", "3", "a counter")
	parser.AddOption(STRING, "name", "default", "a name")
	parser.AddOption(BOOL, "verbose", "false", "chattiness")

	return parser
}

func TestParseDefaults(t *testing.T) {
	parser := newTestParser()
	parser.Parse([]string{"prog"})

	if parser.IntParameter("count") != 3 {
		t.Fatalf("default int: got %d", parser.IntParameter("count"))
	}
	if parser.StringParameter("name") != "default" {
		t.Fatalf("default string: got %q", parser.StringParameter("name"))
	}
	if parser.BoolParameter("verbose") {
		t.Fatalf("default bool should be false")
	}
	if parser.IsArgSet("count") {
		t.Fatalf("unset option reported as set")
	}
}

func TestParseOptionsAndPositionals(t *testing.T) {
	parser := newTestParser()
	parser.Parse([]string{"prog", "--count", "7", "--verbose", "input.elf", "--name=guest", "arg1"})

	if parser.IntParameter("count") != 7 {
		t.Fatalf("int option: got %d", parser.IntParameter("count"))
	}
	if !parser.BoolParameter("verbose") {
		t.Fatalf("bool option not set")
	}
	if parser.StringParameter("name") != "guest" {
		t.Fatalf("string option: got %q", parser.StringParameter("name"))
	}

	args := parser.Args()
	if len(args) != 2 || args[0] != "input.elf" || args[1] != "arg1" {
		t.Fatalf("positional args: got %v", args)
	}
}

func TestUnknownOptionPanics(t *testing.T) {
	parser := newTestParser()

	defer func() {
		if recover() == nil {
			t.Fatalf("unknown option must panic")
		}
	}()

	parser.Parse([]string{"prog", "--bogus", "1"})
}
