package misc

import (
	"os"
	"path/filepath"
	"strings"
)

type FileDumper struct {
	filepath string
}

func (this *FileDumper) Init(filepath_ string) {
	this.filepath = filepath_
}

func (this *FileDumper) WriteLines(lines []string) {
	dirpath := filepath.Dir(this.filepath)
	if mkdir_err := os.MkdirAll(dirpath, 0o755); mkdir_err != nil {
		panic(mkdir_err)
	}

	content := strings.Join(lines, "\n") + "\n"
	if write_err := os.WriteFile(this.filepath, []byte(content), 0o644); write_err != nil {
		panic(write_err)
	}
}
