package domain

import (
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// Chunk is a compiled Lua chunk: the binary form raw injection works with.
type Chunk struct {
	// Name is the global name the chunk is installed under.
	Name string

	// Proto is the compiled function prototype.
	Proto *lua.FunctionProto
}

// CompileChunk compiles Lua source into a named chunk without executing it.
func CompileChunk(name, source string) (*Chunk, error) {
	parsed, err := parse.Parse(strings.NewReader(source), name)
	if err != nil {
		return nil, fmt.Errorf("parsing chunk %s: %w", name, err)
	}
	proto, err := lua.Compile(parsed, name)
	if err != nil {
		return nil, fmt.Errorf("compiling chunk %s: %w", name, err)
	}
	return &Chunk{Name: name, Proto: proto}, nil
}
