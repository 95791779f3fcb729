package boost

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/luaweave/internal/domain"
	"github.com/dshills/luaweave/internal/enhance"
)

//go:embed templates/*.lua
var templateFS embed.FS

// Embedded delegate template names, one per interception point kind.
const (
	tmplInstanceMethod             = "instance_method"
	tmplInstanceMethodOverrideArgs = "instance_method_override_args"
	tmplStaticMethod               = "static_method"
	tmplStaticMethodOverrideArgs   = "static_method_override_args"
	tmplConstructor                = "constructor"
)

// Support chunk names. These stage shared runtime pieces the delegates
// depend on and must run before any delegate chunk.
const (
	supportAssist = "assist"
	supportResult = "result"
)

// interceptorPlaceholder is replaced with the point's interceptor name
// when a template is rendered.
const interceptorPlaceholder = "__TARGET_INTERCEPTOR__"

// ErrTemplateUnavailable is returned when an embedded delegate template
// or support resource cannot be loaded or compiled. This is fatal for
// the definition that needs it.
var ErrTemplateUnavailable = errors.New("delegate template unavailable")

// renderDelegate compiles the named template with the interceptor bound
// in. The chunk carries the delegate's internal name.
func renderDelegate(template, interceptor string) (*domain.Chunk, error) {
	src, err := templateFS.ReadFile("templates/" + template + ".lua")
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", template, errors.Join(ErrTemplateUnavailable, err))
	}

	bound := strings.ReplaceAll(string(src), interceptorPlaceholder, interceptor)
	chunk, err := domain.CompileChunk(enhance.InternalDelegateName(interceptor), bound)
	if err != nil {
		return nil, fmt.Errorf("compile delegate for %q: %w", interceptor, errors.Join(ErrTemplateUnavailable, err))
	}
	return chunk, nil
}

// loadSupport compiles a fixed support chunk.
func loadSupport(name string) (*domain.Chunk, error) {
	src, err := templateFS.ReadFile("templates/" + name + ".lua")
	if err != nil {
		return nil, fmt.Errorf("support chunk %s: %w", name, errors.Join(ErrTemplateUnavailable, err))
	}
	chunk, err := domain.CompileChunk(name, string(src))
	if err != nil {
		return nil, fmt.Errorf("compile support chunk %s: %w", name, errors.Join(ErrTemplateUnavailable, err))
	}
	return chunk, nil
}
