// Package errors provides centralized error handling with component and
// category metadata for structured logging and the control-plane status API.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"time"
)

// Category represents the type of error for better grouping.
type Category string

const (
	CategoryValidation    Category = "validation"
	CategoryConfiguration Category = "configuration"
	CategoryAudio         Category = "audio-processing"
	CategoryDevice        Category = "audio-device"
	CategoryCapture       Category = "audio-capture"
	CategoryPlayback      Category = "audio-playback"
	CategoryResampler     Category = "resampler"
	CategoryFileIO        Category = "file-io"
	CategoryNetwork       Category = "network"
	CategoryState         Category = "state"
	CategoryConflict      Category = "conflict"
	CategoryNotFound      Category = "not-found"
	CategoryGeneric       Category = "generic"
)

// ComponentUnknown is used when the component is not set.
const ComponentUnknown = "unknown"

// EnhancedError wraps an error with component, category and context data.
type EnhancedError struct {
	Err       error
	Comp      string
	Cat       Category
	Ctx       map[string]any
	Timestamp time.Time
}

// Error implements the error interface.
func (ee *EnhancedError) Error() string {
	return ee.Err.Error()
}

// Unwrap implements the error unwrapping interface.
func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is matches two enhanced errors by category, and otherwise defers to the
// wrapped error.
func (ee *EnhancedError) Is(target error) bool {
	if ee2, ok := target.(*EnhancedError); ok {
		return ee.Cat == ee2.Cat
	}
	return stderrors.Is(ee.Err, target)
}

// GetComponent returns the component name.
func (ee *EnhancedError) GetComponent() string {
	if ee.Comp == "" {
		return ComponentUnknown
	}
	return ee.Comp
}

// GetCategory returns the error category.
func (ee *EnhancedError) GetCategory() Category {
	return ee.Cat
}

// GetContext returns a copy of the context data.
func (ee *EnhancedError) GetContext() map[string]any {
	if ee.Ctx == nil {
		return nil
	}
	out := make(map[string]any, len(ee.Ctx))
	maps.Copy(out, ee.Ctx)
	return out
}

// LogAttrs flattens the metadata into key-value pairs for slog.
func (ee *EnhancedError) LogAttrs() []any {
	attrs := []any{"component", ee.GetComponent(), "category", string(ee.Cat)}
	for k, v := range ee.Ctx {
		attrs = append(attrs, k, v)
	}
	return attrs
}

// Builder assembles an EnhancedError.
type Builder struct {
	err      error
	comp     string
	category Category
	context  map[string]any
}

// New starts building from an existing error.
func New(err error) *Builder {
	return &Builder{err: err, category: CategoryGeneric}
}

// Newf starts building from a formatted message.
func Newf(format string, args ...any) *Builder {
	return New(fmt.Errorf(format, args...))
}

// Wrap is an alias of New for call sites that read better with it.
func Wrap(err error) *Builder {
	return New(err)
}

// Component sets the component name.
func (b *Builder) Component(component string) *Builder {
	b.comp = component
	return b
}

// Category sets the error category.
func (b *Builder) Category(category Category) *Builder {
	b.category = category
	return b
}

// Context attaches a key-value pair.
func (b *Builder) Context(key string, value any) *Builder {
	if b.context == nil {
		b.context = make(map[string]any)
	}
	b.context[key] = value
	return b
}

// Build finalizes the error.
func (b *Builder) Build() *EnhancedError {
	return &EnhancedError{
		Err:       b.err,
		Comp:      b.comp,
		Cat:       b.category,
		Ctx:       b.context,
		Timestamp: time.Now(),
	}
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// HasCategory reports whether err carries the given category.
func HasCategory(err error, cat Category) bool {
	var ee *EnhancedError
	return As(err, &ee) && ee.Cat == cat
}
