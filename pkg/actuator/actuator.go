// Package actuator turns function calls from the voice service into local
// side effects on the robot.
//
// A Dispatcher holds a set of Tools. Each tool has the JSON-schema
// descriptor the service sees in the session and a handler that validates
// the raw argument string and acts on it.
package actuator

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-deskman/pkg/realtime"
)

var (
	// ErrUnknownFunction indicates a call to a function that is not registered.
	ErrUnknownFunction = errors.New("actuator: unknown function")

	// ErrBadArguments indicates the arguments could not be decoded or failed
	// validation.
	ErrBadArguments = errors.New("actuator: bad arguments")

	// ErrDuplicateTool indicates a tool name was registered twice.
	ErrDuplicateTool = errors.New("actuator: duplicate tool")
)

// Tool is a function the voice service can call.
type Tool struct {
	Name        string
	Description string

	// Parameters is the JSON schema of the arguments object.
	Parameters map[string]any

	// Handler receives the raw JSON argument string and returns the text
	// reported back to the service. Argument problems must wrap
	// ErrBadArguments.
	Handler func(arguments string) (string, error)
}

// Descriptor returns the session descriptor for the tool.
func (t Tool) Descriptor() realtime.Tool {
	return realtime.Tool{
		Type:        "function",
		Name:        t.Name,
		Description: t.Description,
		Parameters:  t.Parameters,
	}
}

// CallStats counts outcomes for one function.
type CallStats struct {
	Calls    int64 `json:"calls"`
	Failures int64 `json:"failures"`
}

// Dispatcher routes function calls to registered tools. It is safe for
// concurrent use.
type Dispatcher struct {
	logger *slog.Logger

	mu    sync.RWMutex
	tools map[string]Tool
	order []string
	stats map[string]*CallStats
}

// NewDispatcher creates a dispatcher with the given tools registered.
func NewDispatcher(logger *slog.Logger, tools ...Tool) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		logger: logger.With("component", "actuator"),
		tools:  make(map[string]Tool),
		stats:  make(map[string]*CallStats),
	}
	for _, t := range tools {
		if err := d.Register(t); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Register adds a tool.
func (d *Dispatcher) Register(t Tool) error {
	if t.Name == "" || t.Handler == nil {
		return fmt.Errorf("actuator: tool needs a name and a handler")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.tools[t.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name)
	}
	d.tools[t.Name] = t
	d.order = append(d.order, t.Name)
	d.stats[t.Name] = &CallStats{}
	return nil
}

// Dispatch runs the named function with its raw JSON arguments. Unknown
// names return ErrUnknownFunction and invalid arguments ErrBadArguments;
// neither has any side effect.
func (d *Dispatcher) Dispatch(name, arguments string) (string, error) {
	d.mu.RLock()
	t, ok := d.tools[name]
	d.mu.RUnlock()

	if !ok {
		d.logger.Warn("unknown function call", "function", name)
		return "", fmt.Errorf("%w: %q", ErrUnknownFunction, name)
	}

	output, err := t.Handler(arguments)

	d.mu.Lock()
	s := d.stats[name]
	s.Calls++
	if err != nil {
		s.Failures++
	}
	d.mu.Unlock()

	if err != nil {
		d.logger.Warn("function call failed", "function", name, "arguments", arguments, "error", err)
		return "", err
	}
	d.logger.Info("function call", "function", name, "arguments", arguments, "output", output)
	return output, nil
}

// Tools returns the session descriptors in registration order.
func (d *Dispatcher) Tools() []realtime.Tool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]realtime.Tool, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.tools[name].Descriptor())
	}
	return out
}

// Has reports whether name is registered.
func (d *Dispatcher) Has(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.tools[name]
	return ok
}

// Stats returns per-function counters keyed by name.
func (d *Dispatcher) Stats() map[string]CallStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]CallStats, len(d.stats))
	for name, s := range d.stats {
		out[name] = *s
	}
	return out
}
