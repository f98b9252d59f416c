package dyncog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// scriptMeta mirrors the Meta() payload of a script cog.
type scriptMeta struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// messageAction mirrors the OnMessage() payload of a script cog.
type messageAction struct {
	Reply  string `json:"reply"`
	Delete bool   `json:"delete"`
}

// scriptCog is one interpreted script. Calls into the interpreter run under
// the mutex; yaegi interpreters are not goroutine safe.
type scriptCog struct {
	mu       sync.Mutex
	pkg      string
	interp   *interp.Interpreter
	meta     scriptMeta
	disabled bool
}

// loadScript evaluates a script file. The file name must match the script's
// package name, and the package must export Meta and OnMessage.
func loadScript(path string) (*scriptCog, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	pkg := strings.TrimSuffix(filepath.Base(path), ".go")
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("stdlib symbols: %w", err)
	}
	if _, err := i.Eval(string(source)); err != nil {
		return nil, fmt.Errorf("eval script: %w", err)
	}

	s := &scriptCog{pkg: pkg, interp: i}
	meta, err := s.callMeta()
	if err != nil {
		return nil, err
	}
	if meta.Name == "" {
		meta.Name = pkg
	}
	s.meta = meta

	if _, ok := s.lookup("OnMessage"); !ok {
		return nil, fmt.Errorf("script %s missing OnMessage", pkg)
	}
	return s, nil
}

func (s *scriptCog) callMeta() (scriptMeta, error) {
	fn, ok := s.lookup("Meta")
	if !ok {
		return scriptMeta{}, fmt.Errorf("script %s missing Meta", s.pkg)
	}
	result, err := s.call(fn)
	if err != nil {
		return scriptMeta{}, err
	}
	var meta scriptMeta
	if err := decodeJSON(result, &meta); err != nil {
		return scriptMeta{}, fmt.Errorf("decode Meta result: %w", err)
	}
	return meta, nil
}

// onMessage runs the script's handler for one message payload. A nil result
// means the script takes no action.
func (s *scriptCog) onMessage(payload map[string]interface{}) (*messageAction, error) {
	s.mu.Lock()
	if s.disabled {
		s.mu.Unlock()
		return nil, nil
	}
	s.mu.Unlock()

	fn, ok := s.lookup("OnMessage")
	if !ok {
		return nil, fmt.Errorf("script %s missing OnMessage", s.pkg)
	}
	result, err := s.call(fn, payload)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}

	action := &messageAction{}
	if err := decodeJSON(result, action); err != nil {
		return nil, fmt.Errorf("decode OnMessage result: %w", err)
	}
	return action, nil
}

func (s *scriptCog) lookup(name string) (reflect.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, err := s.interp.Eval(fmt.Sprintf("%s.%s", s.pkg, name))
	if err != nil {
		return reflect.Value{}, false
	}
	return value, value.IsValid()
}

func (s *scriptCog) call(fn reflect.Value, args ...interface{}) (interface{}, error) {
	if !fn.IsValid() {
		return nil, fmt.Errorf("script function missing")
	}
	inputs := make([]reflect.Value, 0, len(args))
	for _, arg := range args {
		inputs = append(inputs, reflect.ValueOf(arg))
	}
	s.mu.Lock()
	outputs := fn.Call(inputs)
	s.mu.Unlock()
	if len(outputs) == 0 {
		return nil, nil
	}
	if len(outputs) == 1 {
		return outputs[0].Interface(), nil
	}
	result := outputs[0].Interface()
	if err := asError(outputs[1]); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *scriptCog) update(from *scriptCog) {
	s.mu.Lock()
	s.pkg = from.pkg
	s.interp = from.interp
	s.meta = from.meta
	s.disabled = false
	s.mu.Unlock()
}

func (s *scriptCog) disable() {
	s.mu.Lock()
	s.disabled = true
	s.mu.Unlock()
}

func (s *scriptCog) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.disabled
}

func asError(value reflect.Value) error {
	if !value.IsValid() || value.IsNil() {
		return nil
	}
	if err, ok := value.Interface().(error); ok {
		return err
	}
	return fmt.Errorf("script error")
}

func decodeJSON(value interface{}, out interface{}) error {
	if value == nil {
		return fmt.Errorf("script returned empty")
	}
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
