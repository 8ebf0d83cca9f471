// Package sandbox evaluates world-content expressions against an explicit, closed set of
// bindings. Each evaluation runs in a fresh Lua state with no standard libraries loaded, so
// the only names an expression can reach are the ones the caller supplied.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// DefaultTimeout bounds a single evaluation when no timeout is configured
const DefaultTimeout = 250 * time.Millisecond

// Value is a binding value: nil, bool, float64, string, []any or map[string]any
type Value = any

// EvalError is the error sentinel returned in place of a value when an expression fails
// to compile, raises at runtime, or exceeds its time budget
type EvalError struct {
	Expression string
	Err        error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("evaluate %q: %v", e.Expression, e.Err)
}

func (e *EvalError) Unwrap() error {
	return e.Err
}

// IsError reports whether v is the error sentinel
func IsError(v Value) bool {
	_, ok := v.(*EvalError)
	return ok
}

// Truthy applies condition semantics. They match the expression language: only nil,
// false and the error sentinel are false, so 0 and "" are true just as they are under
// Lua's not, and, or.
func Truthy(v Value) bool {
	switch t := v.(type) {
	case nil:
		return false
	case *EvalError:
		return false
	case bool:
		return t
	default:
		return true
	}
}

// Result is the outcome of a mutating execution
type Result struct {
	Bindings map[string]Value // new snapshot, same key set as the input
	Changed  []string         // keys whose value differs from the input, sorted
	Return   Value
}

// Sandbox runs expressions with a per-evaluation time budget
type Sandbox struct {
	timeout time.Duration
}

// New creates a sandbox. A non-positive timeout falls back to DefaultTimeout.
func New(timeout time.Duration) *Sandbox {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Sandbox{timeout: timeout}
}

// Evaluate computes the value of expr against bindings. The bindings map is never modified
// and unbound names resolve to nil. Failures yield an *EvalError value rather than an error.
func (s *Sandbox) Evaluate(ctx context.Context, expr string, bindings map[string]Value) Value {
	L, cancel := s.newState(ctx, bindings)
	defer cancel()
	defer L.Close()

	ret, err := s.run(L, expr)
	if err != nil {
		return &EvalError{Expression: expr, Err: err}
	}
	return ret
}

// Execute runs src and reports the resulting bindings. Only keys already present in
// bindings can be assigned; assignments to any other name are discarded with the state.
func (s *Sandbox) Execute(ctx context.Context, src string, bindings map[string]Value) Result {
	L, cancel := s.newState(ctx, bindings)
	defer cancel()
	defer L.Close()

	ret, err := s.run(L, src)
	if err != nil {
		return Result{
			Bindings: copyBindings(bindings),
			Return:   &EvalError{Expression: src, Err: err},
		}
	}

	next := make(map[string]Value, len(bindings))
	var changed []string
	for key, old := range bindings {
		v := reshape(old, fromLua(L.GetGlobal(key), 0))
		if equal(old, v) {
			next[key] = old
			continue
		}
		next[key] = v
		changed = append(changed, key)
	}
	slices.Sort(changed)

	return Result{Bindings: next, Changed: changed, Return: ret}
}

func (s *Sandbox) newState(ctx context.Context, bindings map[string]Value) (*lua.LState, context.CancelFunc) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:  true,
		CallStackSize: 64,
	})
	evalCtx, cancel := context.WithTimeout(ctx, s.timeout)
	L.SetContext(evalCtx)
	for key, v := range bindings {
		L.SetGlobal(key, toLua(L, v, 0))
	}
	return L, cancel
}

// run compiles src as an expression first and falls back to a statement chunk
func (s *Sandbox) run(L *lua.LState, src string) (Value, error) {
	code := translate(src)
	if code == "" {
		return nil, errors.New("empty expression")
	}

	fn, err := L.LoadString("return (" + code + ")")
	if err != nil {
		fn, err = L.LoadString(code)
		if err != nil {
			return nil, err
		}
	}

	base := L.GetTop()
	L.Push(fn)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		return nil, err
	}
	if L.GetTop() == base {
		return nil, nil
	}
	ret := fromLua(L.Get(base+1), 0)
	L.SetTop(base)
	return ret, nil
}

func copyBindings(bindings map[string]Value) map[string]Value {
	out := make(map[string]Value, len(bindings))
	for k, v := range bindings {
		out[k] = v
	}
	return out
}

// equal compares by value; integer inputs compare equal to their float64 round trip
func equal(a, b Value) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

// normalize folds numeric types into float64. An empty table has no shape in Lua, so
// empty lists and empty maps normalize to the same value.
func normalize(v Value) Value {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case int32:
		return float64(t)
	case float32:
		return float64(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = normalize(t[i])
		}
		return out
	case map[string]any:
		if len(t) == 0 {
			return []any{}
		}
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	default:
		return v
	}
}

// reshape gives an empty table read back from Lua the list or map shape of the value it
// replaces, so a list emptied by a script stays a list
func reshape(old, v Value) Value {
	m, ok := v.(map[string]any)
	if !ok || len(m) > 0 {
		return v
	}
	if _, wasList := old.([]any); wasList {
		return []any{}
	}
	return v
}
