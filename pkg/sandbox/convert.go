package sandbox

import (
	lua "github.com/yuin/gopher-lua"
)

const maxNesting = 32

func toLua(L *lua.LState, v Value, depth int) lua.LValue {
	if depth > maxNesting {
		return lua.LNil
	}
	switch t := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(t)
	case float64:
		return lua.LNumber(t)
	case float32:
		return lua.LNumber(t)
	case int:
		return lua.LNumber(t)
	case int64:
		return lua.LNumber(t)
	case int32:
		return lua.LNumber(t)
	case string:
		return lua.LString(t)
	case []any:
		tbl := L.NewTable()
		for i, e := range t {
			tbl.RawSetInt(i+1, toLua(L, e, depth+1))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, e := range t {
			tbl.RawSetString(k, toLua(L, e, depth+1))
		}
		return tbl
	default:
		return lua.LNil
	}
}

// fromLua converts a Lua value back to a binding value. Sequences become []any, other
// tables map[string]any; functions and userdata have no binding form and become nil.
func fromLua(lv lua.LValue, depth int) Value {
	if depth > maxNesting {
		return nil
	}
	switch t := lv.(type) {
	case lua.LBool:
		return bool(t)
	case lua.LNumber:
		return float64(t)
	case lua.LString:
		return string(t)
	case *lua.LTable:
		n := t.MaxN()
		count := 0
		t.ForEach(func(_, _ lua.LValue) { count++ })
		if n > 0 && n == count {
			out := make([]any, n)
			for i := 1; i <= n; i++ {
				out[i-1] = fromLua(t.RawGetInt(i), depth+1)
			}
			return out
		}
		out := make(map[string]any, count)
		t.ForEach(func(k, e lua.LValue) {
			out[k.String()] = fromLua(e, depth+1)
		})
		return out
	default:
		return nil
	}
}
