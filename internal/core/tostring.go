package core

import (
	"strconv"
)

func formatInt(i int64) string { return strconv.FormatInt(i, 10) }

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// ToString renders v the way the language's implicit tostring conversion
// does: numbers and strings format directly, everything else defers to a
// __tostring-less fallback naming the type and an identity, matching how
// print() and `..` report objects without a metamethod.
func (th *Thread) ToString(v Value) string {
	switch {
	case v.IsNil():
		return "nil"
	case v.IsBool():
		if v.AsBool() {
			return "true"
		}
		return "false"
	case v.IsInt():
		return formatInt(v.AsInt())
	case v.IsFloat():
		return formatFloat(v.AsFloat())
	case v.IsString():
		return v.AsString().String()
	case v.IsObject():
		return v.AsObject().String()
	case v.IsCFunction():
		return "function: builtin"
	}
	return "?"
}
