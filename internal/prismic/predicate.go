package prismic

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Predicate is one query condition in the repository's predicate syntax,
// e.g. [at(document.type, "posts")].
type Predicate struct {
	op   string
	path string
	args string
}

// At matches documents whose path equals value.
func At(path string, value any) Predicate {
	return Predicate{op: "at", path: path, args: literal(value)}
}

// Not matches documents whose path differs from value.
func Not(path string, value any) Predicate {
	return Predicate{op: "not", path: path, args: literal(value)}
}

// Any matches documents whose path equals one of values.
func Any(path string, values ...string) Predicate {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = literal(v)
	}
	return Predicate{op: "any", path: path, args: "[" + strings.Join(quoted, ", ") + "]"}
}

// String renders the predicate.
func (p Predicate) String() string {
	return "[" + p.op + "(" + p.path + ", " + p.args + ")]"
}

// Encode renders a predicate list as the value of the q parameter.
func Encode(preds ...Predicate) string {
	var b strings.Builder
	b.WriteString("[")
	for _, p := range preds {
		b.WriteString(p.String())
	}
	b.WriteString("]")
	return b.String()
}

// literal renders a scalar predicate value. Any other type is a programming
// error and panics rather than producing a query that silently matches
// something else.
func literal(v any) string {
	switch x := v.(type) {
	case string:
		return strconv.Quote(x)
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int8, int16, int32, int64:
		return strconv.FormatInt(reflect.ValueOf(x).Int(), 10)
	case uint, uint8, uint16, uint32, uint64:
		return strconv.FormatUint(reflect.ValueOf(x).Uint(), 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		panic(fmt.Sprintf("prismic: unsupported predicate value %T", v))
	}
}
