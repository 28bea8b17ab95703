// Package filter provides composable predicates over messages for
// content-based routing.
//
// Filters are pure: they read a message and never mutate it. A filter that
// panics is treated as a non-match by Evaluate and by every combinator in
// this package, so a faulty predicate can never take down a dispatch.
package filter

import (
	"fmt"
	"math"
	"reflect"
	"regexp"

	"github.com/rmacdonaldsmith/msgrouter-go/pkg/message"
)

// Filter decides whether a message matches.
type Filter interface {
	Match(msg *message.Message) bool
}

// Func adapts an ordinary function to a Filter. This is how callers supply
// custom predicates.
type Func func(msg *message.Message) bool

// Match calls f(msg).
func (f Func) Match(msg *message.Message) bool {
	return f(msg)
}

// Evaluate runs f against msg, converting a nil filter, a nil message or a
// panic into false.
func Evaluate(f Filter, msg *message.Message) (matched bool) {
	if f == nil || msg == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			matched = false
		}
	}()
	return f.Match(msg)
}

// HasField matches messages whose payload contains name.
// Dotted names address nested maps (see message.Message.Field).
func HasField(name string) Filter {
	return Func(func(msg *message.Message) bool {
		_, ok := msg.Field(name)
		return ok
	})
}

// FieldEquals matches messages whose payload field equals value.
// Numeric values compare by value, so int 3 equals float64 3; integers
// compare exactly at any magnitude.
func FieldEquals(name string, value any) Filter {
	return Func(func(msg *message.Message) bool {
		actual, ok := msg.Field(name)
		if !ok {
			return false
		}
		return valuesEqual(actual, value)
	})
}

// FieldMatches matches messages whose payload field, rendered as a string,
// matches the regular expression expr.
func FieldMatches(name, expr string) (Filter, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid field pattern %q: %w", expr, err)
	}
	return fieldRegexp(name, re), nil
}

// MustFieldMatches is like FieldMatches but panics on an invalid expression.
// Intended for package-level filter definitions.
func MustFieldMatches(name, expr string) Filter {
	return fieldRegexp(name, regexp.MustCompile(expr))
}

func fieldRegexp(name string, re *regexp.Regexp) Filter {
	return Func(func(msg *message.Message) bool {
		actual, ok := msg.Field(name)
		if !ok || actual == nil {
			return false
		}
		s, isString := actual.(string)
		if !isString {
			s = fmt.Sprint(actual)
		}
		return re.MatchString(s)
	})
}

// MetadataEquals matches messages whose metadata key equals value.
func MetadataEquals(key, value string) Filter {
	return Func(func(msg *message.Message) bool {
		actual, ok := msg.Meta(key)
		return ok && actual == value
	})
}

// MessageTypeIs matches messages of type t.
func MessageTypeIs(t message.MessageType) Filter {
	return Func(func(msg *message.Message) bool {
		return msg.Type == t
	})
}

// PriorityAtLeast matches messages with priority level or higher.
func PriorityAtLeast(level message.Priority) Filter {
	return Func(func(msg *message.Message) bool {
		return msg.Priority >= level
	})
}

// AllOf matches when every filter matches, stopping at the first miss.
// An empty AllOf matches everything.
func AllOf(filters ...Filter) Filter {
	return Func(func(msg *message.Message) bool {
		for _, f := range filters {
			if !Evaluate(f, msg) {
				return false
			}
		}
		return true
	})
}

// AnyOf matches when at least one filter matches, stopping at the first hit.
// An empty AnyOf matches nothing.
func AnyOf(filters ...Filter) Filter {
	return Func(func(msg *message.Message) bool {
		for _, f := range filters {
			if Evaluate(f, msg) {
				return true
			}
		}
		return false
	})
}

// Not negates f. A panicking f counts as a non-match, so Not of it is a
// match only if f itself evaluated cleanly to false.
func Not(f Filter) Filter {
	return Func(func(msg *message.Message) bool {
		matched, ok := evaluateClean(f, msg)
		return ok && !matched
	})
}

// evaluateClean reports the result of f and whether it completed without
// panicking.
func evaluateClean(f Filter, msg *message.Message) (matched, ok bool) {
	if f == nil {
		return false, false
	}
	defer func() {
		if r := recover(); r != nil {
			matched, ok = false, false
		}
	}()
	return f.Match(msg), true
}

func valuesEqual(a, b any) bool {
	an, aok := toNumber(a)
	bn, bok := toNumber(b)
	switch {
	case aok && bok:
		return an.equal(bn)
	case aok || bok:
		return false
	default:
		return reflect.DeepEqual(a, b)
	}
}

type numberKind int

const (
	signedNumber numberKind = iota
	unsignedNumber
	floatNumber
)

// number holds a numeric payload value without losing integer precision.
type number struct {
	kind numberKind
	i    int64
	u    uint64
	f    float64
}

func (n number) equal(o number) bool {
	if n.kind > o.kind {
		n, o = o, n
	}
	switch {
	case n.kind == signedNumber && o.kind == signedNumber:
		return n.i == o.i
	case n.kind == unsignedNumber && o.kind == unsignedNumber:
		return n.u == o.u
	case n.kind == signedNumber && o.kind == unsignedNumber:
		return n.i >= 0 && uint64(n.i) == o.u
	case n.kind == floatNumber:
		return n.f == o.f
	case n.kind == signedNumber:
		return floatIsInt(o.f, n.i)
	default:
		return floatIsUint(o.f, n.u)
	}
}

// floatIsInt reports whether f holds exactly the integer i.
func floatIsInt(f float64, i int64) bool {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return false
	}
	return int64(f) == i
}

// floatIsUint reports whether f holds exactly the integer u.
func floatIsUint(f float64, u uint64) bool {
	if f != math.Trunc(f) || f < 0 || f >= math.MaxUint64 {
		return false
	}
	return uint64(f) == u
}

func toNumber(v any) (number, bool) {
	switch n := v.(type) {
	case int:
		return number{kind: signedNumber, i: int64(n)}, true
	case int8:
		return number{kind: signedNumber, i: int64(n)}, true
	case int16:
		return number{kind: signedNumber, i: int64(n)}, true
	case int32:
		return number{kind: signedNumber, i: int64(n)}, true
	case int64:
		return number{kind: signedNumber, i: n}, true
	case uint:
		return number{kind: unsignedNumber, u: uint64(n)}, true
	case uint8:
		return number{kind: unsignedNumber, u: uint64(n)}, true
	case uint16:
		return number{kind: unsignedNumber, u: uint64(n)}, true
	case uint32:
		return number{kind: unsignedNumber, u: uint64(n)}, true
	case uint64:
		return number{kind: unsignedNumber, u: n}, true
	case float32:
		return number{kind: floatNumber, f: float64(n)}, true
	case float64:
		return number{kind: floatNumber, f: n}, true
	default:
		return number{}, false
	}
}
