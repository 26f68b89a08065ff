// Package template implements the `${dotted.path}` expression language
// evaluated lazily over a hierarchical ConfigContext tree (see context.go),
// with cycle detection on fully-qualified paths, and
// CollectTemplateReferences, which lists the statically-known paths an
// object references. The scheduler package does not call
// CollectTemplateReferences.
package template

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/openfroyo/froyocore/pkg/ferrors"
)

// Engine evaluates template strings against a ConfigContext tree. It holds
// no state of its own; all lazily-resolved state lives in the Context tree
// passed to Evaluate.
type Engine struct{}

// NewEngine constructs a stateless template Engine.
func NewEngine() *Engine { return &Engine{} }

// cycleStack tracks the fully-qualified paths currently being resolved so a
// re-entrant resolution attempt can be rejected with CircularReferenceError
// naming the full chain.
type cycleStack struct {
	paths []string
}

func newCycleStack() *cycleStack { return &cycleStack{} }

func (s *cycleStack) contains(path string) bool {
	for _, p := range s.paths {
		if p == path {
			return true
		}
	}
	return false
}

func (s *cycleStack) push(path string) { s.paths = append(s.paths, path) }
func (s *cycleStack) pop()             { s.paths = s.paths[:len(s.paths)-1] }

func (s *cycleStack) chain(path string) string {
	return strings.Join(append(append([]string{}, s.paths...), path), " → ")
}

// Evaluate resolves every `${expr}` segment in s against root. If s is
// exactly one expression with no surrounding literal text, the expression's
// native primitive value (string/number/bool) is returned unconverted;
// otherwise the result is the literal text with each expression's string
// form substituted in.
func (e *Engine) Evaluate(s string, root Context) (interface{}, error) {
	return e.evaluate(s, root, newCycleStack())
}

func (e *Engine) evaluate(s string, root Context, stack *cycleStack) (interface{}, error) {
	segs, err := splitSegments(s)
	if err != nil {
		return nil, err
	}
	if len(segs) == 1 && segs[0].isExpr {
		return e.resolveExpr(segs[0].text, root, stack)
	}

	var b strings.Builder
	for _, seg := range segs {
		if !seg.isExpr {
			b.WriteString(seg.text)
			continue
		}
		v, err := e.resolveExpr(seg.text, root, stack)
		if err != nil {
			return nil, err
		}
		b.WriteString(stringify(v))
	}
	return b.String(), nil
}

// resolveExpr evaluates the raw text inside a single `${...}` (which may
// itself contain nested `${...}` forming a dynamic path segment) into a
// fully-qualified dotted path, then walks that path over root.
func (e *Engine) resolveExpr(exprRaw string, root Context, stack *cycleStack) (interface{}, error) {
	pathValue, err := e.evaluate(exprRaw, root, stack)
	if err != nil {
		return nil, err
	}
	path, ok := pathValue.(string)
	if !ok {
		path = stringify(pathValue)
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ferrors.NewTemplateError("empty template expression", nil)
	}

	if stack.contains(path) {
		return nil, ferrors.NewTemplateError("circular template reference", nil).
			WithPath(stack.chain(path)).
			WithDetail("cycle", stack.chain(path))
	}
	stack.push(path)
	defer stack.pop()

	parts := strings.Split(path, ".")
	var cur Value = root
	for i, part := range parts {
		if part == "" || strings.HasPrefix(part, "_") {
			return nil, ferrors.NewTemplateError("undefined key", nil).WithPath(path)
		}
		ctx, ok := cur.(Context)
		if !ok {
			return nil, ferrors.NewConfigError("resolved to non-context before end of path", nil).WithPath(path)
		}
		val, ok := ctx.Resolve(part)
		if !ok {
			return nil, ferrors.NewTemplateError("key not found", nil).WithPath(path)
		}
		if lazy, ok := val.(LazyCallable); ok {
			v, err := lazy()
			if err != nil {
				return nil, err
			}
			val = v
		}
		if i == len(parts)-1 {
			if s, ok := val.(string); ok && strings.Contains(s, "${") {
				resolved, err := e.evaluate(s, root, stack)
				if err != nil {
					return nil, err
				}
				val = resolved
			}
			if _, isCtx := val.(Context); isCtx {
				return nil, ferrors.NewConfigError("template resolved to a non-primitive value", nil).WithPath(path)
			}
			if !isPrimitive(val) {
				return nil, ferrors.NewConfigError("template resolved to a non-primitive value", nil).WithPath(path)
			}
			return val, nil
		}
		cur = val
	}
	return nil, ferrors.NewTemplateError("empty template path", nil)
}

func isPrimitive(v interface{}) bool {
	switch v.(type) {
	case string, bool, int, int32, int64, float32, float64:
		return true
	default:
		return false
	}
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

type segment struct {
	text   string
	isExpr bool
}

// splitSegments tokenizes s into literal and `${...}` segments, honouring
// arbitrary nesting depth of `${` inside an expression.
func splitSegments(s string) ([]segment, error) {
	var segs []segment
	i := 0
	for i < len(s) {
		start := strings.Index(s[i:], "${")
		if start < 0 {
			segs = append(segs, segment{text: s[i:]})
			break
		}
		start += i
		if start > i {
			segs = append(segs, segment{text: s[i:start]})
		}
		depth := 1
		j := start + 2
		for j < len(s) && depth > 0 {
			switch {
			case strings.HasPrefix(s[j:], "${"):
				depth++
				j += 2
			case s[j] == '}':
				depth--
				j++
			default:
				j++
			}
		}
		if depth != 0 {
			return nil, ferrors.NewTemplateError("unterminated template expression", nil).WithPath(s[start:])
		}
		segs = append(segs, segment{text: s[start+2 : j-1], isExpr: true})
		i = j
	}
	if len(segs) == 0 {
		segs = append(segs, segment{text: ""})
	}
	return segs, nil
}

// CollectTemplateReferences scans an arbitrary JSON-like structure
// (map[string]interface{}, []interface{}, string, or primitive) and returns
// the set of statically-known dotted paths referenced by `${...}`
// expressions, in no particular order. The scheduler does not call it, so a
// task's prerequisites are not derived from its template references.
// Dynamic expressions (those containing nested `${...}`) cannot be
// statically resolved and are skipped.
func CollectTemplateReferences(obj interface{}) []string {
	seen := map[string]struct{}{}
	collect(obj, seen)
	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	return paths
}

func collect(obj interface{}, seen map[string]struct{}) {
	switch v := obj.(type) {
	case string:
		segs, err := splitSegments(v)
		if err != nil {
			return
		}
		for _, seg := range segs {
			if !seg.isExpr {
				continue
			}
			if strings.Contains(seg.text, "${") {
				continue
			}
			path := strings.TrimSpace(seg.text)
			if path != "" {
				seen[path] = struct{}{}
			}
		}
	case map[string]interface{}:
		for _, val := range v {
			collect(val, seen)
		}
	case []interface{}:
		for _, val := range v {
			collect(val, seen)
		}
	}
}
