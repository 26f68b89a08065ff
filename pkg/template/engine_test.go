package template

import (
	"testing"

	"github.com/openfroyo/froyocore/pkg/ferrors"
)

func TestEngine_Evaluate_Literal(t *testing.T) {
	e := NewEngine()
	root := MapContext{"a": "b"}
	out, err := e.Evaluate("no templates here", root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "no templates here" {
		t.Errorf("got %v, want literal passthrough", out)
	}
}

func TestEngine_Evaluate_SingleExprReturnsNativeType(t *testing.T) {
	e := NewEngine()
	root := MapContext{"count": 42}
	out, err := e.Evaluate("${count}", root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != 42 {
		t.Errorf("got %v (%T), want int 42", out, out)
	}
}

func TestEngine_Evaluate_MixedTextConcatenatesAsString(t *testing.T) {
	e := NewEngine()
	root := MapContext{"name": "web"}
	out, err := e.Evaluate("service-${name}-prod", root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "service-web-prod" {
		t.Errorf("got %q", out)
	}
}

func TestEngine_Evaluate_NestedContext(t *testing.T) {
	e := NewEngine()
	root := MapContext{
		"modules": MapContext{
			"api": MapContext{"path": "/srv/api"},
		},
	}
	out, err := e.Evaluate("${modules.api.path}", root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "/srv/api" {
		t.Errorf("got %v", out)
	}
}

func TestEngine_Evaluate_LazyCallable(t *testing.T) {
	e := NewEngine()
	calls := 0
	root := MapContext{
		"providers": MapContext{
			"aws": LazyCallable(func() (Value, error) {
				calls++
				return MapContext{"region": "us-east-1"}, nil
			}),
		},
	}
	out, err := e.Evaluate("${providers.aws.region}", root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "us-east-1" {
		t.Errorf("got %v", out)
	}
	if calls != 1 {
		t.Errorf("expected lazy callable invoked exactly once, got %d", calls)
	}
}

func TestEngine_Evaluate_PrivateKeyUndefined(t *testing.T) {
	e := NewEngine()
	root := MapContext{"_secret": "nope"}
	_, err := e.Evaluate("${_secret}", root)
	if !ferrors.IsTemplateError(err) {
		t.Fatalf("expected TemplateError for private key, got %v", err)
	}
}

func TestEngine_Evaluate_MissingKey(t *testing.T) {
	e := NewEngine()
	root := MapContext{"a": "b"}
	_, err := e.Evaluate("${nope}", root)
	if !ferrors.IsTemplateError(err) {
		t.Fatalf("expected TemplateError, got %v", err)
	}
}

func TestEngine_Evaluate_NonPrimitiveResolutionFails(t *testing.T) {
	e := NewEngine()
	root := MapContext{"nested": MapContext{"x": "y"}}
	_, err := e.Evaluate("${nested}", root)
	if !ferrors.IsConfigError(err) {
		t.Fatalf("expected ConfigError for non-primitive resolution, got %v", err)
	}
}

// Two keys whose templates reference each other must fail with a
// TemplateError naming both paths.
func TestEngine_Evaluate_CircularReference(t *testing.T) {
	e := NewEngine()
	root := MapContext{
		"a": "${b}",
		"b": "${a}",
	}
	_, err := e.Evaluate("${a}", root)
	if !ferrors.IsTemplateError(err) {
		t.Fatalf("expected TemplateError, got %v", err)
	}
	var ce *ferrors.CoreError
	if ok := asCoreError(err, &ce); !ok {
		t.Fatalf("expected *ferrors.CoreError")
	}
	if ce.Path == "" {
		t.Errorf("expected cycle path to be recorded")
	}
}

func asCoreError(err error, target **ferrors.CoreError) bool {
	ce, ok := err.(*ferrors.CoreError)
	if !ok {
		return false
	}
	*target = ce
	return true
}

func TestCollectTemplateReferences(t *testing.T) {
	obj := map[string]interface{}{
		"command": "${modules.api.buildPath}/build.sh",
		"nested": map[string]interface{}{
			"arg": "${variables.env}",
		},
		"list": []interface{}{"${providers.aws.region}", "literal"},
	}
	refs := CollectTemplateReferences(obj)
	want := map[string]bool{
		"modules.api.buildPath": true,
		"variables.env":         true,
		"providers.aws.region":  true,
	}
	if len(refs) != len(want) {
		t.Fatalf("got %d refs %v, want %d", len(refs), refs, len(want))
	}
	for _, r := range refs {
		if !want[r] {
			t.Errorf("unexpected reference %q", r)
		}
	}
}
