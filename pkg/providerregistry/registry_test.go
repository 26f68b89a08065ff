package providerregistry

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/openfroyo/froyocore/pkg/dispatch"
	"github.com/openfroyo/froyocore/pkg/ferrors"
)

func echoHandler(v string) dispatch.Handler {
	return func(ctx context.Context, pc *dispatch.PluginContext, params json.RawMessage) (json.RawMessage, error) {
		return json.Marshal(v)
	}
}

func TestRegistry_Load_InstallsHandlers(t *testing.T) {
	d := dispatch.New()
	r := New(d)
	r.RegisterFactory("vault", func(ctx context.Context, in FactoryInput) (*Descriptor, error) {
		return &Descriptor{
			Actions: map[dispatch.ActionType]ActionSpec{
				"getSecret": {Handler: echoHandler("secret-value")},
			},
		}, nil
	})

	if err := r.Load(context.Background(), "vault", "demo", nil); err != nil {
		t.Fatalf("load: %v", err)
	}

	out, err := d.Dispatch(context.Background(), "getSecret", "", "vault", nil, nil)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	var got string
	json.Unmarshal(out, &got)
	if got != "secret-value" {
		t.Errorf("got %q", got)
	}
}

func TestRegistry_Load_UnknownFactory(t *testing.T) {
	r := New(dispatch.New())
	err := r.Load(context.Background(), "missing", "demo", nil)
	if !ferrors.IsPluginError(err) {
		t.Fatalf("expected PluginError, got %v", err)
	}
}

func TestRegistry_Load_MergesConfigAcrossRegistrations(t *testing.T) {
	r := New(dispatch.New())
	r.RegisterFactory("aws", func(ctx context.Context, in FactoryInput) (*Descriptor, error) {
		return &Descriptor{}, nil
	})

	if err := r.Load(context.Background(), "aws", "demo", map[string]interface{}{"region": "us-east-1", "nested": map[string]interface{}{"a": 1}}); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := r.Load(context.Background(), "aws", "demo", map[string]interface{}{"region": "us-west-2", "nested": map[string]interface{}{"b": 2}}); err != nil {
		t.Fatalf("load: %v", err)
	}

	raw, ok := r.Config("aws")
	if !ok {
		t.Fatal("expected config to be present")
	}
	var cfg map[string]interface{}
	json.Unmarshal(raw, &cfg)
	if cfg["region"] != "us-west-2" {
		t.Errorf("expected last-wins scalar, got %v", cfg["region"])
	}
	nested := cfg["nested"].(map[string]interface{})
	if nested["a"].(float64) != 1 || nested["b"].(float64) != 2 {
		t.Errorf("expected merged nested map, got %v", nested)
	}
}

func TestRegistry_DependencyOrder(t *testing.T) {
	r := New(dispatch.New())
	r.RegisterFactory("base", func(ctx context.Context, in FactoryInput) (*Descriptor, error) {
		return &Descriptor{}, nil
	})
	r.RegisterFactory("dependent", func(ctx context.Context, in FactoryInput) (*Descriptor, error) {
		return &Descriptor{DependsOn: []string{"base"}}, nil
	})

	r.Load(context.Background(), "dependent", "demo", nil)
	r.Load(context.Background(), "base", "demo", nil)

	order, err := r.DependencyOrder()
	if err != nil {
		t.Fatalf("dependencyOrder: %v", err)
	}
	baseIdx, depIdx := -1, -1
	for i, n := range order {
		if n == "base" {
			baseIdx = i
		}
		if n == "dependent" {
			depIdx = i
		}
	}
	if baseIdx == -1 || depIdx == -1 || baseIdx > depIdx {
		t.Errorf("expected base before dependent, got %v", order)
	}
}

func TestRegistry_Load_VersionConstraint(t *testing.T) {
	r := New(dispatch.New())
	r.RegisterFactory("docker", func(ctx context.Context, in FactoryInput) (*Descriptor, error) {
		return &Descriptor{Version: "1.4.0"}, nil
	})

	if err := r.Load(context.Background(), "docker", "demo", nil, WithVersionConstraint(">=1.0.0")); err != nil {
		t.Fatalf("satisfied constraint rejected: %v", err)
	}
	if err := r.Load(context.Background(), "docker", "demo", nil, WithVersionConstraint(">=2.0.0")); err == nil {
		t.Fatal("unsatisfied constraint accepted")
	}
}

func TestRegistry_Load_ConstraintRequiresDeclaredVersion(t *testing.T) {
	r := New(dispatch.New())
	r.RegisterFactory("anon", func(ctx context.Context, in FactoryInput) (*Descriptor, error) {
		return &Descriptor{}, nil
	})

	err := r.Load(context.Background(), "anon", "demo", nil, WithVersionConstraint("^1.0.0"))
	if !ferrors.IsPluginError(err) {
		t.Fatalf("expected PluginError for versionless plugin, got %v", err)
	}
}
