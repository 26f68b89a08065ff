package dispatch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/openfroyo/froyocore/pkg/ferrors"
)

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestDispatch_PluginAction_SelectsByName(t *testing.T) {
	d := New()
	if err := d.Register("getSecret", "vault", func(ctx context.Context, pc *PluginContext, params json.RawMessage) (json.RawMessage, error) {
		return mustJSON(t, map[string]string{"value": "from-vault"}), nil
	}, RegisterOptions{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := d.Register("getSecret", "aws", func(ctx context.Context, pc *PluginContext, params json.RawMessage) (json.RawMessage, error) {
		return mustJSON(t, map[string]string{"value": "from-aws"}), nil
	}, RegisterOptions{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	out, err := d.Dispatch(context.Background(), "getSecret", "", "vault", nil, nil)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["value"] != "from-vault" {
		t.Errorf("got %+v", got)
	}
}

func TestDispatch_NoPluginName_UsesLastRegistered(t *testing.T) {
	d := New()
	d.Register("configureProvider", "one", jsonHandler("one"), RegisterOptions{})
	d.Register("configureProvider", "two", jsonHandler("two"), RegisterOptions{})

	out, err := d.Dispatch(context.Background(), "configureProvider", "", "", nil, nil)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	var got string
	json.Unmarshal(out, &got)
	if got != "two" {
		t.Errorf("expected last-registered handler, got %q", got)
	}
}

func TestDispatch_NoHandler_ReturnsNoHandlerError(t *testing.T) {
	d := New()
	_, err := d.Dispatch(context.Background(), "getEnvironmentStatus", "", "missing", nil, nil)
	if !ferrors.IsNoHandlerError(err) {
		t.Fatalf("expected NoHandlerError, got %v", err)
	}
}

func TestDispatch_DefaultFallback_PublishModule(t *testing.T) {
	d := New()
	out, err := d.Dispatch(context.Background(), "publishModule", "service", "", nil, nil)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	var got map[string]bool
	json.Unmarshal(out, &got)
	if got["published"] != false {
		t.Errorf("expected default published=false, got %+v", got)
	}
}

func TestDispatch_ModuleAction_ScopedByModuleType(t *testing.T) {
	d := New()
	d.Register("build", "docker", jsonHandler("built-as-service"), RegisterOptions{ModuleType: "service"})

	_, err := d.Dispatch(context.Background(), "build", "job", "docker", nil, nil)
	if !ferrors.IsNoHandlerError(err) {
		t.Fatalf("expected no handler for mismatched moduleType, got %v", err)
	}

	out, err := d.Dispatch(context.Background(), "build", "service", "docker", nil, nil)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	var got string
	json.Unmarshal(out, &got)
	if got != "built-as-service" {
		t.Errorf("got %q", got)
	}
}

func TestDispatch_DispatchAll_FansOutOverPlugins(t *testing.T) {
	d := New()
	d.Register("getEnvironmentStatus", "a", jsonHandler("ok-a"), RegisterOptions{})
	d.Register("getEnvironmentStatus", "b", jsonHandler("ok-b"), RegisterOptions{})

	results, err := d.DispatchAll(context.Background(), "getEnvironmentStatus", "", nil)
	if err != nil {
		t.Fatalf("dispatchAll: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
}

func TestDispatch_HandlerError_WrappedAsPluginError(t *testing.T) {
	d := New()
	d.Register("deploy", "docker", func(ctx context.Context, pc *PluginContext, params json.RawMessage) (json.RawMessage, error) {
		return nil, errBoom
	}, RegisterOptions{})

	_, err := d.Dispatch(context.Background(), "deploy", "", "docker", nil, nil)
	if !ferrors.IsPluginError(err) {
		t.Fatalf("expected PluginError, got %v", err)
	}
}

var errBoom = &boomError{}

type boomError struct{}

func (*boomError) Error() string { return "boom" }

func TestDispatchServiceAction_DerivesModuleType(t *testing.T) {
	d := New()
	d.Register("deployService", "docker", jsonHandler("deployed"), RegisterOptions{ModuleType: "container"})

	resolve := func(name string) (string, bool) {
		if name == "web" {
			return "container", true
		}
		return "", false
	}

	out, err := d.DispatchServiceAction(context.Background(), "deployService", "web", "", resolve, nil, nil)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	var got string
	json.Unmarshal(out, &got)
	if got != "deployed" {
		t.Errorf("got %q", got)
	}

	_, err = d.DispatchServiceAction(context.Background(), "deployService", "ghost", "", resolve, nil, nil)
	if !ferrors.IsParameterError(err) {
		t.Fatalf("expected ParameterError for unknown service, got %v", err)
	}
}
