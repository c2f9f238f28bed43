package handler

import (
	gocontext "context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flowcore/engine/core"
)

func TestHandleHookPostsPayloadAndReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ack"))
	}))
	defer srv.Close()

	node := &core.Node{ID: "h1", Data: map[string]any{"url": srv.URL}}
	inputs := map[string]core.Value{"msg": core.StringValue("hi")}

	env, err := HandleHook(gocontext.Background(), node, inputs, core.Snapshot{})
	if err != nil {
		t.Fatalf("HandleHook: %v", err)
	}
	if env.Body.Text != "ack" {
		t.Errorf("Body.Text = %q, want ack", env.Body.Text)
	}
}

func TestHandleHookNonFireAndForgetErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	node := &core.Node{ID: "h1", Data: map[string]any{"url": srv.URL}}
	_, err := HandleHook(gocontext.Background(), node, nil, core.Snapshot{})
	if err == nil {
		t.Fatal("expected error on non-2xx status without fire_and_forget")
	}
}

func TestHandleHookFireAndForgetSwallowsTransportError(t *testing.T) {
	node := &core.Node{ID: "h1", Data: map[string]any{"url": "http://127.0.0.1:0", "fire_and_forget": true}}
	env, err := HandleHook(gocontext.Background(), node, nil, core.Snapshot{})
	if err != nil {
		t.Fatalf("fire_and_forget should swallow transport errors, got: %v", err)
	}
	if env.Body.Text != "" {
		t.Errorf("Body.Text = %q, want empty on swallowed error", env.Body.Text)
	}
}

func TestHandleHookMissingURLIsValidationError(t *testing.T) {
	node := &core.Node{ID: "h1", Data: map[string]any{}}
	_, err := HandleHook(gocontext.Background(), node, nil, core.Snapshot{})
	if err == nil {
		t.Fatal("expected validation error for missing url")
	}
}
