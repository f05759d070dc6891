package httpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/miruml/agent/internal/agenterr"
)

type staticTokenProvider struct{ token string }

func (s staticTokenProvider) GetToken(ctx context.Context) (string, error) {
	return s.token, nil
}

func TestHashSchema_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/schemas/hash" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok123" {
			t.Errorf("Authorization = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]string{"digest": "abc"})
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, Tokens: staticTokenProvider{"tok123"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	digest, err := c.HashSchema(context.Background(), "json-schema", []byte("{}"))
	if err != nil {
		t.Fatalf("HashSchema: %v", err)
	}
	if digest != "abc" {
		t.Errorf("digest = %q, want abc", digest)
	}
}

func TestDo_ClassifiesAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"code": "invalid_jwt_auth", "message": "expired"},
		})
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, Tokens: staticTokenProvider{"tok"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = c.HashSchema(context.Background(), "json-schema", []byte("{}"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !agenterr.Is(err, agenterr.KindHTTPAuth) {
		t.Errorf("expected KindHTTPAuth, got %v", err)
	}
}

func TestDo_ClassifiesTransientOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, Tokens: staticTokenProvider{"tok"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = c.HashSchema(context.Background(), "json-schema", []byte("{}"))
	if !agenterr.Is(err, agenterr.KindHTTPTransient) {
		t.Errorf("expected KindHTTPTransient, got %v", err)
	}
}

func TestDo_ClassifiesPermanentOn4xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, Tokens: staticTokenProvider{"tok"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = c.HashSchema(context.Background(), "json-schema", []byte("{}"))
	if !agenterr.Is(err, agenterr.KindHTTPPermanent) {
		t.Errorf("expected KindHTTPPermanent, got %v", err)
	}
}
