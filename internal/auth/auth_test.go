package auth

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/helixgraph/graphstream/internal/model"
)

func writeCredentialFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.toml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing credential file: %v", err)
	}
	return path
}

func TestStatic_VerifyToken(t *testing.T) {
	path := writeCredentialFile(t, `
[[tokens]]
secret = "tok-abc"
tenant_id = "t-1"
actor_id = "u-1"

[[api_keys]]
secret = "key-xyz"
tenant_id = "t-2"
`)
	a, err := LoadStatic(path)
	if err != nil {
		t.Fatalf("LoadStatic: %v", err)
	}

	id, err := a.VerifyToken("tok-abc")
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if id.TenantID != "t-1" || id.ActorID != "u-1" || id.ActorKind != model.ActorUser {
		t.Errorf("identity = %+v", id)
	}

	if _, err := a.VerifyToken("tok-wrong"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("wrong token: err = %v, want ErrUnauthorized", err)
	}
	if _, err := a.VerifyToken(""); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("empty token: err = %v, want ErrUnauthorized", err)
	}
	// An API key is not a bearer token.
	if _, err := a.VerifyToken("key-xyz"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("api key as token: err = %v, want ErrUnauthorized", err)
	}
}

func TestStatic_VerifyAPIKey(t *testing.T) {
	path := writeCredentialFile(t, `
[[api_keys]]
secret = "key-xyz"
tenant_id = "t-2"
`)
	a, err := LoadStatic(path)
	if err != nil {
		t.Fatalf("LoadStatic: %v", err)
	}

	id, err := a.VerifyAPIKey("key-xyz")
	if err != nil {
		t.Fatalf("VerifyAPIKey: %v", err)
	}
	if id.TenantID != "t-2" || id.ActorKind != model.ActorAPIKey {
		t.Errorf("identity = %+v", id)
	}
	// actor_id falls back to the tenant when unset.
	if id.ActorID != "t-2" {
		t.Errorf("actor id = %q, want t-2", id.ActorID)
	}
}

func TestLoadStatic_RejectsIncomplete(t *testing.T) {
	path := writeCredentialFile(t, `
[[tokens]]
secret = "tok-abc"
`)
	if _, err := LoadStatic(path); err == nil {
		t.Error("expected error for credential without tenant_id")
	}
}

func TestInsecure(t *testing.T) {
	var a Insecure

	id, err := a.VerifyToken("t-1:u-1")
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if id.TenantID != "t-1" || id.ActorID != "u-1" {
		t.Errorf("identity = %+v", id)
	}

	if _, err := a.VerifyToken("no-separator"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}
