// Package auth verifies client credentials and resolves them to a tenant
// identity. Authentication is deliberately simple: a static credential file
// maps bearer tokens and API keys to tenants. The gateway and HTTP surface
// only care about the Authenticator interface, so a directory-backed
// implementation can replace the static one without touching them.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/helixgraph/graphstream/internal/model"
)

// ErrUnauthorized is returned when a credential is missing, unknown, or
// malformed.
var ErrUnauthorized = errors.New("auth: unauthorized")

// Identity is the resolved principal behind a verified credential.
type Identity struct {
	TenantID  string
	ActorID   string
	ActorKind model.ActorKind
}

// Actor returns the identity as an event actor.
func (id *Identity) Actor() model.Actor {
	return model.Actor{ID: id.ActorID, Kind: id.ActorKind}
}

// Authenticator verifies credentials presented by clients.
type Authenticator interface {
	VerifyToken(token string) (*Identity, error)
	VerifyAPIKey(key string) (*Identity, error)
}

// credentialFile is the TOML layout of the static credential file.
type credentialFile struct {
	Tokens  []credential `toml:"tokens"`
	APIKeys []credential `toml:"api_keys"`
}

type credential struct {
	Secret   string `toml:"secret"`
	TenantID string `toml:"tenant_id"`
	ActorID  string `toml:"actor_id"`
}

// Static authenticates against a fixed credential set loaded at startup.
type Static struct {
	tokens  []credential
	apiKeys []credential
}

// LoadStatic reads a TOML credential file.
func LoadStatic(path string) (*Static, error) {
	var file credentialFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("loading credential file %s: %w", path, err)
	}
	for i, c := range append(append([]credential(nil), file.Tokens...), file.APIKeys...) {
		if c.Secret == "" || c.TenantID == "" {
			return nil, fmt.Errorf("credential %d: secret and tenant_id are required", i)
		}
	}
	return &Static{tokens: file.Tokens, apiKeys: file.APIKeys}, nil
}

func (s *Static) VerifyToken(token string) (*Identity, error) {
	return verify(s.tokens, token, model.ActorUser)
}

func (s *Static) VerifyAPIKey(key string) (*Identity, error) {
	return verify(s.apiKeys, key, model.ActorAPIKey)
}

// verify compares the presented secret against every credential to keep
// timing independent of where (or whether) a match occurs.
func verify(creds []credential, secret string, kind model.ActorKind) (*Identity, error) {
	if secret == "" {
		return nil, ErrUnauthorized
	}
	var found *credential
	for i := range creds {
		if subtle.ConstantTimeCompare([]byte(creds[i].Secret), []byte(secret)) == 1 {
			found = &creds[i]
		}
	}
	if found == nil {
		return nil, ErrUnauthorized
	}
	actorID := found.ActorID
	if actorID == "" {
		actorID = found.TenantID
	}
	return &Identity{TenantID: found.TenantID, ActorID: actorID, ActorKind: kind}, nil
}

// Insecure accepts any credential of the form "tenant-id:actor-id" and is
// meant for local development only.
type Insecure struct{}

func (Insecure) VerifyToken(token string) (*Identity, error) { return insecureParse(token) }
func (Insecure) VerifyAPIKey(key string) (*Identity, error)  { return insecureParse(key) }

func insecureParse(secret string) (*Identity, error) {
	tenantID, actorID, ok := strings.Cut(secret, ":")
	if !ok || tenantID == "" || actorID == "" {
		return nil, ErrUnauthorized
	}
	return &Identity{TenantID: tenantID, ActorID: actorID, ActorKind: model.ActorUser}, nil
}
