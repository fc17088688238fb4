// Package secretstore is the SecretStore capability (spec.md §1, §6):
// resolves a ServiceConfig's credentials_ref into usable credential
// material. Authentication to the secrets API itself uses the OAuth2
// client-credentials grant (golang.org/x/oauth2/clientcredentials),
// generalizing the corpus's own OIDC-based service authentication
// (wisbric-nightowl's internal/auth package) from inbound token
// verification to outbound token acquisition. Mask (mask.go) provides
// pattern-based redaction of credential strings after the teacher's
// pkg/masking package; Resolve itself logs nothing and does not call it.
package secretstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/avesa-io/avesa/internal/avesaerr"
)

// Credential is the resolved material for one credentials_ref.
type Credential struct {
	Token string `json:"token"`
}

// SecretStore resolves credentials_ref values to usable Credential
// material (spec.md §1's "Credential storage — modeled as a SecretStore
// capability").
type SecretStore interface {
	Resolve(ctx context.Context, credentialsRef string) (Credential, error)
}

// HTTPSecretStore fetches credential material from an HTTP secrets API,
// authenticating itself to that API via the OAuth2 client-credentials
// grant.
type HTTPSecretStore struct {
	endpoint   string
	httpClient *http.Client
}

// New builds an HTTPSecretStore. Its http.Client is wrapped by oauth2: every outbound request carries a fresh bearer token,
// refreshed transparently as it nears expiry.
func New(ctx context.Context, endpoint, clientID, clientSecret, tokenURL string) *HTTPSecretStore {
	cc := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
	}
	return &HTTPSecretStore{
		endpoint:   endpoint,
		httpClient: cc.Client(ctx),
	}
}

// Resolve fetches the credential identified by ref.
func (s *HTTPSecretStore) Resolve(ctx context.Context, ref string) (Credential, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, s.endpoint+"/secrets/"+ref, nil)
	if err != nil {
		return Credential{}, avesaerr.New("secretstore.Resolve", avesaerr.KindFatal, err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Credential{}, avesaerr.New("secretstore.Resolve", avesaerr.KindTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Credential{}, avesaerr.New("secretstore.Resolve", avesaerr.KindNotFound, fmt.Errorf("ref %q", ref))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Credential{}, avesaerr.New("secretstore.Resolve", avesaerr.KindAuthFailure, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return Credential{}, avesaerr.New("secretstore.Resolve", avesaerr.KindTransient, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return Credential{}, avesaerr.New("secretstore.Resolve", avesaerr.KindFatal, fmt.Errorf("status %d", resp.StatusCode))
	}

	var cred Credential
	if err := json.NewDecoder(resp.Body).Decode(&cred); err != nil {
		return Credential{}, avesaerr.New("secretstore.Resolve", avesaerr.KindTransient, fmt.Errorf("decoding response: %w", err))
	}
	return cred, nil
}
