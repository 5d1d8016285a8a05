package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/lsst-dm/cm-tools-sub000/internal/config"
	"github.com/lsst-dm/cm-tools-sub000/internal/core"
)

// RemoteConfig locates a remote workflow service and its identity provider.
type RemoteConfig struct {
	URL           string
	OIDCIssuerURL string
	ClientID      string
	ClientSecret  string
	Scopes        []string
	Timeout       time.Duration
}

// RemoteConfigFromEnv reads CM_REMOTE_* variables.
func RemoteConfigFromEnv() (RemoteConfig, error) {
	timeoutSeconds, err := config.EnvInt("CM_REMOTE_TIMEOUT_SECONDS", 30)
	if err != nil {
		return RemoteConfig{}, err
	}
	cfg := RemoteConfig{
		URL:           config.EnvString("CM_REMOTE_URL", ""),
		OIDCIssuerURL: config.EnvString("CM_REMOTE_OIDC_ISSUER_URL", ""),
		ClientID:      config.EnvString("CM_REMOTE_CLIENT_ID", ""),
		ClientSecret:  config.EnvString("CM_REMOTE_CLIENT_SECRET", ""),
		Scopes:        config.EnvList("CM_REMOTE_SCOPES", nil),
		Timeout:       time.Duration(timeoutSeconds) * time.Second,
	}
	if err := cfg.Validate(); err != nil {
		return RemoteConfig{}, err
	}
	return cfg, nil
}

func (c RemoteConfig) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return errors.New("CM_REMOTE_URL is required")
	}
	if _, err := url.ParseRequestURI(c.URL); err != nil {
		return fmt.Errorf("CM_REMOTE_URL: %w", err)
	}
	if c.OIDCIssuerURL != "" && strings.TrimSpace(c.ClientID) == "" {
		return errors.New("CM_REMOTE_CLIENT_ID is required when CM_REMOTE_OIDC_ISSUER_URL is set")
	}
	if c.Timeout <= 0 {
		return errors.New("CM_REMOTE_TIMEOUT_SECONDS must be positive")
	}
	return nil
}

// Remote submits jobs to a workflow service over HTTP.
//
//	POST   /api/v1/jobs                 {"name", "payload"} -> {"id"}
//	GET    /api/v1/jobs/{id}            -> {"status", "error_code", "diagnostic"}
//	DELETE /api/v1/collections?repo=&name=
type Remote struct {
	baseURL string
	client  *http.Client
}

// NewRemote builds a Remote. With an issuer configured, requests carry a
// client-credentials token from the issuer's discovered token endpoint.
func NewRemote(ctx context.Context, cfg RemoteConfig) (*Remote, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.OIDCIssuerURL == "" {
		return &Remote{baseURL: strings.TrimRight(cfg.URL, "/"), client: &http.Client{Timeout: cfg.Timeout}}, nil
	}

	provider, err := oidc.NewProvider(ctx, cfg.OIDCIssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     provider.Endpoint().TokenURL,
		Scopes:       cfg.Scopes,
	}
	client := cc.Client(ctx)
	client.Timeout = cfg.Timeout
	return &Remote{baseURL: strings.TrimRight(cfg.URL, "/"), client: client}, nil
}

// NewRemoteWithTokenSource builds a Remote authenticated by ts.
func NewRemoteWithTokenSource(ctx context.Context, baseURL string, ts oauth2.TokenSource) *Remote {
	return &Remote{baseURL: strings.TrimRight(baseURL, "/"), client: oauth2.NewClient(ctx, ts)}
}

type submitRequest struct {
	Name    string `json:"name"`
	Payload string `json:"payload"`
}

type submitResponse struct {
	ID string `json:"id"`
}

// RemoteJobState is the service's view of one job.
type RemoteJobState struct {
	Status     string `json:"status"`
	ErrorCode  int    `json:"error_code"`
	Diagnostic string `json:"diagnostic"`
}

// Submit posts the job's payload file.
func (r *Remote) Submit(ctx context.Context, sub Submission) (string, error) {
	var payload []byte
	if sub.ConfigURL != "" {
		var err error
		payload, err = os.ReadFile(sub.ConfigURL)
		if err != nil {
			return "", fmt.Errorf("submit %s: read payload: %w", sub.Name, err)
		}
	}

	var resp submitResponse
	err := r.do(ctx, http.MethodPost, "/api/v1/jobs", submitRequest{Name: sub.Name, Payload: string(payload)}, &resp)
	if err != nil {
		return "", fmt.Errorf("submit %s: %w", sub.Name, err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("submit %s: service returned no id", sub.Name)
	}
	return resp.ID, nil
}

// Poll asks the service for the job state.
func (r *Remote) Poll(ctx context.Context, externalID string) (core.Status, bool, error) {
	state, err := r.State(ctx, externalID)
	if err != nil {
		return 0, false, err
	}
	status, err := core.ParseStatus(state.Status)
	if err != nil {
		return 0, false, nil
	}
	return status, true, nil
}

// State returns the full job state, including error details.
func (r *Remote) State(ctx context.Context, externalID string) (RemoteJobState, error) {
	var state RemoteJobState
	if err := r.do(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(externalID), nil, &state); err != nil {
		return RemoteJobState{}, fmt.Errorf("poll %s: %w", externalID, err)
	}
	return state, nil
}

// Remove asks the service to delete a collection.
func (r *Remote) Remove(ctx context.Context, repo, collection string) error {
	q := url.Values{"repo": {repo}, "name": {collection}}
	if err := r.do(ctx, http.MethodDelete, "/api/v1/collections?"+q.Encode(), nil, nil); err != nil {
		return fmt.Errorf("remove collection %s: %w", collection, err)
	}
	return nil
}

func (r *Remote) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
