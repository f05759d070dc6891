// Package httpclient is the thin, typed wrapper over the backend's REST
// surface spec.md §4.4 describes, grounded on Resinat-Resin's
// internal/netutil downloader shape (explicit *http.Client, explicit
// per-call timeout via context, fmt.Errorf-wrapped errors, status-code
// classification).
package httpclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/miruml/agent/internal/agenterr"
	"github.com/miruml/agent/internal/model"
)

// TokenProvider supplies a bearer token for authenticated calls. Satisfied
// by internal/token.Manager; kept as an interface here to avoid an import
// cycle (the token manager itself uses this client to call the token
// endpoint).
type TokenProvider interface {
	GetToken(ctx context.Context) (string, error)
}

// Client is a typed wrapper over the backend's config-sync REST surface.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	tokens  TokenProvider
}

// Config bundles the parameters needed to build a Client.
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	Tokens         TokenProvider
}

// New builds a Client against baseURL, timing out each call at
// cfg.RequestTimeout unless the caller's context already carries a deadline.
func New(cfg Config) (*Client, error) {
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("httpclient: invalid base URL %q: %w", cfg.BaseURL, err)
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{},
		timeout: cfg.RequestTimeout,
		tokens:  cfg.Tokens,
	}, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline || c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// do issues an HTTP call against path+query, marshaling reqBody (if
// non-nil) as the JSON request body and unmarshaling the response into
// out (if non-nil). When authed is true, a bearer token is attached via
// the configured TokenProvider.
func (c *Client) do(ctx context.Context, location, method, path, query string, reqBody, out any, authed bool) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var bodyReader io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return agenterr.Wrap(agenterr.KindHTTPPermanent, location, err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+query, bodyReader)
	if err != nil {
		return agenterr.Wrap(agenterr.KindHTTPTransient, location, err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		if c.tokens == nil {
			return agenterr.New(agenterr.KindHTTPAuth, location, "no token provider configured")
		}
		token, err := c.tokens.GetToken(ctx)
		if err != nil {
			return agenterr.Wrap(agenterr.KindHTTPTransient, location, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return agenterr.Wrap(agenterr.KindHTTPTransient, location, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return agenterr.Wrap(agenterr.KindHTTPTransient, location, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(location, resp.StatusCode, respBody)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return agenterr.Wrap(agenterr.KindHTTPPermanent, location, err)
		}
	}
	return nil
}

// HashSchema calls POST /schemas/hash and returns the resulting digest.
func (c *Client) HashSchema(ctx context.Context, format string, schema []byte) (string, error) {
	type request struct {
		Format string `json:"format"`
		Schema string `json:"schema"`
	}
	type response struct {
		Digest string `json:"digest"`
	}
	var resp response
	req := request{Format: format, Schema: base64.StdEncoding.EncodeToString(schema)}
	if err := c.do(ctx, "httpclient.HashSchema", http.MethodPost, "/schemas/hash", "", req, &resp, true); err != nil {
		return "", err
	}
	return resp.Digest, nil
}

// RequestToken calls POST /tokens with a signed challenge and returns the
// issued token. This call is never authenticated by a bearer token itself
// — it IS the call that produces one.
func (c *Client) RequestToken(ctx context.Context, deviceID, publicKeyHex, challenge, signatureHex string) (model.Token, error) {
	type request struct {
		DeviceID     string `json:"device_id"`
		PublicKey    string `json:"public_key"`
		Challenge    string `json:"challenge"`
		SignatureHex string `json:"signature"`
	}
	var tok model.Token
	req := request{DeviceID: deviceID, PublicKey: publicKeyHex, Challenge: challenge, SignatureHex: signatureHex}
	if err := c.do(ctx, "httpclient.RequestToken", http.MethodPost, "/tokens", "", req, &tok, false); err != nil {
		return model.Token{}, err
	}
	return tok, nil
}

// ListConfigInstances calls GET /config-instances with the shared
// pagination/search/expand query convention.
func (c *Client) ListConfigInstances(ctx context.Context, p Pagination, search string, expand []string) ([]model.ConfigInstance, error) {
	query := BuildQueryParams(search, BuildExpandQuery(expand), p)
	var out []model.ConfigInstance
	if err := c.do(ctx, "httpclient.ListConfigInstances", http.MethodGet, "/config-instances", query, nil, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

// PushConfigInstance pushes a locally-dirty config instance upstream.
func (c *Client) PushConfigInstance(ctx context.Context, inst model.ConfigInstance) (model.ConfigInstance, error) {
	var out model.ConfigInstance
	path := fmt.Sprintf("/config-instances/%s", inst.ID)
	if err := c.do(ctx, "httpclient.PushConfigInstance", http.MethodPut, path, "", inst, &out, true); err != nil {
		return model.ConfigInstance{}, err
	}
	return out, nil
}

// PullConfigInstance fetches the authoritative state of one config instance.
func (c *Client) PullConfigInstance(ctx context.Context, id string) (model.ConfigInstance, error) {
	var out model.ConfigInstance
	path := fmt.Sprintf("/config-instances/%s", id)
	if err := c.do(ctx, "httpclient.PullConfigInstance", http.MethodGet, path, "", nil, &out, true); err != nil {
		return model.ConfigInstance{}, err
	}
	return out, nil
}

// PushConfigSchema pushes a locally-dirty schema upstream, symmetric with
// PushConfigInstance per spec.md §6.
func (c *Client) PushConfigSchema(ctx context.Context, s model.ConfigSchema) (model.ConfigSchema, error) {
	var out model.ConfigSchema
	path := fmt.Sprintf("/config-schemas/%s", s.ID)
	if err := c.do(ctx, "httpclient.PushConfigSchema", http.MethodPut, path, "", s, &out, true); err != nil {
		return model.ConfigSchema{}, err
	}
	return out, nil
}

// PullConfigSchema fetches the authoritative state of one schema by type
// slug and digest.
func (c *Client) PullConfigSchema(ctx context.Context, typeSlug, digest string) (model.ConfigSchema, error) {
	var out model.ConfigSchema
	path := fmt.Sprintf("/config-schemas/%s/%s", typeSlug, digest)
	if err := c.do(ctx, "httpclient.PullConfigSchema", http.MethodGet, path, "", nil, &out, true); err != nil {
		return model.ConfigSchema{}, err
	}
	return out, nil
}

// PullDigests fetches the (raw, resolved) digest pair for a config type.
func (c *Client) PullDigests(ctx context.Context, typeSlug string) (model.SchemaDigests, error) {
	var out model.SchemaDigests
	path := fmt.Sprintf("/config-schemas/%s/digests", typeSlug)
	if err := c.do(ctx, "httpclient.PullDigests", http.MethodGet, path, "", nil, &out, true); err != nil {
		return model.SchemaDigests{}, err
	}
	return out, nil
}

// PullConcreteConfig fetches the rendered configuration payload for a
// (config type, schema digest) pair.
func (c *Client) PullConcreteConfig(ctx context.Context, typeSlug, digest string) (model.ConcreteConfig, error) {
	var out model.ConcreteConfig
	path := fmt.Sprintf("/concrete-configs/%s/%s", typeSlug, digest)
	if err := c.do(ctx, "httpclient.PullConcreteConfig", http.MethodGet, path, "", nil, &out, true); err != nil {
		return model.ConcreteConfig{}, err
	}
	return out, nil
}
