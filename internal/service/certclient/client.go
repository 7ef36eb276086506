// Package certclient talks to the chat server's certificate and key
// directory endpoints on behalf of a client device.
package certclient

import (
	"bytes"
	"context"
	"crypto"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"sealed_chat/internal/cryptographic/signature"
	"sealed_chat/internal/model"
	"sealed_chat/internal/service/certificate"
	"sealed_chat/internal/utils/log"

	"go.uber.org/zap"
)

var ErrNotFound = errors.New("certclient: not found")

type (
	// StatusError is returned for any non-2xx response.
	StatusError struct {
		Code int
		Body string
	}

	Option func(*Client)

	Client struct {
		scheme      string
		host        string
		http        *http.Client
		renewBefore time.Duration
		now         func() time.Time

		mu        sync.Mutex
		certs     map[string]*model.SenderCertificate
		serverKey crypto.PublicKey
	}
)

func (e *StatusError) Error() string {
	return fmt.Sprintf("certclient: server returned %d: %s", e.Code, e.Body)
}

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

func WithScheme(scheme string) Option {
	return func(cl *Client) { cl.scheme = scheme }
}

func WithRenewBefore(d time.Duration) Option {
	return func(cl *Client) { cl.renewBefore = d }
}

func WithClock(now func() time.Time) Option {
	return func(cl *Client) { cl.now = now }
}

// New returns a client for the server at host ("localhost:9090").
func New(host string, opts ...Option) *Client {
	c := &Client{
		scheme:      "http",
		host:        host,
		http:        &http.Client{Timeout: 10 * time.Second},
		renewBefore: certificate.DefaultRenewBefore,
		now:         time.Now,
		certs:       make(map[string]*model.SenderCertificate),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) url(path string) string {
	u := url.URL{
		Scheme: c.scheme,
		Host:   c.host,
		Path:   path,
	}
	return u.String()
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) GetSharedKeys(ctx context.Context, name string) (*model.SharedKey, error) {
	var sk model.SharedKey
	if err := c.get(ctx, fmt.Sprintf("/keys/%s", url.PathEscape(name)), &sk); err != nil {
		return nil, fmt.Errorf("get shared keys of %q: %w", name, err)
	}
	return &sk, nil
}

// RequestCertificate always asks the server for a certificate, bypassing
// the local cache.
func (c *Client) RequestCertificate(ctx context.Context, senderID string, deviceID uint32, identityKey []byte) (*model.SenderCertificate, error) {
	var dto model.CertificateDTO
	err := c.postJSON(ctx, "/certificates", &model.RequestCertificateRequest{
		UserID:      senderID,
		DeviceID:    deviceID,
		IdentityKey: base64.StdEncoding.EncodeToString(identityKey),
	}, &dto)
	if err != nil {
		return nil, fmt.Errorf("request certificate: %w", err)
	}
	return model.CertificateFromDTO(&dto)
}

// GetOrCreateCertificate returns the cached certificate for senderID until
// it enters the renewal window, then fetches a new one. A cached entry for a
// different device or identity key is never reused.
func (c *Client) GetOrCreateCertificate(ctx context.Context, senderID string, deviceID uint32, identityKey []byte) (*model.SenderCertificate, error) {
	c.mu.Lock()
	cached := c.certs[senderID]
	c.mu.Unlock()

	if cached != nil &&
		cached.DeviceID == deviceID &&
		bytes.Equal(cached.SenderIdentityKey, identityKey) &&
		!cached.NeedsRenewal(c.now(), c.renewBefore) {
		return cached.Clone(), nil
	}

	cert, err := c.RequestCertificate(ctx, senderID, deviceID, identityKey)
	if err != nil {
		return nil, err
	}
	log.Debug("sender certificate refreshed",
		zap.String("sender", senderID),
		zap.Stringer("certificate_id", cert.CertificateID),
		zap.Time("expires_at", cert.ExpiresAt))

	c.mu.Lock()
	c.certs[senderID] = cert
	c.mu.Unlock()
	return cert.Clone(), nil
}

// ServerPublicKey fetches the certificate signing key once and caches it.
func (c *Client) ServerPublicKey(ctx context.Context) (crypto.PublicKey, error) {
	c.mu.Lock()
	key := c.serverKey
	c.mu.Unlock()
	if key != nil {
		return key, nil
	}

	resp, err := c.GetServerPublicKey(ctx)
	if err != nil {
		return nil, err
	}
	key, err = signature.ParsePublicKeyPEM(resp.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("parse server public key: %w", err)
	}

	c.mu.Lock()
	c.serverKey = key
	c.mu.Unlock()
	return key, nil
}

func (c *Client) GetServerPublicKey(ctx context.Context) (*model.ServerPublicKeyResponse, error) {
	var out model.ServerPublicKeyResponse
	if err := c.get(ctx, "/certificates/public-key", &out); err != nil {
		return nil, fmt.Errorf("get server public key: %w", err)
	}
	return &out, nil
}

func (c *Client) VerifyCertificate(ctx context.Context, cert *model.SenderCertificate) (*model.VerifyCertificateResponse, error) {
	var out model.VerifyCertificateResponse
	if err := c.postJSON(ctx, "/certificates/verify", cert.ToDTO(), &out); err != nil {
		return nil, fmt.Errorf("verify certificate: %w", err)
	}
	return &out, nil
}

// RevokeCertificate uses the server's admin credentials.
func (c *Client) RevokeCertificate(ctx context.Context, id, user, password string) (*model.RevokeCertificateResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.url("/certificates/"+url.PathEscape(id)), nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(user, password)

	var out model.RevokeCertificateResponse
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("revoke certificate: %w", err)
	}

	c.mu.Lock()
	for sender, cert := range c.certs {
		if cert.CertificateID.String() == id {
			delete(c.certs, sender)
		}
	}
	c.mu.Unlock()
	return &out, nil
}
