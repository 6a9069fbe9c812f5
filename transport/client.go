package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/syncstack/airsync/interfaces"
	"github.com/syncstack/airsync/internal/enum"
	"github.com/syncstack/airsync/internal/logger"
	"github.com/syncstack/airsync/internal/models"
	"github.com/syncstack/airsync/internal/tracing"
)

const (
	commandPath       = "/Microsoft-Server-ActiveSync"
	policyKeyHeader   = "X-MS-PolicyKey"
	protocolVersionHd = "MS-ASProtocolVersion"
	userAgent         = "airsync/1.0"

	defaultRequestTimeout = 30 * time.Second
	dialTimeout           = 10 * time.Second
	tlsHandshakeTimeout   = 10 * time.Second
)

type authMode int

const (
	authUnknown authMode = iota
	authNTLM
	authBasic
)

// accountClient issues protocol commands for one account. It owns the
// negotiated auth mode and the TLS-configured http client; both are rebuilt
// by the cache when the account's credentials or trust policy change.
type accountClient struct {
	log      logger.Logger
	accounts interfaces.AccountRepository

	httpClient *http.Client
	endpoint   *url.URL

	accountID  string
	username   string
	password   string
	deviceID   string
	deviceType string
	generation enum.ServerGeneration

	mu        sync.Mutex
	mode      authMode
	policyKey string
}

func newAccountClient(account *models.Account, accounts interfaces.AccountRepository, log logger.Logger) (*accountClient, error) {
	endpoint, err := url.Parse(account.ServerURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid server url")
	}
	if endpoint.Path == "" || endpoint.Path == "/" {
		endpoint.Path = commandPath
	}

	tlsConfig, err := buildTLSConfig(account)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{
		// No client-wide timeout: Ping requests legitimately outlive any
		// fixed budget, so deadlines come from the request context.
		Transport: &http.Transport{
			DialContext:         (&net.Dialer{Timeout: dialTimeout}).DialContext,
			TLSClientConfig:     tlsConfig,
			TLSHandshakeTimeout: tlsHandshakeTimeout,
			// NTLM authenticates the connection, not the request.
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     4 * time.Minute,
		},
	}

	return &accountClient{
		log:        log,
		accounts:   accounts,
		httpClient: httpClient,
		endpoint:   endpoint,
		accountID:  account.ID,
		username:   account.Username,
		password:   account.Password,
		deviceID:   account.DeviceID,
		deviceType: account.DeviceType,
		generation: account.ServerGeneration,
		policyKey:  account.PolicyKey,
	}, nil
}

func buildTLSConfig(account *models.Account) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: account.TrustAllCerts,
	}

	if account.ClientCertPEM == "" {
		return cfg, nil
	}

	keyPEM := []byte(account.ClientKeyPEM)
	if account.ClientCertPassphrase != "" {
		block, _ := pem.Decode(keyPEM)
		if block == nil {
			return nil, errors.New("client key is not valid pem")
		}
		der, err := x509.DecryptPEMBlock(block, []byte(account.ClientCertPassphrase))
		if err != nil {
			return nil, errors.Wrap(err, "failed to decrypt client key")
		}
		keyPEM = pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der})
	}

	cert, err := tls.X509KeyPair([]byte(account.ClientCertPEM), keyPEM)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load client certificate")
	}
	cfg.Certificates = []tls.Certificate{cert}
	return cfg, nil
}

func (c *accountClient) send(ctx context.Context, command, contentType string, body []byte) ([]byte, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "transport.send")
	defer span.Finish()
	tracing.TagComponentTransport(span)
	tracing.TagAccount(span, c.accountID)
	span.SetTag("command", command)

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultRequestTimeout)
		defer cancel()
	}

	c.mu.Lock()
	mode := c.mode
	c.mu.Unlock()

	var resp *http.Response
	var err error
	switch mode {
	case authBasic:
		resp, err = c.doBasic(ctx, command, contentType, body)
	default:
		resp, err = c.doNTLM(ctx, command, contentType, body)
		if err == nil && resp.StatusCode == http.StatusUnauthorized {
			// Server never offered an NTLM challenge or rejected the
			// authenticate message; try Basic once and remember the answer.
			drain(resp)
			resp, err = c.doBasic(ctx, command, contentType, body)
			if err == nil && resp.StatusCode != http.StatusUnauthorized {
				c.setMode(authBasic)
			}
		} else if err == nil && mode == authUnknown {
			c.setMode(authNTLM)
		}
	}
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, &Error{Command: command, Err: err}
	}
	defer resp.Body.Close()

	c.capturePolicyKey(ctx, resp)

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, &Error{Command: command, Err: errors.Wrap(err, "failed to read response body")}
	}

	if resp.StatusCode != http.StatusOK {
		terr := &Error{Command: command, StatusCode: resp.StatusCode}
		tracing.TraceErr(span, terr)
		return nil, terr
	}
	return payload, nil
}

func (c *accountClient) doBasic(ctx context.Context, command, contentType string, body []byte) (*http.Response, error) {
	cred := base64.StdEncoding.EncodeToString([]byte(c.username + ":" + c.password))
	req, err := c.newRequest(ctx, command, contentType, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Basic "+cred)
	return c.httpClient.Do(req)
}

func (c *accountClient) doNTLM(ctx context.Context, command, contentType string, body []byte) (*http.Response, error) {
	req, err := c.newRequest(ctx, command, contentType, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "NTLM "+ntlmNegotiateMessage())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	challenge := ntlmChallengeFrom(resp.Header)
	if challenge == "" {
		return resp, nil
	}
	drain(resp)

	parsed, err := parseNTLMChallenge(challenge)
	if err != nil {
		return nil, err
	}
	authenticate, err := ntlmAuthenticateMessage(c.username, c.password, parsed)
	if err != nil {
		return nil, err
	}

	req, err = c.newRequest(ctx, command, contentType, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "NTLM "+authenticate)
	return c.httpClient.Do(req)
}

func (c *accountClient) newRequest(ctx context.Context, command, contentType string, body []byte) (*http.Request, error) {
	u := *c.endpoint
	q := u.Query()
	q.Set("Cmd", command)
	q.Set("User", c.username)
	q.Set("DeviceId", c.deviceID)
	q.Set("DeviceType", c.deviceType)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", userAgent)
	if c.generation == enum.GenerationLegacy {
		req.Header.Set(protocolVersionHd, "2.5")
	} else {
		req.Header.Set(protocolVersionHd, "14.1")
	}

	c.mu.Lock()
	if c.policyKey != "" {
		req.Header.Set(policyKeyHeader, c.policyKey)
	}
	c.mu.Unlock()

	return req, nil
}

// capturePolicyKey persists a server-issued policy key as soon as it
// appears, regardless of how the surrounding request ends. Some server
// generations refuse every command until the key exists.
func (c *accountClient) capturePolicyKey(ctx context.Context, resp *http.Response) {
	key := resp.Header.Get(policyKeyHeader)
	if key == "" {
		return
	}

	c.mu.Lock()
	changed := key != c.policyKey
	c.policyKey = key
	c.mu.Unlock()

	if !changed {
		return
	}
	if err := c.accounts.SavePolicyKey(ctx, c.accountID, key); err != nil {
		c.log.Warnf("failed to persist policy key for account %s: %v", c.accountID, err)
	}
}

func (c *accountClient) setMode(mode authMode) {
	c.mu.Lock()
	c.mode = mode
	c.mu.Unlock()
}

func (c *accountClient) close() {
	if t, ok := c.httpClient.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}

func ntlmChallengeFrom(header http.Header) string {
	for _, value := range header.Values("Www-Authenticate") {
		if strings.HasPrefix(value, "NTLM ") {
			return strings.TrimSpace(strings.TrimPrefix(value, "NTLM "))
		}
	}
	return ""
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}
