// Package marketplace polls the marketplace scraping endpoint for the
// orders visible to a batch of session credentials.
package marketplace

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/pkg/errors"
)

const (
	DefaultBaseURL = "https://tksieure.top/check_order"

	DefaultBaseTimeout          = 30 * time.Second
	DefaultPerCredentialTimeout = 3 * time.Second

	maxBodyBytes = 8 << 20
)

var (
	// ErrCredentialExpired is returned when the response carries the expired
	// banner without saying which credential of the batch it belongs to.
	ErrCredentialExpired = errors.New("marketplace credential expired")
	// ErrServiceUnauthorized means the scraping service rejected our token.
	ErrServiceUnauthorized = errors.New("marketplace service token rejected")
)

// BatchResult holds the drafts of one batch call. Expired lists the 1-based
// ordinals of credentials the response marked as expired.
type BatchResult struct {
	Drafts  []models.OrderDraft
	Expired []int
}

type Client struct {
	baseURL string
	token   string

	baseTimeout          time.Duration
	perCredentialTimeout time.Duration

	httpc *http.Client
}

func New(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:              baseURL,
		token:                token,
		baseTimeout:          DefaultBaseTimeout,
		perCredentialTimeout: DefaultPerCredentialTimeout,
		httpc: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
					MaxVersion: tls.VersionTLS12,
				},
			},
			// A redirect means the service sent us to its login page.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (c *Client) WithTimeouts(base, perCredential time.Duration) *Client {
	if base > 0 {
		c.baseTimeout = base
	}
	if perCredential > 0 {
		c.perCredentialTimeout = perCredential
	}
	return c
}

// BatchTimeout is the deadline for a call carrying n credentials.
func (c *Client) BatchTimeout(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return c.baseTimeout + time.Duration(n)*c.perCredentialTimeout
}

// Fetch polls a single credential.
func (c *Client) Fetch(ctx context.Context, credential string) (BatchResult, error) {
	return c.FetchBatch(ctx, []string{credential})
}

func (c *Client) FetchBatch(ctx context.Context, credentials []string) (BatchResult, error) {
	if len(credentials) == 0 {
		return BatchResult{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.BatchTimeout(len(credentials)))
	defer cancel()

	norm := make([]string, 0, len(credentials))
	for _, cr := range credentials {
		norm = append(norm, NormalizeCredential(cr))
	}
	form := "cookie=" + url.QueryEscape(strings.Join(norm, "\n")) + "&proxy="

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewBufferString(form))
	if err != nil {
		return BatchResult{}, errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.token != "" {
		req.Header.Set("Cookie", "token="+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return BatchResult{}, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusFound || resp.StatusCode == http.StatusSeeOther {
		return BatchResult{}, ErrServiceUnauthorized
	}
	if resp.StatusCode >= 400 {
		return BatchResult{}, fmt.Errorf("marketplace http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return BatchResult{}, errors.Wrap(err, "read body")
	}

	var res BatchResult
	if isHTML(resp.Header.Get("Content-Type"), body) {
		res, err = parseHTML(string(body))
	} else {
		res, err = parseJSON(body)
	}
	if err != nil {
		return BatchResult{}, err
	}

	if len(credentials) == 1 {
		// A single credential owns everything in the response.
		for _, o := range res.Expired {
			if o == 1 {
				return BatchResult{}, ErrCredentialExpired
			}
		}
		for i := range res.Drafts {
			if res.Drafts[i].Ordinal == 0 {
				res.Drafts[i].Ordinal = 1
			}
		}
	}
	return res, nil
}

// NormalizeCredential reduces a raw cookie string to its SPC_ST pair.
func NormalizeCredential(raw string) string {
	raw = strings.TrimSpace(raw)
	const key = "SPC_ST="
	if i := strings.Index(raw, key); i >= 0 {
		v := raw[i+len(key):]
		if j := strings.IndexByte(v, ';'); j >= 0 {
			v = v[:j]
		}
		return key + strings.TrimSpace(v)
	}
	return key + raw
}

func isHTML(contentType string, body []byte) bool {
	if strings.Contains(contentType, "text/html") {
		return true
	}
	if strings.Contains(contentType, "json") {
		return false
	}
	return bytes.HasPrefix(bytes.TrimSpace(body), []byte("<"))
}
