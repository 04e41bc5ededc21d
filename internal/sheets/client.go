// Package sheets appends rows to a Google spreadsheet using a service account.
package sheets

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

const scope = "https://www.googleapis.com/auth/spreadsheets"

var ErrNotConfigured = errors.New("sheets client not configured")

type Config struct {
	ServiceAccountEmail string
	PrivateKey          string
	SpreadsheetID       string
	TokenURL            string
	BaseURL             string
	Timeout             time.Duration
}

type Client struct {
	email         string
	key           *rsa.PrivateKey
	spreadsheetID string
	tokenURL      string
	baseURL       string
	http          *http.Client
	now           func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// New returns a client, or one that answers ErrNotConfigured when the
// service account or spreadsheet is missing. A malformed key is an error.
func New(cfg Config) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := &Client{
		email:         cfg.ServiceAccountEmail,
		spreadsheetID: cfg.SpreadsheetID,
		tokenURL:      cfg.TokenURL,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		http:          &http.Client{Timeout: cfg.Timeout},
		now:           time.Now,
	}

	if cfg.ServiceAccountEmail == "" || cfg.PrivateKey == "" || cfg.SpreadsheetID == "" {
		return c, nil
	}

	pem := strings.ReplaceAll(cfg.PrivateKey, `\n`, "\n")
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(pem))
	if err != nil {
		return nil, errors.Wrap(err, "parse service account key")
	}
	c.key = key

	return c, nil
}

func (c *Client) Configured() bool {
	return c != nil && c.key != nil
}

// Append adds rows below the table found in rangeA1.
func (c *Client) Append(ctx context.Context, rangeA1 string, rows [][]any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(map[string]any{"values": rows})
	if err != nil {
		return errors.Wrap(err, "encode rows")
	}

	endpoint := fmt.Sprintf("%s/v4/spreadsheets/%s/values/%s:append?valueInputOption=USER_ENTERED&insertDataOption=INSERT_ROWS",
		c.baseURL, url.PathEscape(c.spreadsheetID), url.PathEscape(rangeA1))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build append request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "append request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return errors.Errorf("append failed: %d %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	return nil
}

// accessToken returns the cached token, exchanging a fresh assertion when
// it is missing or within a minute of expiry.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.token != "" && now.Before(c.expires.Add(-time.Minute)) {
		return c.token, nil
	}

	claims := jwt.MapClaims{
		"iss":   c.email,
		"scope": scope,
		"aud":   c.tokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(c.key)
	if err != nil {
		return "", errors.Wrap(err, "sign assertion")
	}

	form := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.Wrap(err, "build token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "token request")
	}
	defer resp.Body.Close()

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		Error       string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", errors.Wrapf(err, "decode token response (status %d)", resp.StatusCode)
	}
	if resp.StatusCode/100 != 2 || tok.AccessToken == "" {
		return "", errors.Errorf("token exchange failed: %d %s", resp.StatusCode, tok.Error)
	}

	if tok.ExpiresIn <= 0 {
		tok.ExpiresIn = 3600
	}
	c.token = tok.AccessToken
	c.expires = now.Add(time.Duration(tok.ExpiresIn) * time.Second)

	return c.token, nil
}
