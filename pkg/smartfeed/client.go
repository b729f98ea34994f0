// Package smartfeed handles the Angel One SmartAPI session and market-data
// websocket. The session client logs in with password + TOTP and yields the
// jwt and feed tokens; Feed streams the raw binary frames, leaving decoding
// to the caller.
package smartfeed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
)

const (
	defaultRootURL = "https://apiconnect.angelone.in"
	loginRoute     = "/rest/auth/angelbroking/user/v1/loginByPassword"
	logoutRoute    = "/rest/secure/angelbroking/user/v1/logout"

	defaultTimeout = 7 * time.Second
)

// ClientConfig holds the SmartAPI credentials.
type ClientConfig struct {
	APIKey     string
	ClientCode string
	Password   string
	TOTPSecret string

	RootURL string        // default: https://apiconnect.angelone.in
	Timeout time.Duration // default: 7s
}

// Session holds the tokens returned by a successful login.
type Session struct {
	AuthToken    string // jwt, sent as Authorization: Bearer
	RefreshToken string
	FeedToken    string
}

// Client is a minimal SmartAPI session client: login, logout.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client

	localIP string
	mac     string
}

// NewClient creates a session client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.RootURL == "" {
		cfg.RootURL = defaultRootURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		localIP:    localIP(),
		mac:        macAddress(),
	}
}

// Login generates the current TOTP code and exchanges the credentials for
// session tokens.
func (c *Client) Login() (*Session, error) {
	code, err := totp.GenerateCode(c.cfg.TOTPSecret, time.Now())
	if err != nil {
		return nil, fmt.Errorf("smartfeed: totp: %w", err)
	}

	body, _ := json.Marshal(map[string]string{
		"clientcode": c.cfg.ClientCode,
		"password":   c.cfg.Password,
		"totp":       code,
	})

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(c.cfg.RootURL, "/")+loginRoute, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("smartfeed: login request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var out struct {
		Status  bool   `json:"status"`
		Message string `json:"message"`
		Data    struct {
			JWTToken     string `json:"jwtToken"`
			RefreshToken string `json:"refreshToken"`
			FeedToken    string `json:"feedToken"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("smartfeed: login response: %w", err)
	}
	if !out.Status {
		return nil, fmt.Errorf("smartfeed: login failed: %s", out.Message)
	}
	if out.Data.JWTToken == "" || out.Data.FeedToken == "" {
		return nil, errors.New("smartfeed: login response missing tokens")
	}

	return &Session{
		AuthToken:    out.Data.JWTToken,
		RefreshToken: out.Data.RefreshToken,
		FeedToken:    out.Data.FeedToken,
	}, nil
}

// Logout terminates the session.
func (c *Client) Logout(sess *Session) error {
	body, _ := json.Marshal(map[string]string{"clientcode": c.cfg.ClientCode})
	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(c.cfg.RootURL, "/")+logoutRoute, bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.setHeaders(req, sess.AuthToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("smartfeed: logout request: %w", err)
	}
	resp.Body.Close()
	return nil
}

func (c *Client) setHeaders(req *http.Request, authToken string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-ClientLocalIP", c.localIP)
	req.Header.Set("X-ClientPublicIP", c.localIP)
	req.Header.Set("X-MACAddress", c.mac)
	req.Header.Set("X-PrivateKey", c.cfg.APIKey)
	req.Header.Set("X-UserType", "USER")
	req.Header.Set("X-SourceID", "WEB")
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}
}

func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err == nil {
		for _, addr := range addrs {
			if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() && ipNet.IP.To4() != nil {
				return ipNet.IP.String()
			}
		}
	}
	return "127.0.0.1"
}

func macAddress() string {
	ifs, _ := net.Interfaces()
	for _, ifc := range ifs {
		if len(ifc.HardwareAddr) > 0 {
			return ifc.HardwareAddr.String()
		}
	}
	return "00:11:22:33:44:55"
}
