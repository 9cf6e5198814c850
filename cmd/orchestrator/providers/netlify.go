package providers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/lyzr/appforge/common/clients"
)

const netlifyAPI = "https://api.netlify.com/api/v1"

// Netlify deploys a zipped file set to an existing site
type Netlify struct {
	token   string
	siteID  string
	baseURL string
	http    *clients.HTTPClient
}

// NewNetlify creates a Netlify adapter; it needs both a token and a site id
func NewNetlify(token, siteID string, client *clients.HTTPClient) *Netlify {
	return &Netlify{token: token, siteID: siteID, baseURL: netlifyAPI, http: client}
}

// WithBaseURL points the adapter at another API host
func (n *Netlify) WithBaseURL(base string) *Netlify {
	n.baseURL = strings.TrimRight(base, "/")
	return n
}

func (n *Netlify) Name() string     { return "netlify" }
func (n *Netlify) Configured() bool { return n.token != "" && n.siteID != "" }

type netlifyDeploy struct {
	ID           string `json:"id"`
	State        string `json:"state"`
	SSLURL       string `json:"ssl_url"`
	DeploySSLURL string `json:"deploy_ssl_url"`
	ErrorMessage string `json:"error_message"`
}

func (n *Netlify) Submit(ctx context.Context, bundle Bundle) (Handle, error) {
	archive, err := zipFiles(bundle.Files)
	if err != nil {
		return Handle{}, err
	}

	endpoint := fmt.Sprintf("%s/sites/%s/deploys", n.baseURL, url.PathEscape(n.siteID))
	var out netlifyDeploy
	if err := doJSON(ctx, n.http, http.MethodPost, endpoint, n.token, "application/zip", bytes.NewReader(archive), &out); err != nil {
		return Handle{}, fmt.Errorf("create deploy: %w", err)
	}
	if out.ID == "" {
		return Handle{}, fmt.Errorf("create deploy: response has no id")
	}
	return Handle{JobRef: out.ID}, nil
}

func (n *Netlify) Poll(ctx context.Context, jobRef string) (Status, error) {
	var out netlifyDeploy
	endpoint := fmt.Sprintf("%s/deploys/%s", n.baseURL, url.PathEscape(jobRef))
	if err := doJSON(ctx, n.http, http.MethodGet, endpoint, n.token, "", nil, &out); err != nil {
		return Status{}, fmt.Errorf("get deploy: %w", err)
	}

	switch out.State {
	case "ready":
		u := out.DeploySSLURL
		if u == "" {
			u = out.SSLURL
		}
		return Status{State: StateReady, URL: u}, nil
	case "error":
		msg := out.ErrorMessage
		if msg == "" {
			msg = "deploy failed"
		}
		return Status{State: StateError, Error: msg}, nil
	default:
		return Status{State: StateBuilding}, nil
	}
}
