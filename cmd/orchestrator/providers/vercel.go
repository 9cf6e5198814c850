package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/lyzr/appforge/common/clients"
)

const vercelAPI = "https://api.vercel.com"

// Vercel deploys inline files through the v13 deployments API
type Vercel struct {
	token   string
	teamID  string
	baseURL string
	http    *clients.HTTPClient
}

// NewVercel creates a Vercel adapter; an empty token leaves it unconfigured
func NewVercel(token, teamID string, client *clients.HTTPClient) *Vercel {
	return &Vercel{token: token, teamID: teamID, baseURL: vercelAPI, http: client}
}

// WithBaseURL points the adapter at another API host
func (v *Vercel) WithBaseURL(base string) *Vercel {
	v.baseURL = strings.TrimRight(base, "/")
	return v
}

func (v *Vercel) Name() string     { return "vercel" }
func (v *Vercel) Configured() bool { return v.token != "" }

type vercelFile struct {
	File     string `json:"file"`
	Data     string `json:"data"`
	Encoding string `json:"encoding"`
}

type vercelDeployment struct {
	ID           string `json:"id"`
	URL          string `json:"url"`
	ReadyState   string `json:"readyState"`
	ErrorMessage string `json:"errorMessage"`
}

func (v *Vercel) endpoint(path string) string {
	u := v.baseURL + path
	if v.teamID != "" {
		u += "?teamId=" + url.QueryEscape(v.teamID)
	}
	return u
}

func (v *Vercel) Submit(ctx context.Context, bundle Bundle) (Handle, error) {
	files := make([]vercelFile, 0, len(bundle.Files))
	for _, f := range bundle.Files {
		files = append(files, vercelFile{File: f.Path, Data: f.Content, Encoding: "utf-8"})
	}

	body, err := jsonBody(map[string]any{
		"name":   projectSlug(bundle.ProjectID),
		"files":  files,
		"target": "production",
		"meta":   map[string]string{"deploymentId": bundle.DeploymentID},
	})
	if err != nil {
		return Handle{}, err
	}

	var out vercelDeployment
	if err := doJSON(ctx, v.http, http.MethodPost, v.endpoint("/v13/deployments"), v.token, "application/json", body, &out); err != nil {
		return Handle{}, fmt.Errorf("create deployment: %w", err)
	}
	if out.ID == "" {
		return Handle{}, fmt.Errorf("create deployment: response has no id")
	}
	return Handle{JobRef: out.ID}, nil
}

func (v *Vercel) Poll(ctx context.Context, jobRef string) (Status, error) {
	var out vercelDeployment
	if err := doJSON(ctx, v.http, http.MethodGet, v.endpoint("/v13/deployments/"+url.PathEscape(jobRef)), v.token, "", nil, &out); err != nil {
		return Status{}, fmt.Errorf("get deployment: %w", err)
	}

	switch out.ReadyState {
	case "READY":
		return Status{State: StateReady, URL: httpsURL(out.URL)}, nil
	case "ERROR", "CANCELED":
		msg := out.ErrorMessage
		if msg == "" {
			msg = "deployment " + strings.ToLower(out.ReadyState)
		}
		return Status{State: StateError, Error: msg}, nil
	default:
		return Status{State: StateBuilding}, nil
	}
}

// httpsURL prefixes bare hostnames returned by provider APIs
func httpsURL(host string) string {
	if host == "" || strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host
	}
	return "https://" + host
}

// projectSlug turns a project id into a provider-safe name
func projectSlug(projectID string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(projectID) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		slug = "app"
	}
	if len(slug) > 52 {
		slug = slug[:52]
	}
	return slug
}
