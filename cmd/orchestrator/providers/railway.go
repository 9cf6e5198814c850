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

const railwayAPI = "https://backboard.railway.app"

// Railway uploads a tarball to a service and polls the deployment over GraphQL
type Railway struct {
	token         string
	projectID     string
	environmentID string
	serviceID     string
	baseURL       string
	http          *clients.HTTPClient
}

// NewRailway creates a Railway adapter; it needs a token, project and service
func NewRailway(token, projectID, environmentID, serviceID string, client *clients.HTTPClient) *Railway {
	return &Railway{
		token:         token,
		projectID:     projectID,
		environmentID: environmentID,
		serviceID:     serviceID,
		baseURL:       railwayAPI,
		http:          client,
	}
}

// WithBaseURL points the adapter at another API host
func (r *Railway) WithBaseURL(base string) *Railway {
	r.baseURL = strings.TrimRight(base, "/")
	return r
}

func (r *Railway) Name() string { return "railway" }
func (r *Railway) Configured() bool {
	return r.token != "" && r.projectID != "" && r.serviceID != ""
}

type railwayUpResponse struct {
	DeploymentID string `json:"deploymentId"`
	URL          string `json:"url"`
}

func (r *Railway) Submit(ctx context.Context, bundle Bundle) (Handle, error) {
	archive, err := tarGzFiles(bundle.Files)
	if err != nil {
		return Handle{}, err
	}

	q := url.Values{}
	q.Set("serviceId", r.serviceID)
	endpoint := fmt.Sprintf("%s/project/%s/environment/%s/up?%s",
		r.baseURL, url.PathEscape(r.projectID), url.PathEscape(r.environmentID), q.Encode())

	var out railwayUpResponse
	if err := doJSON(ctx, r.http, http.MethodPost, endpoint, r.token, "application/gzip", bytes.NewReader(archive), &out); err != nil {
		return Handle{}, fmt.Errorf("upload: %w", err)
	}
	if out.DeploymentID == "" {
		return Handle{}, fmt.Errorf("upload: response has no deployment id")
	}
	return Handle{JobRef: out.DeploymentID}, nil
}

const railwayDeploymentQuery = `query deployment($id: String!) { deployment(id: $id) { id status staticUrl } }`

type railwayGraphQLResponse struct {
	Data struct {
		Deployment *struct {
			ID        string `json:"id"`
			Status    string `json:"status"`
			StaticURL string `json:"staticUrl"`
		} `json:"deployment"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (r *Railway) Poll(ctx context.Context, jobRef string) (Status, error) {
	body, err := jsonBody(map[string]any{
		"query":     railwayDeploymentQuery,
		"variables": map[string]string{"id": jobRef},
	})
	if err != nil {
		return Status{}, err
	}

	var out railwayGraphQLResponse
	if err := doJSON(ctx, r.http, http.MethodPost, r.baseURL+"/graphql/v2", r.token, "application/json", body, &out); err != nil {
		return Status{}, fmt.Errorf("query deployment: %w", err)
	}
	if len(out.Errors) > 0 {
		return Status{}, fmt.Errorf("query deployment: %s", out.Errors[0].Message)
	}
	if out.Data.Deployment == nil {
		return Status{}, fmt.Errorf("query deployment: %s not found", jobRef)
	}

	d := out.Data.Deployment
	switch d.Status {
	case "SUCCESS":
		if d.StaticURL == "" {
			return Status{State: StateError, Error: "deployment succeeded without a public domain"}, nil
		}
		return Status{State: StateReady, URL: httpsURL(d.StaticURL)}, nil
	case "FAILED", "CRASHED", "REMOVED":
		return Status{State: StateError, Error: "deployment " + strings.ToLower(d.Status)}, nil
	default:
		return Status{State: StateBuilding}, nil
	}
}
