package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gojektech/heimdall/v6/httpclient"
	"github.com/google/uuid"
)

// HTTPDirectory looks records up in an external registry over HTTP:
// GET {baseURL}/doctors/{id}, /labs/{id} and /patients/{id}.
type HTTPDirectory struct {
	baseURL string
	token   string
	client  *httpclient.Client
}

func NewHTTPDirectory(baseURL, token string, timeout time.Duration) *HTTPDirectory {
	return &HTTPDirectory{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client: httpclient.NewClient(
			httpclient.WithHTTPTimeout(timeout),
			httpclient.WithRetryCount(2),
		),
	}
}

func (d *HTTPDirectory) Doctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	var doc Doctor
	if err := d.get(ctx, "doctors", id, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (d *HTTPDirectory) Lab(ctx context.Context, id uuid.UUID) (*Lab, error) {
	var lab Lab
	if err := d.get(ctx, "labs", id, &lab); err != nil {
		return nil, err
	}
	return &lab, nil
}

func (d *HTTPDirectory) Patient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	if err := d.get(ctx, "patients", id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (d *HTTPDirectory) get(ctx context.Context, kind string, id uuid.UUID, out interface{}) error {
	url := fmt.Sprintf("%s/%s/%s", d.baseURL, kind, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	// heimdall hands back the last response alongside a retry error
	res, err := d.client.Do(req)
	if err != nil {
		if res != nil {
			res.Body.Close()
		}
		return fmt.Errorf("GET %s: %w", url, err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", strings.TrimSuffix(kind, "s"), id, ErrNotFound)
	default:
		return fmt.Errorf("GET %s: unexpected status %s", url, res.Status)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", kind, id, err)
	}
	return nil
}
