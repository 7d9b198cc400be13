// Package client talks to a running medchain server.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/liftedinit/medchain/internal/models"
)

// Response is the common envelope of write endpoints.
type Response struct {
	Success   bool     `json:"success"`
	Message   string   `json:"message"`
	ErrorType string   `json:"error_type,omitempty"`
	Field     string   `json:"field,omitempty"`
	Remaining *float64 `json:"remaining,omitempty"`
}

type ConsentGrant struct {
	Success bool   `json:"success"`
	OTP     string `json:"otp"`
	Expiry  int64  `json:"expiry"`
	Message string `json:"message"`
}

type ChainStatus struct {
	Valid      bool   `json:"valid"`
	Message    string `json:"message"`
	BlockCount int    `json:"block_count"`
}

type History struct {
	Success bool                  `json:"success"`
	Records []models.HistoryEntry `json:"records"`
	Message string                `json:"message"`
}

// RecordRequest is the body of an add_record call.
type RecordRequest struct {
	PatientID   string             `json:"patientId"`
	DoctorID    string             `json:"doctorId"`
	Department  string             `json:"department,omitempty"`
	OTP         string             `json:"otp"`
	MedicalData models.MedicalData `json:"medical_data"`
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

type Client struct {
	http *resty.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
	}
}

// SetToken sends token as a bearer credential on every later call.
func (c *Client) SetToken(token string) {
	c.http.SetAuthToken(token)
}

func (c *Client) RequestConsent(ctx context.Context, patientID, password string) (*ConsentGrant, error) {
	var out ConsentGrant
	err := c.post(ctx, "/api/request_consent", map[string]string{"patientId": patientID, "password": password}, &out, &out.Message)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AddRecord(ctx context.Context, req RecordRequest) (*Response, error) {
	var out Response
	if err := c.post(ctx, "/api/add_record", req, &out, &out.Message); err != nil {
		return &out, err
	}
	return &out, nil
}

// Commit asks the server to run a consensus attempt.
func (c *Client) Commit(ctx context.Context) (*Response, error) {
	var out Response
	if err := c.post(ctx, "/api/validate", nil, &out, &out.Message); err != nil {
		return &out, err
	}
	return &out, nil
}

func (c *Client) ValidateChain(ctx context.Context) (*ChainStatus, error) {
	var out ChainStatus
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get("/api/validate_chain")
	if err != nil {
		return nil, fmt.Errorf("failed to query chain status: %w", err)
	}
	if resp.IsError() {
		return nil, &APIError{Status: resp.StatusCode(), Message: resp.String()}
	}
	return &out, nil
}

func (c *Client) PatientRecords(ctx context.Context, patientID, password string) (*History, error) {
	var out History
	err := c.post(ctx, "/api/patient_records", map[string]string{"patientId": patientID, "password": password}, &out, &out.Message)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// post sends body and decodes the answer into out whatever the status. A
// non-2xx status becomes an APIError carrying *message.
func (c *Client) post(ctx context.Context, path string, body, out any, message *string) error {
	req := c.http.R().SetContext(ctx).SetResult(out).SetError(out)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Post(path)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", path, err)
	}
	if resp.IsError() {
		return &APIError{Status: resp.StatusCode(), Message: *message}
	}
	return nil
}
