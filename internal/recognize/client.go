package recognize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"time"

	"attendance-go/config"

	log "github.com/sirupsen/logrus"
)

// Client talks to a CompreFace-compatible recognition backend. It is safe
// for concurrent use; the underlying model is loaded once on the backend,
// so one client instance is created at startup and shared.
type Client struct {
	config     config.RecognizerConfig
	httpClient *http.Client
}

// recognitionResponse mirrors the backend's recognition payload.
type recognitionResponse struct {
	Result []struct {
		Box struct {
			Probability float64 `json:"probability"`
			XMin        int     `json:"x_min"`
			YMin        int     `json:"y_min"`
			XMax        int     `json:"x_max"`
			YMax        int     `json:"y_max"`
		} `json:"box"`
		Subjects []struct {
			Subject    string  `json:"subject"`
			Similarity float64 `json:"similarity"`
		} `json:"subjects"`
	} `json:"result"`
}

// verificationResponse mirrors the backend's verification payload.
type verificationResponse struct {
	Result []struct {
		FaceMatches []struct {
			Similarity float64 `json:"similarity"`
		} `json:"face_matches"`
	} `json:"result"`
}

// apiError is the backend's error envelope; code 28 is "no face found".
type apiError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// NewClient creates a new recognition backend client.
func NewClient(cfg config.RecognizerConfig) *Client {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// IsAvailable checks whether the backend answers on its subjects endpoint.
func (c *Client) IsAvailable(ctx context.Context) bool {
	apiURL, err := url.JoinPath(c.config.URL, "/api/v1/recognition/subjects/")
	if err != nil {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("x-api-key", c.config.RecognitionAPIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// Recognize sends the probe image to the backend's gallery search and
// returns the candidates ranked by similarity, best first. A probe in which
// the backend detects no face returns an empty slice and no error.
func (c *Client) Recognize(ctx context.Context, image []byte) ([]Match, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "probe.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	if err := writer.WriteField("limit", "10"); err != nil {
		log.Warnf("Failed to add limit parameter: %v", err)
	}
	detProbThreshold := fmt.Sprintf("%.2f", c.config.DetProbThreshold)
	if err := writer.WriteField("det_prob_threshold", detProbThreshold); err != nil {
		log.Warnf("Failed to add det_prob_threshold parameter: %v", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	apiURL, err := url.JoinPath(c.config.URL, "/api/v1/recognition/recognize")
	if err != nil {
		return nil, fmt.Errorf("failed to create API URL: %w", err)
	}

	respBody, status, err := c.post(ctx, apiURL, c.config.RecognitionAPIKey, writer.FormDataContentType(), body)
	if err != nil {
		return nil, err
	}

	if status == http.StatusBadRequest && isNoFace(respBody) {
		// Normal unknown-visitor case: the probe contains no detectable
		// face. Not a fault.
		log.Debug("Recognizer found no face in probe image")
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: backend returned status %d: %s", ErrUnavailable, status, string(respBody))
	}

	var result recognitionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", ErrUnavailable, err)
	}

	var matches []Match
	for _, face := range result.Result {
		for _, subject := range face.Subjects {
			matches = append(matches, Match{
				Subject:    subject.Subject,
				Similarity: subject.Similarity,
			})
		}
	}
	// The backend ranks per face; with several faces in frame the combined
	// list still has to be best-first.
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})

	log.Debugf("Recognizer returned %d candidates for probe", len(matches))
	return matches, nil
}

// Verify compares the probe against one reference image using the
// backend's verification endpoint.
func (c *Client) Verify(ctx context.Context, probe, reference []byte) (Verification, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	source, err := writer.CreateFormFile("source_image", "probe.jpg")
	if err != nil {
		return Verification{}, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := source.Write(probe); err != nil {
		return Verification{}, fmt.Errorf("failed to write probe data: %w", err)
	}

	target, err := writer.CreateFormFile("target_image", "reference.jpg")
	if err != nil {
		return Verification{}, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := target.Write(reference); err != nil {
		return Verification{}, fmt.Errorf("failed to write reference data: %w", err)
	}

	detProbThreshold := fmt.Sprintf("%.2f", c.config.DetProbThreshold)
	if err := writer.WriteField("det_prob_threshold", detProbThreshold); err != nil {
		log.Warnf("Failed to add det_prob_threshold parameter: %v", err)
	}

	if err := writer.Close(); err != nil {
		return Verification{}, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	apiURL, err := url.JoinPath(c.config.URL, "/api/v1/verification/verify")
	if err != nil {
		return Verification{}, fmt.Errorf("failed to create API URL: %w", err)
	}

	apiKey := c.config.VerificationAPIKey
	if apiKey == "" {
		apiKey = c.config.RecognitionAPIKey
	}

	respBody, status, err := c.post(ctx, apiURL, apiKey, writer.FormDataContentType(), body)
	if err != nil {
		return Verification{}, err
	}

	if status == http.StatusBadRequest && isNoFace(respBody) {
		// No detectable face in either image: the reference simply does
		// not verify.
		log.Debug("Recognizer found no face during verification")
		return Verification{}, nil
	}
	if status != http.StatusOK {
		return Verification{}, fmt.Errorf("%w: backend returned status %d: %s", ErrUnavailable, status, string(respBody))
	}

	var result verificationResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return Verification{}, fmt.Errorf("%w: failed to decode response: %v", ErrUnavailable, err)
	}

	best := Verification{}
	for _, face := range result.Result {
		for _, match := range face.FaceMatches {
			if match.Similarity > best.Similarity {
				best.Similarity = match.Similarity
			}
		}
	}
	best.Verified = best.Similarity > 0 && best.Similarity >= c.config.VerifyThreshold
	return best, nil
}

// AddExample uploads image as a reference example for subject, creating the
// subject first so the upload cannot race subject creation.
func (c *Client) AddExample(ctx context.Context, subject string, image []byte, filename string) error {
	if err := c.createSubject(ctx, subject); err != nil {
		// The subject may already exist; the example upload below is the
		// authoritative call.
		log.WithError(err).Debugf("Subject '%s' not created (may already exist)", subject)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(image)); err != nil {
		return fmt.Errorf("failed to copy image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	baseURL, err := url.JoinPath(c.config.URL, "/api/v1/recognition/faces")
	if err != nil {
		return fmt.Errorf("failed to create API URL: %w", err)
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}
	q := u.Query()
	q.Set("subject", subject)
	u.RawQuery = q.Encode()

	respBody, status, err := c.post(ctx, u.String(), c.config.RecognitionAPIKey, writer.FormDataContentType(), body)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return fmt.Errorf("%w: backend returned status %d: %s", ErrUnavailable, status, string(respBody))
	}

	log.Infof("Added backend example for subject '%s'", subject)
	return nil
}

// RemoveSubject deletes subject and all of its examples from the backend.
func (c *Client) RemoveSubject(ctx context.Context, subject string) error {
	apiURL, err := url.JoinPath(c.config.URL, "/api/v1/recognition/subjects/", subject)
	if err != nil {
		return fmt.Errorf("failed to create API URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, apiURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.config.RecognitionAPIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	// 404 means the subject never existed on the backend, which is fine
	// for re-enrollment.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: backend returned status %d: %s", ErrUnavailable, resp.StatusCode, string(bodyBytes))
	}

	return nil
}

// createSubject registers subject on the backend.
func (c *Client) createSubject(ctx context.Context, subject string) error {
	apiURL, err := url.JoinPath(c.config.URL, "/api/v1/recognition/subjects")
	if err != nil {
		return fmt.Errorf("failed to create API URL: %w", err)
	}

	reqBody, err := json.Marshal(map[string]string{"subject": subject})
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	respBody, status, err := c.post(ctx, apiURL, c.config.RecognitionAPIKey, "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return fmt.Errorf("backend returned status %d: %s", status, string(respBody))
	}
	return nil
}

// post sends a request body and returns the response body and status code.
// Transport failures map to ErrUnavailable.
func (c *Client) post(ctx context.Context, apiURL, apiKey, contentType string, body io.Reader) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-api-key", apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	log.Debugf("Recognizer request to %s took %s", apiURL, time.Since(start))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: failed to read response body: %v", ErrUnavailable, err)
	}
	return respBody, resp.StatusCode, nil
}

// isNoFace reports whether an error payload is the backend's
// "no face found" condition.
func isNoFace(body []byte) bool {
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err != nil {
		return false
	}
	return apiErr.Code == 28
}
