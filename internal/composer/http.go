package composer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/fitsa/fitsa/internal/model"
)

// maxResponseBytes caps a provider image download.
const maxResponseBytes = 32 << 20

// sharedHTTPClient has no overall timeout; the per-stage ceiling comes from
// the request context.
var sharedHTTPClient = &http.Client{
	Transport: &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 150 * time.Second,
	},
}

// HTTPConfig configures one provider endpoint.
type HTTPConfig struct {
	Name     string
	Endpoint string
	APIKey   string
	RPS      float64
	Burst    int
	// CategoryAliases renames categories for providers with their own vocabulary.
	CategoryAliases map[model.Category]string
}

// HTTPComposer posts multipart requests to a provider endpoint.
type HTTPComposer struct {
	name            string
	endpoint        string
	apiKey          string
	categoryAliases map[model.Category]string
	httpClient      *http.Client
	limiter         *rate.Limiter
}

var _ Composer = (*HTTPComposer)(nil)

// NewHTTP creates a provider client. A non-positive RPS disables throttling.
func NewHTTP(cfg HTTPConfig) *HTTPComposer {
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	name := cfg.Name
	if name == "" {
		name = cfg.Endpoint
	}
	return &HTTPComposer{
		name:            name,
		endpoint:        cfg.Endpoint,
		apiKey:          cfg.APIKey,
		categoryAliases: cfg.CategoryAliases,
		httpClient:      sharedHTTPClient,
		limiter:         rate.NewLimiter(limit, burst),
	}
}

// WithHTTPClient replaces the shared client. Used by tests.
func (c *HTTPComposer) WithHTTPClient(client *http.Client) *HTTPComposer {
	c.httpClient = client
	return c
}

// Name returns the provider name reported in results.
func (c *HTTPComposer) Name() string {
	return c.name
}

func (c *HTTPComposer) category(cat model.Category) string {
	if alias, ok := c.categoryAliases[cat]; ok {
		return alias
	}
	return string(cat)
}

// Compose implements Composer.
func (c *HTTPComposer) Compose(ctx context.Context, in Input) (*Output, error) {
	body, contentType, err := c.encode(in)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "image/*, application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("composer %s rate limiter: %w", c.name, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("composer %s request: %w", c.name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("composer %s read body: %w", c.name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ProviderError{Provider: c.name, StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("composer %s: %w", c.name, ErrEmptyResult)
	}

	mediaType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(mediaType, "image/") {
		mediaType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mediaType, "image/") {
		return nil, fmt.Errorf("composer %s: %w (%s)", c.name, ErrNotImage, mediaType)
	}

	return &Output{Image: data, ContentType: mediaType, Provider: c.name}, nil
}

func (c *HTTPComposer) encode(in Input) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := writeImagePart(w, "person_image", "person", in.Person); err != nil {
		return nil, "", err
	}
	if err := writeImagePart(w, "garment_image", "garment", in.Garment); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("category", c.category(in.Category)); err != nil {
		return nil, "", fmt.Errorf("write category: %w", err)
	}
	if in.Quality != "" {
		if err := w.WriteField("quality", string(in.Quality)); err != nil {
			return nil, "", fmt.Errorf("write quality: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func writeImagePart(w *multipart.Writer, field, name string, data []byte) error {
	mediaType := http.DetectContentType(data)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, name+extension(mediaType)))
	h.Set("Content-Type", mediaType)

	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create %s part: %w", field, err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("write %s part: %w", field, err)
	}
	return nil
}

func extension(mediaType string) string {
	switch mediaType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	}
	return ".bin"
}

// errorMessage extracts {"error": "..."} or {"detail": "..."} from a
// provider error body, falling back to a truncated raw body.
func errorMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		for _, m := range []string{payload.Error, payload.Detail, payload.Message} {
			if m != "" {
				return m
			}
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
