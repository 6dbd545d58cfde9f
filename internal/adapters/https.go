package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	inleterrors "github.com/inletworks/inlet/internal/errors"
	"github.com/inletworks/inlet/internal/models"
	"github.com/inletworks/inlet/internal/pattern"
)

// maxListingBody caps how much of a listing response is read (8 MiB).
const maxListingBody = 8 << 20

// httpListing is the JSON shape an HTTPS source may return for a directory.
type httpListing struct {
	Name         string     `json:"name"`
	URL          string     `json:"url,omitempty"`
	Size         *int64     `json:"size,omitempty"`
	LastModified *time.Time `json:"lastModified,omitempty"`
	ContentType  string     `json:"contentType,omitempty"`
	ETag         string     `json:"etag,omitempty"`
}

// HTTPSAdapter lists files over HTTPS endpoints.
type HTTPSAdapter struct {
	settings models.HTTPSSettings
	secret   string // password, bearer token or API key, already resolved
	client   *http.Client
}

// NewHTTPSAdapter builds an adapter around a pooled client.
func NewHTTPSAdapter(settings models.HTTPSSettings, secret string, client *http.Client) *HTTPSAdapter {
	return &HTTPSAdapter{settings: settings, secret: secret, client: client}
}

// Protocol implements Adapter.
func (a *HTTPSAdapter) Protocol() models.Protocol {
	return models.ProtocolHTTPS
}

// TestConnection issues a HEAD against the base URL; any response that is not
// an auth rejection counts as reachable.
func (a *HTTPSAdapter) TestConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, a.settings.BaseURL, nil)
	if err != nil {
		return inleterrors.New(inleterrors.CategoryConfigurationError, "test_connection", err)
	}
	a.applyAuth(req)

	resp, err := a.client.Do(req)
	if err != nil {
		return classifyHTTPTransportError("test_connection", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return inleterrors.New(inleterrors.CategoryAuthenticationFailure, "test_connection",
			fmt.Errorf("unexpected status %s", resp.Status)).WithStatusCode(resp.StatusCode)
	}
	return nil
}

// List implements Adapter. A JSON array response is treated as a directory
// listing; any other 2xx response describes a single file at the request URL.
func (a *HTTPSAdapter) List(ctx context.Context, resolvedPath, filenamePattern, extension string) ([]FileMetadata, error) {
	if a.settings.ConnectionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.settings.ConnectionTimeout)
		defer cancel()
	}

	target, err := joinURL(a.settings.BaseURL, resolvedPath)
	if err != nil {
		return nil, inleterrors.New(inleterrors.CategoryConfigurationError, "list", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, inleterrors.New(inleterrors.CategoryConfigurationError, "list", err)
	}
	req.Header.Set("Accept", "application/json")
	a.applyAuth(req)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, classifyHTTPTransportError("list", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classifyHTTPStatus("list", resp)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListingBody))
	if err != nil {
		return nil, classifyHTTPTransportError("list", err)
	}

	if listings, ok := parseListing(body); ok {
		return a.filterListings(target, listings, filenamePattern, extension), nil
	}

	// Not a JSON array: the response describes a single file at the URL.
	name := path.Base(req.URL.Path)
	if !pattern.Match(name, filenamePattern) || !pattern.MatchExtension(name, extension) {
		return nil, nil
	}
	meta := FileMetadata{
		URL:      target,
		Filename: name,
		ProtocolMetadata: map[string]string{
			"contentType": resp.Header.Get("Content-Type"),
		},
	}
	if resp.ContentLength >= 0 {
		meta.Size = int64Ptr(resp.ContentLength)
	}
	if lm, err := http.ParseTime(resp.Header.Get("Last-Modified")); err == nil {
		meta.LastModified = timePtr(lm.UTC())
	}
	if etag := resp.Header.Get("ETag"); etag != "" {
		meta.ProtocolMetadata["etag"] = etag
	}
	return []FileMetadata{meta}, nil
}

func (a *HTTPSAdapter) filterListings(requestURL string, listings []httpListing, filenamePattern, extension string) []FileMetadata {
	var files []FileMetadata
	for _, item := range listings {
		if item.Name == "" {
			continue
		}
		if !pattern.Match(item.Name, filenamePattern) || !pattern.MatchExtension(item.Name, extension) {
			continue
		}

		fileURL := item.URL
		if fileURL == "" {
			joined, err := joinURL(requestURL, item.Name)
			if err != nil {
				log.Debug().Err(err).Str("name", item.Name).Msg("Skipping listing entry with unresolvable URL")
				continue
			}
			fileURL = joined
		}

		meta := FileMetadata{
			URL:              fileURL,
			Filename:         item.Name,
			Size:             item.Size,
			LastModified:     item.LastModified,
			ProtocolMetadata: map[string]string{},
		}
		if item.ContentType != "" {
			meta.ProtocolMetadata["contentType"] = item.ContentType
		}
		if item.ETag != "" {
			meta.ProtocolMetadata["etag"] = item.ETag
		}
		files = append(files, meta)
	}
	return files
}

func (a *HTTPSAdapter) applyAuth(req *http.Request) {
	switch a.settings.AuthType {
	case models.HTTPSAuthUsernamePassword:
		req.SetBasicAuth(a.settings.UsernameOrAPIKey, a.secret)
	case models.HTTPSAuthBearerToken:
		req.Header.Set("Authorization", "Bearer "+a.secret)
	case models.HTTPSAuthAPIKey:
		req.Header.Set("X-API-Key", a.secret)
	}
}

func parseListing(body []byte) ([]httpListing, bool) {
	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "[") {
		return nil, false
	}
	var listings []httpListing
	if err := json.Unmarshal([]byte(trimmed), &listings); err != nil {
		return nil, false
	}
	return listings, true
}

func joinURL(base, p string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if p == "" {
		return u.String(), nil
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(p, "/")
	return u.String(), nil
}

func classifyHTTPStatus(op string, resp *http.Response) error {
	err := fmt.Errorf("unexpected status %s", resp.Status)
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return inleterrors.New(inleterrors.CategoryAuthenticationFailure, op, err).WithStatusCode(resp.StatusCode)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout:
		return inleterrors.New(inleterrors.CategoryProtocolError, op, err).WithStatusCode(resp.StatusCode)
	default:
		e := inleterrors.New(inleterrors.CategoryProtocolError, op, err)
		e.StatusCode = resp.StatusCode
		e.Retryable = false
		return e
	}
}

func classifyHTTPTransportError(op string, err error) error {
	category := inleterrors.Classify(err)
	if category == inleterrors.CategoryUnknown {
		category = inleterrors.CategoryProtocolError
	}
	return inleterrors.New(category, op, err)
}
