// Package basalt is a Go client for the Basalt notarization API.
//
//	client := basalt.New(basalt.WithAPIKey(os.Getenv("BASALT_API_KEY")))
//	evidence, err := client.Notarize(ctx, "photo.jpg", map[string]string{"author": "ada"})
package basalt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Version is sent in the User-Agent header.
const Version = "1.0.0"

// DefaultBaseURL is where a locally run server listens.
const DefaultBaseURL = "http://localhost:8080"

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 1 << 20

// Client calls a Basalt server. The zero value is not usable; use New.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a server.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.BaseURL = u }
}

// WithAPIKey sets the bslt_ key sent as a bearer token.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.APIKey = key }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		BaseURL:    DefaultBaseURL,
		HTTPClient: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	return c
}

type notarizeResponse struct {
	ID       string    `json:"id"`
	Status   string    `json:"status"`
	Evidence *Evidence `json:"evidence"`
	Error    string    `json:"error"`
}

// Notarize uploads the file at path and returns its evidence. The upload is
// streamed, so large files are never held in memory.
func (c *Client) Notarize(ctx context.Context, path string, metadata map[string]string) (*Evidence, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil && info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrFileNotFound, path)
	}

	var metaJSON []byte
	if len(metadata) > 0 {
		if metaJSON, err = json.Marshal(metadata); err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
	}

	pr, pw := io.Pipe()
	// Unblocks the writer if the server answers before reading the upload.
	defer pr.Close()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUpload(mw, f, filepath.Base(path), metaJSON))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/notarize", pr)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body notarizeResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body)

	switch {
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, newNotarizationError(resp.StatusCode, body.Error)
	case decodeErr != nil:
		return nil, &NotarizationError{StatusCode: resp.StatusCode, Message: "malformed response: " + decodeErr.Error()}
	case body.Error != "":
		return nil, &NotarizationError{StatusCode: resp.StatusCode, Message: body.Error}
	case body.Evidence == nil || body.Evidence.SHA256Hash == "":
		return nil, &NotarizationError{StatusCode: resp.StatusCode, Message: "malformed response: missing evidence"}
	}
	return body.Evidence, nil
}

func writeUpload(mw *multipart.Writer, r io.Reader, filename string, metadata []byte) error {
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	if metadata != nil {
		if err := mw.WriteField("metadata", string(metadata)); err != nil {
			return err
		}
	}
	return mw.Close()
}

type verifyResponse struct {
	Verified bool   `json:"verified"`
	Error    string `json:"error"`
}

// Verify asks the server whether it holds a completed notarization matching
// the evidence's hash and CID.
func (c *Client) Verify(ctx context.Context, ev *Evidence) (bool, error) {
	if ev == nil || ev.SHA256Hash == "" || ev.IPFSCID == "" {
		return false, errors.New("basalt: evidence needs sha256_hash and ipfs_cid")
	}

	q := url.Values{}
	q.Set("sha256_hash", ev.SHA256Hash)
	q.Set("ipfs_cid", ev.IPFSCID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/v1/verify?"+q.Encode(), nil)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	var body verifyResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body)

	switch {
	case resp.StatusCode == http.StatusNotFound && decodeErr == nil:
		return false, nil
	case resp.StatusCode != http.StatusOK:
		return false, newNotarizationError(resp.StatusCode, body.Error)
	case decodeErr != nil:
		return false, &NotarizationError{StatusCode: resp.StatusCode, Message: "malformed response: " + decodeErr.Error()}
	}
	return body.Verified, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "basalt-go/"+Version)
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if isUnreachable(err) {
			return nil, fmt.Errorf("%w: %s: %v", ErrServerUnreachable, c.BaseURL, err)
		}
		return nil, &NotarizationError{Message: err.Error()}
	}
	return resp, nil
}

// isUnreachable reports connection-level failures: refused, DNS, or dial timeouts.
func isUnreachable(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
