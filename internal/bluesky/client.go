package bluesky

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"ca-indexer/internal/record"
)

// maxBlobSize bounds the blob bodies read into memory
const maxBlobSize = 16 << 20

var (
	// ErrBlobNotFound is returned when the repository has no blob with the CID
	ErrBlobNotFound = errors.New("blob not found")

	// ErrRecordNotFound is returned when the repository has no such record
	ErrRecordNotFound = errors.New("record not found")
)

// Client is an XRPC client for repository reads
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// RecordResponse is the com.atproto.repo.getRecord output
type RecordResponse struct {
	URI   string          `json:"uri"`
	CID   string          `json:"cid"`
	Value json.RawMessage `json:"value"`
}

type xrpcError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewClient creates a new XRPC client
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "https://bsky.social"
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// FetchBlob downloads a blob from the repository of did
func (c *Client) FetchBlob(ctx context.Context, did, cid string) ([]byte, error) {
	q := url.Values{}
	q.Set("did", did)
	q.Set("cid", cid)

	resp, err := c.get(ctx, "com.atproto.sync.getBlob", q)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if notFound(resp, "BlobNotFound") {
			return nil, fmt.Errorf("%s: %w", cid, ErrBlobNotFound)
		}
		return nil, fmt.Errorf("get blob failed: %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBlobSize))
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", cid, err)
	}
	return data, nil
}

// GetRecord fetches the current version of a record
func (c *Client) GetRecord(ctx context.Context, uri string) (*RecordResponse, error) {
	u, err := record.ParseURI(uri)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("repo", u.DID)
	q.Set("collection", u.Collection)
	q.Set("rkey", u.RKey)

	resp, err := c.get(ctx, "com.atproto.repo.getRecord", q)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if notFound(resp, "RecordNotFound") {
			return nil, fmt.Errorf("%s: %w", uri, ErrRecordNotFound)
		}
		return nil, fmt.Errorf("get record failed: %s", resp.Status)
	}

	var out RecordResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", uri, err)
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, method string, q url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/xrpc/"+method+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return resp, nil
}

// notFound reports whether an error response names the given XRPC error
func notFound(resp *http.Response, name string) bool {
	if resp.StatusCode == http.StatusNotFound {
		return true
	}
	if resp.StatusCode != http.StatusBadRequest {
		return false
	}
	var body xrpcError
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err != nil {
		return false
	}
	return body.Error == name
}
