package casstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
)

// IPFSStore is a Store backed by a local IPFS daemon's HTTP API, reached
// through a thin REST client rather than a full IPFS SDK (see DESIGN.md for
// why no Go IPFS SDK was adopted instead).
type IPFSStore struct {
	baseURL string
	client  *http.Client
}

// NewIPFSStore builds an IPFSStore targeting the daemon's HTTP API at
// host:port (the "ipfs_host"/"ipfs_port" config keys from §6).
func NewIPFSStore(host string, port int) *IPFSStore {
	return &IPFSStore{
		baseURL: fmt.Sprintf("http://%s:%d/api/v0", host, port),
		client:  &http.Client{},
	}
}

type addResponse struct {
	Hash string `json:"Hash"`
}

// Put implements Store via POST /api/v0/add.
func (s *IPFSStore) Put(ctx context.Context, name string, r io.Reader) (PutResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return PutResult{}, fmt.Errorf("casstore: create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return PutResult{}, fmt.Errorf("casstore: copy blob into form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return PutResult{}, fmt.Errorf("casstore: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/add", &body)
	if err != nil {
		return PutResult{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		return PutResult{}, fmt.Errorf("casstore: put: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return PutResult{}, fmt.Errorf("casstore: put: daemon returned %s", resp.Status)
	}

	var ar addResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return PutResult{}, fmt.Errorf("casstore: decode add response: %w", err)
	}
	return PutResult{Hash: ar.Hash}, nil
}

// Get implements Store via POST /api/v0/cat.
func (s *IPFSStore) Get(ctx context.Context, address string) (io.ReadCloser, error) {
	u := s.baseURL + "/cat?arg=" + url.QueryEscape(address)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("casstore: get %s: %w", address, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("casstore: get %s: daemon returned %s", address, resp.Status)
	}
	return resp.Body, nil
}

// PublishName implements Store via POST /api/v0/name/publish.
func (s *IPFSStore) PublishName(ctx context.Context, address string) error {
	u := s.baseURL + "/name/publish?arg=" + url.QueryEscape("/ipfs/"+address)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("casstore: publish %s: %w", address, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("casstore: publish %s: daemon returned %s", address, resp.Status)
	}
	return nil
}
