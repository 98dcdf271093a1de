// Package confluence is a minimal REST client for the Confluence server
// API, covering what the publisher needs: page CRUD, content properties,
// labels and paginated CQL search.
package confluence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"md2conf/internal/apperr"
	"md2conf/internal/models"
)

const (
	defaultTimeout = 60 * time.Second
	searchPageSize = 200
)

// Client talks to one Confluence instance using bearer token auth.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a Client for the given base URL
// (scheme://host[/context], no trailing slash required).
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// pageEnvelope mirrors the wire shape of a content record with the
// expansions the publisher asks for.
type pageEnvelope struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Version struct {
		Number int `json:"number"`
	} `json:"version"`
	Ancestors []struct {
		ID string `json:"id"`
	} `json:"ancestors"`
	Metadata struct {
		Labels struct {
			Results []struct {
				Name string `json:"name"`
			} `json:"results"`
		} `json:"labels"`
	} `json:"metadata"`
}

func (e pageEnvelope) toPage() models.Page {
	p := models.Page{ID: e.ID, Title: e.Title, Version: e.Version.Number}
	for _, a := range e.Ancestors {
		p.Ancestors = append(p.Ancestors, a.ID)
	}
	// Ancestors are ordered root first, so the direct parent is last.
	if n := len(e.Ancestors); n > 0 {
		p.ParentID = e.Ancestors[n-1].ID
	}
	for _, l := range e.Metadata.Labels.Results {
		p.Labels = append(p.Labels, l.Name)
	}
	return p
}

func (c *Client) do(ctx context.Context, method, pth string, query url.Values, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("confluence: encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	u := c.baseURL + pth
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, fmt.Errorf("confluence: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("confluence: %s %s: %w", method, pth, err)
	}
	return resp, nil
}

// apiError turns a non-success response into an error, mapping title
// collisions and missing content onto the shared sentinels.
func apiError(op string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(data))
	if isTitleCollision(resp.StatusCode, msg) {
		return fmt.Errorf("confluence: %s: %w", op, apperr.ErrTitleExists)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("confluence: %s: %w", op, apperr.ErrNotFound)
	}
	return fmt.Errorf("confluence: %s: status %d: %s", op, resp.StatusCode, msg)
}

func isTitleCollision(status int, body string) bool {
	if status != http.StatusBadRequest && status != http.StatusConflict {
		return false
	}
	return strings.Contains(strings.ToLower(body), "already exists")
}

func pageBody(id, space, parentID, title, storage string, version int) map[string]any {
	body := map[string]any{
		"type":  "page",
		"title": title,
		"space": map[string]any{"key": space},
		"body": map[string]any{
			"storage": map[string]any{"value": storage, "representation": "storage"},
		},
	}
	if id != "" {
		body["id"] = id
	}
	if parentID != "" {
		body["ancestors"] = []map[string]any{{"id": parentID}}
	}
	if version > 0 {
		body["version"] = map[string]any{"number": version}
	}
	return body
}

// CreatePage creates a page under parentID and returns the new page id.
// A title collision reports apperr.ErrTitleExists.
func (c *Client) CreatePage(ctx context.Context, space, parentID, title, storage string) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/rest/api/content", nil, pageBody("", space, parentID, title, storage, 0))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", apiError(fmt.Sprintf("create page %q", title), resp)
	}
	var env pageEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", fmt.Errorf("confluence: decode create response: %w", err)
	}
	return env.ID, nil
}

// UpdatePage rewrites title, parent and body of an existing page. The
// current remote version is fetched first so the write carries version+1.
func (c *Client) UpdatePage(ctx context.Context, id, space, parentID, title, storage string) error {
	cur, err := c.GetPage(ctx, id, "version")
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPut, "/rest/api/content/"+id, nil,
		pageBody(id, space, parentID, title, storage, cur.Version+1))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(fmt.Sprintf("update page %s", id), resp)
	}
	return nil
}

// GetPage fetches one page. expand is a comma separated expansion list
// ("version", "ancestors", "metadata.labels"); empty fetches the bare page.
func (c *Client) GetPage(ctx context.Context, id, expand string) (*models.Page, error) {
	q := url.Values{}
	if expand != "" {
		q.Set("expand", expand)
	}
	resp, err := c.do(ctx, http.MethodGet, "/rest/api/content/"+id, q, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(fmt.Sprintf("get page %s", id), resp)
	}
	var env pageEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("confluence: decode page: %w", err)
	}
	p := env.toPage()
	return &p, nil
}

// FindPageByTitle looks up a page by exact title within a space. Returns
// (nil, nil) when nothing matches.
func (c *Client) FindPageByTitle(ctx context.Context, space, title, expand string) (*models.Page, error) {
	q := url.Values{}
	q.Set("spaceKey", space)
	q.Set("title", title)
	q.Set("type", "page")
	q.Set("limit", "1")
	if expand != "" {
		q.Set("expand", expand)
	}
	resp, err := c.do(ctx, http.MethodGet, "/rest/api/content", q, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(fmt.Sprintf("find page %q", title), resp)
	}
	var out struct {
		Results []pageEnvelope `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("confluence: decode search response: %w", err)
	}
	if len(out.Results) == 0 {
		return nil, nil
	}
	p := out.Results[0].toPage()
	return &p, nil
}

// SearchCQL runs a CQL query, paginating through every result and invoking
// fn per page record. Iteration stops early when fn returns an error.
func (c *Client) SearchCQL(ctx context.Context, cql, expand string, fn func(models.Page) error) error {
	start := 0
	for {
		q := url.Values{}
		q.Set("cql", cql)
		q.Set("limit", strconv.Itoa(searchPageSize))
		q.Set("start", strconv.Itoa(start))
		if expand != "" {
			q.Set("expand", expand)
		}
		resp, err := c.do(ctx, http.MethodGet, "/rest/api/content/search", q, nil)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			err := apiError("search", resp)
			resp.Body.Close()
			return err
		}
		var out struct {
			Results []pageEnvelope `json:"results"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			resp.Body.Close()
			return fmt.Errorf("confluence: decode search response: %w", err)
		}
		resp.Body.Close()

		for _, env := range out.Results {
			if err := fn(env.toPage()); err != nil {
				return err
			}
		}
		if len(out.Results) < searchPageSize {
			return nil
		}
		start += searchPageSize
	}
}

// GetProperty reads a content property. Returns (nil, nil) when the
// property does not exist.
func (c *Client) GetProperty(ctx context.Context, id, key string) (*models.Property, error) {
	resp, err := c.do(ctx, http.MethodGet, "/rest/api/content/"+id+"/property/"+key, nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(fmt.Sprintf("get property %s of %s", key, id), resp)
	}
	var out struct {
		Key     string         `json:"key"`
		Value   map[string]any `json:"value"`
		Version struct {
			Number int `json:"number"`
		} `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("confluence: decode property: %w", err)
	}
	return &models.Property{Key: out.Key, Value: out.Value, Version: out.Version.Number}, nil
}

// PutProperty creates or updates a content property. Properties version
// independently of the page, so an update must carry version+1.
func (c *Client) PutProperty(ctx context.Context, id, key string, value any) error {
	cur, err := c.GetProperty(ctx, id, key)
	if err != nil {
		return err
	}
	var resp *http.Response
	if cur == nil {
		resp, err = c.do(ctx, http.MethodPost, "/rest/api/content/"+id+"/property", nil,
			map[string]any{"key": key, "value": value})
	} else {
		resp, err = c.do(ctx, http.MethodPut, "/rest/api/content/"+id+"/property/"+key, nil,
			map[string]any{
				"key":     key,
				"value":   value,
				"version": map[string]any{"number": cur.Version + 1},
			})
	}
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(fmt.Sprintf("put property %s on %s", key, id), resp)
	}
	return nil
}

// AddLabels attaches labels to a page. Names are trimmed and lowercased;
// blanks are skipped and an all-blank call is a no-op.
func (c *Client) AddLabels(ctx context.Context, id string, labels []string) error {
	payload := make([]map[string]string, 0, len(labels))
	for _, l := range labels {
		l = strings.ToLower(strings.TrimSpace(l))
		if l == "" {
			continue
		}
		payload = append(payload, map[string]string{"prefix": "global", "name": l})
	}
	if len(payload) == 0 {
		return nil
	}
	resp, err := c.do(ctx, http.MethodPost, "/rest/api/content/"+id+"/label", nil, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(fmt.Sprintf("add labels to %s", id), resp)
	}
	return nil
}

// DeleteLabel removes one label from a page. A label that is already gone
// is not an error.
func (c *Client) DeleteLabel(ctx context.Context, id, label string) error {
	q := url.Values{}
	q.Set("name", label)
	resp, err := c.do(ctx, http.MethodDelete, "/rest/api/content/"+id+"/label", q, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return apiError(fmt.Sprintf("delete label %s from %s", label, id), resp)
}

// DeletePage removes a page (moves it to the trash on server editions).
func (c *Client) DeletePage(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/rest/api/content/"+id, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK {
		return nil
	}
	return apiError(fmt.Sprintf("delete page %s", id), resp)
}
