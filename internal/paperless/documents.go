package paperless

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/jmylchreest/go-retitler/pkg/httpclient"
)

// Document fetches a single document by ID
func (c *Client) Document(ctx context.Context, id int) (*Document, error) {
	var doc Document
	if err := c.request(ctx, http.MethodGet, c.apiURL(fmt.Sprintf("/api/documents/%d/", id)), nil, &doc); err != nil {
		return nil, fmt.Errorf("get document %d: %w", id, err)
	}
	return &doc, nil
}

// UpdateTitle sets a document's title
func (c *Client) UpdateTitle(ctx context.Context, id int, title string) error {
	path := c.apiURL(fmt.Sprintf("/api/documents/%d/", id))
	if err := c.request(ctx, http.MethodPatch, path, titlePatch{Title: title}, nil); err != nil {
		return fmt.Errorf("update document %d title: %w", id, err)
	}

	c.logger.InfoContext(ctx, "updated document title",
		"document_id", id,
		"title", title)
	return nil
}

// List returns every document matching filter, following pagination links
func (c *Client) List(ctx context.Context, filter Filter) ([]Document, error) {
	params := url.Values{}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = c.pageSize
	}
	params.Set("page_size", strconv.Itoa(pageSize))
	if filter.NewerThan != "" {
		params.Set("created__date__gt", filter.NewerThan)
	}
	if filter.OlderThan != "" {
		params.Set("created__date__lt", filter.OlderThan)
	}

	next := c.apiURL("/api/documents/?" + params.Encode())
	var docs []Document
	for pages := 0; next != ""; pages++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var page documentPage
		if err := c.request(ctx, http.MethodGet, next, nil, &page); err != nil {
			return nil, fmt.Errorf("list documents page %d: %w", pages+1, err)
		}
		docs = append(docs, page.Results...)

		next = ""
		if page.Next != nil && *page.Next != "" {
			rebased, err := c.rebase(*page.Next)
			if err != nil {
				return nil, err
			}
			next = rebased
		}
	}

	c.logger.DebugContext(ctx, "listed documents",
		"count", len(docs),
		"newer_than", filter.NewerThan,
		"older_than", filter.OlderThan)
	return docs, nil
}

func (c *Client) downloadURL(id int) string {
	return c.apiURL(fmt.Sprintf("/api/documents/%d/download/?original=true", id))
}

// Original downloads the original file bytes of a document
func (c *Client) Original(ctx context.Context, id int) ([]byte, error) {
	resp, err := c.http.Get(ctx, c.downloadURL(id))
	if err != nil {
		return nil, fmt.Errorf("download document %d: %w", id, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("download document %d: %w", id, ErrNotFound)
	}
	if err := httpclient.CheckStatus(resp); err != nil {
		return nil, fmt.Errorf("download document %d: %w", id, err)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read document %d: %w", id, err)
	}
	return data, nil
}

// ResolveMIMEType probes Paperless for a document's original MIME type. It
// tries the Content-Type of a HEAD on the original download and then the
// metadata endpoint. An empty string with a nil error means neither knew.
func (c *Client) ResolveMIMEType(ctx context.Context, id int) (string, error) {
	var errs []error

	resp, err := c.http.Head(ctx, c.downloadURL(id))
	if err == nil {
		_ = resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if mt := mediaType(resp.Header.Get("Content-Type")); mt != "" {
				return mt, nil
			}
		} else {
			errs = append(errs, fmt.Errorf("head original: HTTP %d", resp.StatusCode))
		}
	} else {
		errs = append(errs, fmt.Errorf("head original: %w", err))
	}

	var meta Metadata
	if err := c.request(ctx, http.MethodGet, c.apiURL(fmt.Sprintf("/api/documents/%d/metadata/", id)), nil, &meta); err != nil {
		errs = append(errs, fmt.Errorf("metadata: %w", err))
	} else if mt := mediaType(meta.OriginalMIMEType); mt != "" {
		return mt, nil
	}

	if len(errs) > 0 {
		return "", fmt.Errorf("resolve mime type for document %d: %w", id, errors.Join(errs...))
	}
	return "", nil
}

// mediaType strips parameters such as charset; octet-stream is treated as unknown
func mediaType(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		mt = strings.TrimSpace(strings.SplitN(header, ";", 2)[0])
	}
	mt = strings.ToLower(mt)
	if mt == "application/octet-stream" {
		return ""
	}
	return mt
}
