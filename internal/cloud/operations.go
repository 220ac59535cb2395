package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"
)

// Publication is one inventory entry. Only the fields used here are decoded;
// Raw keeps the complete object as the server sent it.
type Publication struct {
	EpubMetaData Metadata        `json:"epubMetaData"`
	Raw          json.RawMessage `json:"-"`
}

func (p *Publication) UnmarshalJSON(data []byte) error {
	var fields struct {
		EpubMetaData Metadata `json:"epubMetaData"`
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	p.EpubMetaData = fields.EpubMetaData
	p.Raw = append(json.RawMessage(nil), data...)
	return nil
}

func (p Publication) MarshalJSON() ([]byte, error) {
	if len(p.Raw) > 0 {
		return p.Raw, nil
	}
	return json.Marshal(struct {
		EpubMetaData Metadata `json:"epubMetaData"`
	}{p.EpubMetaData})
}

// Title returns the publication title, if known.
func (p Publication) Title() string {
	return p.EpubMetaData.String("title")
}

// DeliverableID returns the id used by Delete, AddToCollection,
// UpdateMetadata and UploadCover, if known.
func (p Publication) DeliverableID() string {
	if id := p.EpubMetaData.String("deliverableId"); id != "" {
		return id
	}
	return p.EpubMetaData.String("identifier")
}

// Metadata is a free-form metadata object of the resource API.
type Metadata map[string]any

// String returns the value of key if it is a string.
func (m Metadata) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// Inventory lists uploaded publications followed by purchased ones.
func (c *Client) Inventory(ctx context.Context) ([]Publication, error) {
	const op = "inventory"

	endpoint, err := c.endpoint(op, c.partner.Endpoints.Inventory)
	if err != nil {
		return nil, err
	}
	endpoint, err = withQuery(endpoint, url.Values{"strip": {"true"}})
	if err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var body struct {
		PublicationInventory *struct {
			Edata *[]Publication `json:"edata"`
			Ebook *[]Publication `json:"ebook"`
		} `json:"PublicationInventory"`
	}
	if err := c.do(op, req, &body); err != nil {
		return nil, err
	}

	inv := body.PublicationInventory
	if inv == nil || inv.Edata == nil || inv.Ebook == nil {
		return nil, fmt.Errorf("%w from %s: missing PublicationInventory edata or ebook", ErrUnexpectedResponse, op)
	}

	publications := make([]Publication, 0, len(*inv.Edata)+len(*inv.Ebook))
	publications = append(publications, *inv.Edata...)
	publications = append(publications, *inv.Ebook...)
	return publications, nil
}

// Upload stores a book and returns its deliverable id. The content type is
// derived from the extension of name.
func (c *Client) Upload(ctx context.Context, name string, r io.Reader) (string, error) {
	const op = "upload"

	endpoint, err := c.endpoint(op, c.partner.Endpoints.Upload)
	if err != nil {
		return "", err
	}

	body, contentType, err := multipartBody("file", name, bookContentType(name), r, nil)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)

	var resp struct {
		Metadata struct {
			DeliverableID string `json:"deliverableId"`
		} `json:"metadata"`
	}
	if err := c.do(op, req, &resp); err != nil {
		return "", err
	}
	if resp.Metadata.DeliverableID == "" {
		return "", fmt.Errorf("%w from %s: missing metadata.deliverableId", ErrUnexpectedResponse, op)
	}
	return resp.Metadata.DeliverableID, nil
}

// Delete removes a book from the cloud.
func (c *Client) Delete(ctx context.Context, deliverableID string) error {
	const op = "delete"

	endpoint, err := c.endpoint(op, c.partner.Endpoints.Delete)
	if err != nil {
		return err
	}
	endpoint, err = withQuery(endpoint, url.Values{"deliverableId": {deliverableID}})
	if err != nil {
		return err
	}

	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(op, req, nil)
}

// AddToCollection tags a book with a collection name.
func (c *Client) AddToCollection(ctx context.Context, deliverableID, collection string) error {
	const op = "add to collection"

	endpoint, err := c.endpoint(op, c.partner.Endpoints.SyncData)
	if err != nil {
		return err
	}

	type tag struct {
		Modified int64  `json:"modified"`
		Name     string `json:"name"`
		Category string `json:"category"`
	}
	type patch struct {
		Op    string `json:"op"`
		Value tag    `json:"value"`
		Path  string `json:"path"`
	}
	payload := struct {
		Revision *string `json:"revision"`
		Patches  []patch `json:"patches"`
	}{
		Patches: []patch{{
			Op: "add",
			Value: tag{
				Modified: c.now().UnixMilli(),
				Name:     collection,
				Category: "collection",
			},
			Path: "/publications/" + deliverableID + "/tags",
		}},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	req, err := c.newRequest(ctx, http.MethodPatch, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header["client_type"] = []string{"TOLINO_WEBREADER"}

	return c.do(op, req, nil)
}

// UpdateMetadata merges fields into the stored metadata of a book and
// uploads the result, which is returned.
func (c *Client) UpdateMetadata(ctx context.Context, deliverableID string, fields Metadata) (Metadata, error) {
	const op = "update metadata"

	endpoint, err := c.endpoint(op, c.partner.Endpoints.Metadata)
	if err != nil {
		return nil, err
	}
	endpoint, err = withQuery(strings.TrimSuffix(endpoint, "/")+"/", url.Values{"deliverableId": {deliverableID}})
	if err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var current struct {
		Metadata Metadata `json:"metadata"`
	}
	if err := c.do(op, req, &current); err != nil {
		return nil, err
	}
	if current.Metadata == nil {
		return nil, fmt.Errorf("%w from %s: missing metadata", ErrUnexpectedResponse, op)
	}

	for k, v := range fields {
		current.Metadata[k] = v
	}

	data, err := json.Marshal(map[string]Metadata{"uploadMetaData": current.Metadata})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	req, err = c.newRequest(ctx, http.MethodPut, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	if err := c.do(op, req, nil); err != nil {
		return nil, err
	}
	return current.Metadata, nil
}

// UploadCover sets the cover image of a book. The content type is derived
// from the extension of name.
func (c *Client) UploadCover(ctx context.Context, deliverableID, name string, r io.Reader) error {
	const op = "upload cover"

	endpoint, err := c.endpoint(op, c.partner.Endpoints.Cover)
	if err != nil {
		return err
	}

	body, contentType, err := multipartBody("file", name, coverContentType(name), r, map[string]string{
		"deliverableId": deliverableID,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	return c.do(op, req, nil)
}

// multipartBody buffers a form with one file part and optional plain fields.
// Buffering gives the request a Content-Length, which the upload endpoints expect.
func multipartBody(field, filename, contentType string, r io.Reader, fields map[string]string) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
		"name":     field,
		"filename": filepath.Base(filename),
	}))
	h.Set("Content-Type", contentType)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, "", fmt.Errorf("reading %s: %w", filename, err)
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

func bookContentType(name string) string {
	switch extension(name) {
	case "epub":
		return "application/epub+zip"
	default:
		return "application/pdf"
	}
}

func coverContentType(name string) string {
	switch extension(name) {
	case "png":
		return "image/png"
	default:
		return "image/jpeg"
	}
}

func extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

func withQuery(endpoint string, q url.Values) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parsing endpoint %q: %w", endpoint, err)
	}
	existing := u.Query()
	for k, vs := range q {
		existing[k] = vs
	}
	u.RawQuery = existing.Encode()
	return u.String(), nil
}
