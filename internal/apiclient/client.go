// Package apiclient talks to the REST backend that owns every record.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/phillip-england/projectdesk/internal/records"
	"github.com/phillip-england/projectdesk/internal/security"
)

var ErrUnauthorized = errors.New("unauthorized")

// Error is a non-2xx response. Message is the backend's own text when it sent one.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

func (e *Error) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// Message returns the text to show a user for err, or fallback when the backend
// gave none.
func Message(err error, fallback string) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}

func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 8 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// User is the signed-in user the console keeps for the session.
type User struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Role       string `json:"role,omitempty"`
	IsAdmin    bool   `json:"isAdmin"`
	CanApprove bool   `json:"canApprove"`
	CanDelete  bool   `json:"canDelete"`
}

func userFromRecord(rec records.Record) User {
	u := User{
		ID:         rec.ID(),
		Name:       rec.String("name"),
		Email:      rec.String("email"),
		Role:       rec.String("role"),
		IsAdmin:    rec.Bool("isAdmin"),
		CanApprove: rec.Bool("canApprove"),
		CanDelete:  rec.Bool("canDelete"),
	}
	if u.ID == "" {
		u.ID = rec.String("userId")
	}
	if strings.EqualFold(u.Role, "admin") {
		u.IsAdmin = true
	}
	return u
}

type LoginResult struct {
	Token string
	User  User
}

// Login exchanges credentials for a bearer token. When the response carries no
// user object the claims inside the token are used instead.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	var body records.Record
	err := c.do(ctx, http.MethodPost, "/api/auth/login", "", map[string]string{"email": email, "password": password}, &body)
	if err != nil {
		return LoginResult{}, err
	}
	tokenKeys := []string{"token", "accessToken", "access_token", "jwt"}
	if firstString(body, tokenKeys...) == "" {
		body = unwrap(body)
	}
	res := LoginResult{Token: firstString(body, tokenKeys...)}
	if res.Token == "" {
		return LoginResult{}, &Error{Status: http.StatusBadGateway, Message: "login response did not include a token"}
	}
	if u, ok := body["user"].(map[string]any); ok {
		res.User = userFromRecord(records.Record(u))
	}
	if res.User.ID == "" || res.User.Email == "" {
		if claims, err := security.DecodeClaims(res.Token); err == nil {
			if res.User.ID == "" {
				res.User.ID = claims.UserID
			}
			if res.User.Email == "" {
				res.User.Email = claims.Email
			}
			if res.User.Name == "" {
				res.User.Name = claims.Name
			}
			res.User.IsAdmin = res.User.IsAdmin || claims.IsAdmin
			res.User.CanApprove = res.User.CanApprove || claims.CanApprove
			res.User.CanDelete = res.User.CanDelete || claims.CanDelete
		}
	}
	return res, nil
}

func (c *Client) Me(ctx context.Context, token string) (User, error) {
	var body records.Record
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", token, nil, &body); err != nil {
		return User{}, err
	}
	body = unwrap(body)
	if u, ok := body["user"].(map[string]any); ok {
		body = records.Record(u)
	}
	return userFromRecord(body), nil
}

// Page is one page of a collection.
type Page struct {
	Items      []records.Record
	Total      int
	Page       int
	Limit      int
	TotalPages int
}

func (c *Client) List(ctx context.Context, token, endpoint string, query url.Values) (*Page, error) {
	path := endpoint
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, token, nil, &raw); err != nil {
		return nil, err
	}
	page, err := decodePage(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return page, nil
}

// ListAll follows pages until the collection is exhausted or limit records are read.
func (c *Client) ListAll(ctx context.Context, token, endpoint string, query url.Values, limit int) ([]records.Record, error) {
	q := url.Values{}
	for k, v := range query {
		q[k] = append([]string(nil), v...)
	}
	q.Set("limit", "100")
	var out []records.Record
	for page := 1; ; page++ {
		q.Set("page", fmt.Sprint(page))
		p, err := c.List(ctx, token, endpoint, q)
		if err != nil {
			return out, err
		}
		out = append(out, p.Items...)
		if len(p.Items) == 0 || (limit > 0 && len(out) >= limit) {
			break
		}
		if p.TotalPages > 0 && page >= p.TotalPages {
			break
		}
		if p.TotalPages == 0 && (p.Total == 0 || len(out) >= p.Total) {
			break
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c *Client) Get(ctx context.Context, token, endpoint, id string) (records.Record, error) {
	var body records.Record
	if err := c.do(ctx, http.MethodGet, itemPath(endpoint, id), token, nil, &body); err != nil {
		return nil, err
	}
	return unwrap(body), nil
}

func (c *Client) Create(ctx context.Context, token, endpoint string, rec records.Record) (records.Record, error) {
	var body records.Record
	if err := c.do(ctx, http.MethodPost, endpoint, token, rec, &body); err != nil {
		return nil, err
	}
	return unwrap(body), nil
}

// Update replaces a record with PUT.
func (c *Client) Update(ctx context.Context, token, endpoint, id string, rec records.Record) (records.Record, error) {
	var body records.Record
	if err := c.do(ctx, http.MethodPut, itemPath(endpoint, id), token, rec, &body); err != nil {
		return nil, err
	}
	return unwrap(body), nil
}

// Patch sends only the given fields, e.g. a status change.
func (c *Client) Patch(ctx context.Context, token, endpoint, id string, fields records.Record) (records.Record, error) {
	var body records.Record
	if err := c.do(ctx, http.MethodPatch, itemPath(endpoint, id), token, fields, &body); err != nil {
		return nil, err
	}
	return unwrap(body), nil
}

func (c *Client) Delete(ctx context.Context, token, endpoint, id string) error {
	return c.do(ctx, http.MethodDelete, itemPath(endpoint, id), token, nil, nil)
}

// UploadAttachment posts one file as multipart field "file".
func (c *Client) UploadAttachment(ctx context.Context, token, endpoint, id, filename, contentType string, data io.Reader) (records.Record, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, itemPath(endpoint, id)+"/attachments", token, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var body records.Record
	if err := c.send(req, &body); err != nil {
		return nil, err
	}
	return unwrap(body), nil
}

// OpenAttachment streams an attachment. The caller closes the body.
func (c *Client) OpenAttachment(ctx context.Context, token, endpoint, id, attachmentID string) (io.ReadCloser, string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, itemPath(endpoint, id)+"/attachments/"+url.PathEscape(attachmentID), token, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, "", responseError(resp)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

func (c *Client) DeleteAttachment(ctx context.Context, token, endpoint, id, attachmentID string) error {
	return c.do(ctx, http.MethodDelete, itemPath(endpoint, id)+"/attachments/"+url.PathEscape(attachmentID), token, nil, nil)
}

func itemPath(endpoint, id string) string {
	return strings.TrimRight(endpoint, "/") + "/" + url.PathEscape(id)
}

func (c *Client) newRequest(ctx context.Context, method, path, token string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := c.newRequest(ctx, method, path, token, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func responseError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	e := &Error{Status: resp.StatusCode}
	var body records.Record
	if json.Unmarshal(raw, &body) == nil {
		e.Message = firstString(body, "message", "error", "detail")
		if e.Message == "" {
			if nested, ok := body["error"].(map[string]any); ok {
				e.Message = firstString(records.Record(nested), "message")
			}
		}
	}
	return e
}

func firstString(rec records.Record, keys ...string) string {
	for _, k := range keys {
		if s, ok := rec[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// unwrap returns body.data when the backend wrapped a single record.
func unwrap(body records.Record) records.Record {
	if data, ok := body["data"].(map[string]any); ok {
		return records.Record(data)
	}
	return body
}
