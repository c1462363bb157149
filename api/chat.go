package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	"ragos/config"
	"ragos/model"
)

// StreamChat starts a fresh chat turn over the multipart stream route.
// Optional fields are omitted from the form entirely so server defaults
// apply.
func (c *Client) StreamChat(ctx context.Context, req model.ChatStreamRequest, handlers model.StreamHandlers) error {
	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)

	if err := form.WriteField("message", req.Message); err != nil {
		return fmt.Errorf("encoding chat form: %w", err)
	}
	if req.ConversationID != "" {
		if err := form.WriteField("conversation_id", req.ConversationID); err != nil {
			return fmt.Errorf("encoding chat form: %w", err)
		}
	}
	if req.UseWebSearch != nil {
		if err := form.WriteField("use_web_search", strconv.FormatBool(*req.UseWebSearch)); err != nil {
			return fmt.Errorf("encoding chat form: %w", err)
		}
	}
	if len(req.SelectedDocumentIDs) > 0 {
		ids, err := json.Marshal(req.SelectedDocumentIDs)
		if err != nil {
			return fmt.Errorf("encoding selected documents: %w", err)
		}
		if err := form.WriteField("selected_document_ids", string(ids)); err != nil {
			return fmt.Errorf("encoding chat form: %w", err)
		}
	}
	for _, img := range req.Images {
		part, err := createImagePart(form, img)
		if err != nil {
			return fmt.Errorf("encoding image %q: %w", img.Filename, err)
		}
		if _, err := part.Write(img.Data); err != nil {
			return fmt.Errorf("encoding image %q: %w", img.Filename, err)
		}
	}
	if err := form.Close(); err != nil {
		return fmt.Errorf("encoding chat form: %w", err)
	}

	return c.stream(ctx, "/api/v1/chat/stream", body, form.FormDataContentType(), handlers)
}

// StreamEdit restarts a turn from an edited user message.
func (c *Client) StreamEdit(ctx context.Context, req model.EditStreamRequest, handlers model.StreamHandlers) error {
	return c.streamJSON(ctx, "/api/v1/chat/edit", req, handlers)
}

// StreamRegenerate redoes the turn that produced an assistant message.
func (c *Client) StreamRegenerate(ctx context.Context, req model.RegenerateStreamRequest, handlers model.StreamHandlers) error {
	return c.streamJSON(ctx, "/api/v1/chat/regenerate", req, handlers)
}

// streamJSON posts a JSON body to a stream route and dispatches the response.
func (c *Client) streamJSON(ctx context.Context, path string, payload any, handlers model.StreamHandlers) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding request for %s: %w", path, err)
	}
	return c.stream(ctx, path, bytes.NewReader(body), "application/json", handlers)
}

// stream performs the POST and hands the response body to the frame reader.
func (c *Client) stream(ctx context.Context, path string, body io.Reader, contentType string, handlers model.StreamHandlers) error {
	req, err := c.newRequest(ctx, http.MethodPost, path, body, contentType)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("stream request to %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if config.DebugLog != nil {
			config.DebugLog.Printf("[API] Stream %s failed: status %d, body: %s", path, resp.StatusCode, detail)
		}
		return fmt.Errorf("stream request failed: status %d", resp.StatusCode)
	}

	if err := readStream(resp.Body, handlers); err != nil {
		return fmt.Errorf("reading stream from %s: %w", path, err)
	}
	return nil
}

// createImagePart adds a file part named "images" carrying the attachment's
// content type.
func createImagePart(form *multipart.Writer, img model.ImageAttachment) (io.Writer, error) {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="images"; filename="%s"`, escapeQuotes(img.Filename)))
	contentType := img.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	return form.CreatePart(header)
}

func escapeQuotes(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

// apiEnvelope is the standard REST response wrapper.
type apiEnvelope[T any] struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    *T     `json:"data"`
}

// Conversations fetches one page of the conversation list. Pass cursor ""
// for the first page and limit 0 for the server default.
func (c *Client) Conversations(ctx context.Context, cursor string, limit int) (model.ConversationPage, error) {
	path := "/api/v1/conversations"
	query := url.Values{}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var page model.ConversationPage
	if err := c.getJSON(ctx, path, &page); err != nil {
		return model.ConversationPage{}, err
	}
	return page, nil
}

// conversationMessagesWire is the history endpoint's data payload.
type conversationMessagesWire struct {
	ConversationID string                `json:"conversation_id"`
	Messages       []model.ServerMessage `json:"messages"`
}

// ConversationMessages fetches the full persisted history of a conversation
// in transcript order.
func (c *Client) ConversationMessages(ctx context.Context, conversationID string) ([]model.ServerMessage, error) {
	path := "/api/v1/conversations/" + url.PathEscape(conversationID) + "/messages"
	var wire conversationMessagesWire
	if err := c.getJSON(ctx, path, &wire); err != nil {
		return nil, err
	}
	return wire.Messages, nil
}

// getJSON performs a GET and unwraps the response envelope into out.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("request to %s failed: status %d", path, resp.StatusCode)
	}

	var env apiEnvelope[json.RawMessage]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decoding response from %s: %w", path, err)
	}
	if env.Data == nil {
		return fmt.Errorf("request to %s failed: %s", path, env.Message)
	}
	if err := json.Unmarshal(*env.Data, out); err != nil {
		return fmt.Errorf("decoding response data from %s: %w", path, err)
	}
	return nil
}
