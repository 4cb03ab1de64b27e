package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// ChunkAlignment is the required alignment for upload chunk sizes (320 KiB).
// All chunks except the final one must be a multiple of this value.
const ChunkAlignment = 320 * 1024

// SimpleUploadMaxSize is the maximum content size for a single-request
// upload (4 MB). Larger content must use an upload session.
const SimpleUploadMaxSize = 4 * 1024 * 1024

// Upload session request/response types for Graph API JSON serialization.
type createUploadSessionRequest struct {
	Item uploadSessionItem `json:"item"`
}

type uploadSessionItem struct {
	ConflictBehavior string `json:"@microsoft.graph.conflictBehavior"` //nolint:tagliatelle // Graph API annotation key
}

type uploadSessionResponse struct {
	UploadURL          string `json:"uploadUrl"`
	ExpirationDateTime string `json:"expirationDateTime"`
}

// UploadNew creates a file named name under parentID with content in a
// single PUT. An existing item with that name fails with ErrConflict.
func (c *Client) UploadNew(
	ctx context.Context, driveID, parentID, name string, content []byte,
) (*Item, error) {
	c.logger.Info("simple upload",
		slog.String("drive_id", driveID),
		slog.String("parent_id", parentID),
		slog.String("name", name),
		slog.Int("size", len(content)),
	)

	path := fmt.Sprintf("%s:/%s:/content?@microsoft.graph.conflictBehavior=fail",
		itemPath(driveID, parentID), url.PathEscape(name))

	return c.putContent(ctx, path, content)
}

// ReplaceContent overwrites an existing item's content in a single PUT.
func (c *Client) ReplaceContent(ctx context.Context, driveID, itemID string, content []byte) (*Item, error) {
	c.logger.Info("replacing item content",
		slog.String("drive_id", driveID),
		slog.String("item_id", itemID),
		slog.Int("size", len(content)),
	)

	return c.putContent(ctx, itemPath(driveID, itemID)+"/content", content)
}

// putContent sends an authenticated octet-stream PUT. The content is a
// byte slice, so transient retries can resend it safely.
func (c *Client) putContent(ctx context.Context, path string, content []byte) (*Item, error) {
	resp, err := c.doRetry(ctx, http.MethodPut, path, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, bytes.NewReader(content))
		if err != nil {
			return nil, fmt.Errorf("graph: creating upload request: %w", err)
		}

		tok, err := c.token.Token()
		if err != nil {
			return nil, fmt.Errorf("graph: obtaining token for upload: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+tok)
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set("User-Agent", userAgent)

		return req, nil
	})
	if err != nil {
		return nil, err
	}

	return c.decodeItem(resp, "upload")
}

// CreateUploadSession opens a resumable upload session that replaces the
// content of an existing item. The returned session URL is pre-authenticated.
func (c *Client) CreateUploadSession(ctx context.Context, driveID, itemID string) (*UploadSession, error) {
	c.logger.Info("creating upload session",
		slog.String("drive_id", driveID),
		slog.String("item_id", itemID),
	)

	bodyBytes, err := json.Marshal(createUploadSessionRequest{
		Item: uploadSessionItem{ConflictBehavior: "replace"},
	})
	if err != nil {
		return nil, fmt.Errorf("graph: marshaling upload session request: %w", err)
	}

	resp, err := c.Do(ctx, http.MethodPost, itemPath(driveID, itemID)+"/createUploadSession", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var usr uploadSessionResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&usr); decErr != nil {
		return nil, fmt.Errorf("graph: decoding upload session response: %w", decErr)
	}

	expTime, parseErr := time.Parse(time.RFC3339, usr.ExpirationDateTime)
	if parseErr != nil {
		c.logger.Warn("invalid upload session expiration, using zero time",
			slog.String("raw", usr.ExpirationDateTime),
		)
	}

	c.logger.Debug("upload session created", slog.Time("expires", expTime))

	return &UploadSession{UploadURL: usr.UploadURL, ExpirationTime: expTime}, nil
}

// UploadChunk sends one byte range to an upload session.
// Returns the completed Item on the final chunk (200/201) and nil for
// intermediate chunks (202). The session URL is pre-authenticated, so no
// Authorization header is sent.
func (c *Client) UploadChunk(
	ctx context.Context, session *UploadSession, chunk []byte, contentRange string,
) (*Item, error) {
	c.logger.Debug("uploading chunk",
		slog.String("content_range", contentRange),
		slog.Int("length", len(chunk)),
	)

	resp, err := c.doPreAuthRetry(ctx, http.MethodPut, "upload chunk", func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, session.UploadURL, bytes.NewReader(chunk))
		if err != nil {
			return nil, fmt.Errorf("graph: creating chunk upload request: %w", err)
		}

		req.Header.Set("Content-Range", contentRange)
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set("User-Agent", userAgent)
		req.ContentLength = int64(len(chunk))

		return req, nil
	})
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusAccepted {
		c.logger.Debug("intermediate chunk accepted")
		return nil, drain(resp, "chunk")
	}

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		item, err := c.decodeItem(resp, "final chunk")
		if err != nil {
			return nil, err
		}

		c.logger.Debug("upload complete",
			slog.String("item_id", item.ID),
			slog.String("item_name", item.Name),
		)

		return item, nil
	}

	_ = drain(resp, "chunk")

	return nil, &GraphError{
		StatusCode: resp.StatusCode,
		Message:    "unexpected chunk upload status",
		Err:        ErrUnexpectedStatus,
	}
}

// CancelUploadSession discards an in-progress upload session. Best effort:
// sessions also expire on their own.
func (c *Client) CancelUploadSession(ctx context.Context, session *UploadSession) error {
	c.logger.Info("canceling upload session")

	resp, err := c.doPreAuthRetry(ctx, http.MethodDelete, "cancel upload session", func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, session.UploadURL, http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("graph: creating cancel session request: %w", err)
		}

		req.Header.Set("User-Agent", userAgent)

		return req, nil
	})
	if err != nil {
		return err
	}

	return drain(resp, "cancel session")
}
