// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package trackerclient provides the client half of the cell update
// protocol: the HTTP transport, the conflict resolution controller, and
// the optimistic cache reconciler.
//
// A UI layer submits edits through the Controller, which talks to the
// tracker service and routes any write-write conflict through a
// caller-supplied ResolutionPolicy. The Reconciler mutates local read
// caches ahead of server confirmation and rolls them back when an update
// fails or stays conflicted.
package trackerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/OliverTaki/MOTK2.1-sub002/services/tracker"
	"github.com/OliverTaki/MOTK2.1-sub002/services/tracker/cell"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Submitter delivers update intents to the compare-and-swap guard.
//
// The production implementation is Client (HTTP). Tests may submit
// directly against an in-process guard.
type Submitter interface {
	// Submit applies one update intent and returns its outcome.
	// Transport errors surface as a Failed outcome, never as a panic.
	Submit(ctx context.Context, intent cell.UpdateIntent) cell.UpdateOutcome

	// SubmitBatch applies a batch of independent intents.
	SubmitBatch(ctx context.Context, intents cell.BatchIntent) cell.BatchOutcome
}

// =============================================================================
// HTTP Client
// =============================================================================

// Client is the HTTP transport for the tracker wire contract.
//
// # Thread Safety
//
// Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientConfig holds Client construction options.
type ClientConfig struct {
	// BaseURL is the tracker service root, e.g. "http://localhost:12410".
	BaseURL string

	// Timeout bounds each request. Default: 30 seconds.
	Timeout time.Duration

	// HTTPClient overrides the default client. When set, Timeout is
	// ignored.
	HTTPClient *http.Client
}

// NewClient creates a tracker API client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("trackerclient: BaseURL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: httpClient,
	}, nil
}

// Submit applies one update intent over HTTP.
//
// # Description
//
// Maps wire responses back into domain outcomes: 200 with success=true
// becomes Committed, 409 becomes Conflicted carrying the server's
// current value, anything else becomes Failed.
func (c *Client) Submit(ctx context.Context, intent cell.UpdateIntent) cell.UpdateOutcome {
	reqBody := tracker.UpdateCellRequest{
		Collection:    intent.Key.Collection,
		EntityID:      intent.Key.EntityID,
		FieldID:       intent.Key.FieldID,
		OriginalValue: intent.OriginalValue,
		NewValue:      intent.NewValue,
		Force:         intent.Force,
	}

	status, body, err := c.post(ctx, "/v1/cells/update", intent.RequestID, reqBody)
	if err != nil {
		return cell.Failed(err)
	}

	switch status {
	case http.StatusOK, http.StatusConflict:
		var resp tracker.UpdateCellResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return cell.Failed(fmt.Errorf("decode update response: %w", err))
		}
		return outcomeFromResponse(intent.Key, resp)
	default:
		return cell.Failed(errorFromBody(status, body))
	}
}

// SubmitBatch applies a batch of independent intents over HTTP.
//
// A transport-level failure fails every item, since no per-item outcome
// is known.
func (c *Client) SubmitBatch(ctx context.Context, intents cell.BatchIntent) cell.BatchOutcome {
	items := make([]tracker.UpdateCellRequest, len(intents))
	for i, intent := range intents {
		items[i] = tracker.UpdateCellRequest{
			Collection:    intent.Key.Collection,
			EntityID:      intent.Key.EntityID,
			FieldID:       intent.Key.FieldID,
			OriginalValue: intent.OriginalValue,
			NewValue:      intent.NewValue,
			Force:         intent.Force,
		}
	}

	status, body, err := c.post(ctx, "/v1/cells/batch", "", tracker.BatchUpdateRequest{Items: items})
	if err != nil {
		return failAll(intents, err)
	}
	if status != http.StatusOK {
		return failAll(intents, errorFromBody(status, body))
	}

	var resp tracker.BatchUpdateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return failAll(intents, fmt.Errorf("decode batch response: %w", err))
	}
	if len(resp.Results) != len(intents) {
		return failAll(intents, fmt.Errorf("batch response has %d results for %d items",
			len(resp.Results), len(intents)))
	}

	outcome := cell.BatchOutcome{
		PerItem:        make([]cell.UpdateOutcome, len(intents)),
		OverallSuccess: resp.Success,
	}
	for i, r := range resp.Results {
		outcome.PerItem[i] = outcomeFromResponse(intents[i].Key, r)
	}
	return outcome
}

// ReadCell fetches the current value of one cell. An absent cell reads
// as the zero Value.
func (c *Client) ReadCell(ctx context.Context, key cell.Key) (cell.Value, error) {
	url := fmt.Sprintf("%s/v1/cells/value/%s/%s/%s",
		c.baseURL, key.Collection, key.EntityID, key.FieldID)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return cell.Value{}, fmt.Errorf("create read request: %w", err)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return cell.Value{}, fmt.Errorf("read cell: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return cell.Value{}, fmt.Errorf("read response body: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return cell.Value{}, errorFromBody(httpResp.StatusCode, body)
	}

	var resp tracker.ReadCellResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return cell.Value{}, fmt.Errorf("decode read response: %w", err)
	}
	return resp.Value, nil
}

// =============================================================================
// Private Helpers
// =============================================================================

func (c *Client) post(ctx context.Context, path, requestID string, body any) (int, []byte, error) {
	reqBytes, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewBuffer(reqBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("send request: %w", err)
	}
	defer httpResp.Body.Close()

	respBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response body: %w", err)
	}
	return httpResp.StatusCode, respBytes, nil
}

// outcomeFromResponse maps one wire result back into a domain outcome.
func outcomeFromResponse(key cell.Key, resp tracker.UpdateCellResponse) cell.UpdateOutcome {
	switch {
	case resp.Success:
		return cell.Committed(resp.UpdatedValue)
	case resp.Conflict != nil:
		return cell.Conflicted(cell.ConflictRecord{
			Key:                 key,
			ClientOriginalValue: resp.Conflict.OriginalValue,
			ServerCurrentValue:  resp.Conflict.CurrentValue,
			DetectedAt:          resp.Conflict.DetectedAt,
		})
	default:
		msg := resp.Error
		if msg == "" {
			msg = "update failed"
		}
		return cell.Failed(fmt.Errorf("%s", msg))
	}
}

// errorFromBody builds an error from a non-outcome HTTP response.
func errorFromBody(status int, body []byte) error {
	var errResp tracker.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return fmt.Errorf("tracker returned %d (%s): %s", status, errResp.Code, errResp.Error)
	}
	return fmt.Errorf("tracker returned %d", status)
}

func failAll(intents cell.BatchIntent, err error) cell.BatchOutcome {
	outcome := cell.BatchOutcome{
		PerItem: make([]cell.UpdateOutcome, len(intents)),
	}
	for i := range intents {
		outcome.PerItem[i] = cell.Failed(err)
	}
	return outcome
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Submitter = (*Client)(nil)
