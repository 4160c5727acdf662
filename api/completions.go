package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"buddy/types"
)

// requestCompletions sends one `/chat/completions` request and parses the
// response directly into the canonical ChatResponse shape (the two shapes
// are already wire-compatible).
func requestCompletions(ctx context.Context, client *http.Client, baseURL string, request types.ChatRequest, bearer string) (types.ChatResponse, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return types.ChatResponse{}, newInvalidResponseError("encoding request: %v", err)
	}

	url := baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return types.ChatResponse{}, newTransportError(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if token := strings.TrimSpace(bearer); token != "" {
		httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return types.ChatResponse{}, newTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		retryAfter := parseRetryAfterSecs(resp.Header)
		respBody, _ := io.ReadAll(resp.Body)
		return types.ChatResponse{}, newStatusError(resp.StatusCode, string(respBody), retryAfter)
	}

	var chatResponse types.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResponse); err != nil {
		return types.ChatResponse{}, newInvalidResponseError("decoding completions response: %v", err)
	}
	return chatResponse, nil
}
