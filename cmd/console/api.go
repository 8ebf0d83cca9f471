package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jwebster45206/world-engine/internal/services/events"
	"github.com/jwebster45206/world-engine/internal/world"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type actionBody struct {
	AssetID     string `json:"asset_id"`
	Source      string `json:"src"`
	CharacterID string `json:"character_id,omitempty"`
}

func testConnection(client *http.Client, baseURL string) bool {
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close() // Ignore error in defer
	}()
	return resp.StatusCode == http.StatusOK
}

// decodeResponse reads body into out, turning API error bodies into errors
func decodeResponse(resp *http.Response, okStatus []int, out any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	ok := false
	for _, s := range okStatus {
		if resp.StatusCode == s {
			ok = true
		}
	}
	if !ok {
		var errorResp ErrorResponse
		if err := json.Unmarshal(body, &errorResp); err != nil || errorResp.Error == "" {
			return fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
		}
		return fmt.Errorf("request failed: %s", errorResp.Error)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func getRoom(client *http.Client, baseURL, roomID, characterID string) (*world.RoomView, error) {
	u := fmt.Sprintf("%s/v1/rooms/%s?character=%s", baseURL, url.PathEscape(roomID), url.QueryEscape(characterID))
	resp, err := client.Get(u)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close() // Ignore error in defer
	}()

	var view world.RoomView
	if err := decodeResponse(resp, []int{http.StatusOK}, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func postAction(client *http.Client, baseURL, assetID, characterID, src string) (*world.ActionResult, error) {
	jsonData, err := json.Marshal(actionBody{AssetID: assetID, Source: src, CharacterID: characterID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := client.Post(baseURL+"/v1/actions", "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close() // Ignore error in defer
	}()

	// A failing script comes back as 422 with the result body
	var result world.ActionResult
	if err := decodeResponse(resp, []int{http.StatusOK, http.StatusUnprocessableEntity}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// streamRoomUpdates follows the character's event stream, reconnecting on failure
func streamRoomUpdates(client *http.Client, baseURL, characterID string, out chan<- roomUpdateMsg) {
	u := fmt.Sprintf("%s/v1/events/characters/%s", baseURL, url.PathEscape(characterID))
	for {
		resp, err := client.Get(u)
		if err != nil {
			out <- roomUpdateMsg{err: err}
			time.Sleep(5 * time.Second)
			continue
		}
		readSSE(resp.Body, func(event, data string) {
			if event != "RoomUpdate" {
				return
			}
			var update events.RoomUpdate
			if err := json.Unmarshal([]byte(data), &update); err != nil {
				out <- roomUpdateMsg{err: fmt.Errorf("bad room update: %w", err)}
				return
			}
			out <- roomUpdateMsg{update: &update}
		})
		_ = resp.Body.Close()
		time.Sleep(time.Second)
	}
}

// readSSE calls fn for each complete event in r until r ends
func readSSE(r io.Reader, fn func(event, data string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if event != "" {
				fn(event, data)
			}
			event, data = "", ""
		}
	}
}
