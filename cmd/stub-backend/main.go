// Command stub-backend feeds a running threadview server with a couple of
// canned messages over the bridge, the way the native mail layer would. It is
// meant for working on render surfaces without a mail store.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type bridgeReply struct {
	Op      string `json:"op"`
	Focused string `json:"focused"`
	Error   string `json:"error,omitempty"`
}

func main() {
	baseURL := getEnvOrDefault("THREADVIEW_URL", "http://localhost:8080")
	token := getEnvOrDefault("THREADVIEW_API_TOKEN", "test-token")

	id, err := createView(baseURL, token)
	if err != nil {
		log.Fatalf("Failed to create view: %v", err)
	}
	log.Printf("Created view %s", id)

	conn, err := dialBridge(baseURL, token, id)
	if err != nil {
		log.Fatalf("Failed to connect bridge: %v", err)
	}
	defer func() { _ = conn.Close() }()

	commands := []map[string]any{
		{"op": "add_message", "message": stubMessages[0]},
		{"op": "add_message", "message": stubMessages[1]},
		{"op": "set_warning", "id": "stub-2@example.com", "text": "Message content is missing"},
		{"op": "focus_next_element"},
		{"op": "expand_message", "id": "stub-1@example.com"},
		{"op": "focus_next_element"},
	}

	for _, cmd := range commands {
		reply, err := send(conn, cmd)
		if err != nil {
			log.Fatalf("Bridge command %v failed: %v", cmd["op"], err)
		}
		if reply.Error != "" {
			log.Printf("StubBackend: %s -> error: %s", reply.Op, reply.Error)
			continue
		}
		log.Printf("StubBackend: %s -> focused %q", reply.Op, reply.Focused)
	}

	log.Printf("Done. Subscribe to %s/api/v1/views/%s/ws?token=... to watch the view.", strings.Replace(baseURL, "http", "ws", 1), id)
}

func createView(baseURL, token string) (string, error) {
	body := bytes.NewBufferString(`{"thread_key": "stub"}`)
	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/v1/views", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return created.ID, nil
}

func dialBridge(baseURL, token, id string) (*websocket.Conn, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid THREADVIEW_URL: %w", err)
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = "/api/v1/views/" + id + "/bridge"
	u.RawQuery = url.Values{"token": {token}}.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	return conn, err
}

func send(conn *websocket.Conn, cmd map[string]any) (bridgeReply, error) {
	var reply bridgeReply
	if err := conn.WriteJSON(cmd); err != nil {
		return reply, fmt.Errorf("failed to write: %w", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&reply); err != nil {
		return reply, fmt.Errorf("failed to read reply: %w", err)
	}
	return reply, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// stubMessages are serialized the way the native layer does it: empty lists
// arrive as "" and booleans as strings.
var stubMessages = []map[string]any{
	{
		"id":   "stub-1@example.com",
		"from": []any{map[string]any{"address": "alice@example.com", "name": "Alice"}},
		"to": []any{
			map[string]any{"address": "bob@example.com"},
			map[string]any{"address": "mary@example.com", "name": "Mary Jane"},
		},
		"cc":       "",
		"bcc":      "",
		"date":     map[string]any{"pretty": "Jun 10", "verbose": "June 10, 2017 3:00 pm", "timestamp": "1497106800"},
		"subject":  "Hello there",
		"tags":     []any{map[string]any{"tag": "signed"}, map[string]any{"tag": "inbox"}},
		"focused":  "true",
		"preview":  "Thanks for the pointer...",
		"gravatar": "",
		"body": []any{
			map[string]any{
				"eid":       1,
				"mime_type": "text/plain",
				"preferred": "false",
				"content":   "Thanks for the pointer, I will have a look.",
				"children":  "",
			},
			map[string]any{
				"eid":       2,
				"mime_type": "text/html",
				"preferred": "true",
				"content":   "<p>Thanks for the <em>pointer</em>, I will have a look.</p>",
				"children":  "",
			},
		},
		"attachments": []any{
			map[string]any{"eid": 3, "filename": "notes.txt", "size": "1.2 kB", "signed": "false", "encrypted": "false"},
		},
		"mime_messages": "",
	},
	{
		"id":              "stub-2@example.com",
		"from":            "",
		"to":              []any{map[string]any{"address": "bob@example.com", "name": "Bob"}},
		"in_reply_to":     "stub-1@example.com",
		"date":            map[string]any{"pretty": "Jun 11", "verbose": "June 11, 2017 9:15 am", "timestamp": "1497172500"},
		"subject":         "Re: Hello there",
		"tags":            []any{map[string]any{"tag": "inbox"}},
		"missing_content": "true",
		"preview":         "",
		"body":            "",
		"attachments":     "",
		"mime_messages":   "",
	},
}
