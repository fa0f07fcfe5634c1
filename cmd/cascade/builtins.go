package main

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// builtinToolSet is the tool invoker backing CLI runs. It covers the small
// set of general-purpose tools useful from workflow definitions without an
// embedding application: echo, sleep, http_get, and shell.
type builtinToolSet struct {
	client *http.Client
}

func builtinTools() *builtinToolSet {
	return &builtinToolSet{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (b *builtinToolSet) HasTool(name string) bool {
	switch name {
	case "echo", "sleep", "http_get", "shell":
		return true
	}
	return false
}

func (b *builtinToolSet) Invoke(ctx context.Context, name string, input map[string]any) (map[string]any, error) {
	switch name {
	case "echo":
		return input, nil

	case "sleep":
		raw, _ := input["duration"].(string)
		if raw == "" {
			raw = "1s"
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("sleep: invalid duration %q: %w", raw, err)
		}
		select {
		case <-time.After(d):
			return map[string]any{"slept": d.String()}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}

	case "http_get":
		url, _ := input["url"].(string)
		if url == "" {
			return nil, fmt.Errorf("http_get: input must carry a url")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("http_get: %w", err)
		}
		resp, err := b.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("http_get: %w", err)
		}
		defer resp.Body.Close()

		var body map[string]any
		dec := json.NewDecoder(resp.Body)
		// Non-JSON bodies are fine; report only the status then.
		_ = dec.Decode(&body)
		return map[string]any{
			"status": resp.StatusCode,
			"body":   body,
		}, nil

	case "shell":
		cmdline, _ := input["command"].(string)
		if cmdline == "" {
			return nil, fmt.Errorf("shell: input must carry a command")
		}
		out, err := exec.CommandContext(ctx, "sh", "-c", cmdline).CombinedOutput()
		result := map[string]any{"output": strings.TrimRight(string(out), "\n")}
		if err != nil {
			return nil, fmt.Errorf("shell: %s: %w", strings.TrimSpace(string(out)), err)
		}
		return result, nil
	}

	return nil, fmt.Errorf("unknown tool %q", name)
}
