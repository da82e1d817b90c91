package deploy

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const githubAPIBase = "https://api.github.com"

// GitHub commits every file of the artifact to a repository through the contents API.
// Destination is "owner/repo" or "owner/repo@branch".
type GitHub struct {
	baseURL string
}

func NewGitHub(baseURL string) *GitHub {
	if baseURL == "" {
		baseURL = githubAPIBase
	}
	return &GitHub{baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (g *GitHub) Name() string { return "github" }

type githubContent struct {
	SHA string `json:"sha"`
}

type githubPut struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha,omitempty"`
	Branch  string `json:"branch,omitempty"`
}

func (g *GitHub) Deploy(ctx context.Context, t Target) (string, error) {
	repo, branch, err := parseRepo(t.Destination)
	if err != nil {
		return "", &Error{Target: g.Name(), Err: err}
	}
	if t.Token == "" {
		return "", &Error{Target: g.Name(), Err: fmt.Errorf("a GitHub token is required")}
	}
	client := tokenClient(ctx, t.Token)
	message := t.Message
	if message == "" {
		message = "Update generated files"
	}

	// The contents API commits per file, so files go one at a time to keep the branch linear.
	for _, p := range t.Files.Paths() {
		endpoint := fmt.Sprintf("%s/repos/%s/contents/%s", g.baseURL, repo, escapePath(p))
		sha, err := g.currentSHA(ctx, client, endpoint, branch)
		if err != nil {
			return "", err
		}
		body := githubPut{
			Message: message,
			Content: base64.StdEncoding.EncodeToString([]byte(t.Files[p])),
			SHA:     sha,
			Branch:  branch,
		}
		if err := g.do(ctx, client, http.MethodPut, endpoint, body, nil); err != nil {
			return "", err
		}
	}

	dest := "https://github.com/" + repo
	if branch != "" {
		dest += "/tree/" + branch
	}
	return dest, nil
}

// currentSHA returns the blob sha of an existing file, or "" when it does not exist yet.
func (g *GitHub) currentSHA(ctx context.Context, client *http.Client, endpoint, branch string) (string, error) {
	if branch != "" {
		endpoint += "?ref=" + url.QueryEscape(branch)
	}
	var existing githubContent
	err := g.do(ctx, client, http.MethodGet, endpoint, nil, &existing)
	if err != nil {
		var de *Error
		if errors.As(err, &de) && de.StatusCode == http.StatusNotFound {
			return "", nil
		}
		return "", err
	}
	return existing.SHA, nil
}

func (g *GitHub) do(ctx context.Context, client *http.Client, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return &Error{Target: g.Name(), Err: err}
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return &Error{Target: g.Name(), Err: err}
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return &Error{Target: g.Name(), Err: err}
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{Target: g.Name(), StatusCode: resp.StatusCode, Body: string(data)}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return &Error{Target: g.Name(), Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}

func parseRepo(dest string) (repo, branch string, err error) {
	repo, branch, _ = strings.Cut(strings.TrimSpace(dest), "@")
	parts := strings.Split(repo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("destination %q is not owner/repo", dest)
	}
	return repo, branch, nil
}

func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
