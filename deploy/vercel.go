package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const vercelAPIBase = "https://api.vercel.com"

// Vercel creates a deployment with the files inlined. Destination is the project name.
type Vercel struct {
	baseURL string
	teamID  string
}

func NewVercel(baseURL, teamID string) *Vercel {
	if baseURL == "" {
		baseURL = vercelAPIBase
	}
	return &Vercel{baseURL: strings.TrimSuffix(baseURL, "/"), teamID: teamID}
}

func (v *Vercel) Name() string { return "vercel" }

type vercelFile struct {
	File     string `json:"file"`
	Data     string `json:"data"`
	Encoding string `json:"encoding"`
}

type vercelDeployment struct {
	Name            string            `json:"name"`
	Files           []vercelFile      `json:"files"`
	Target          string            `json:"target,omitempty"`
	ProjectSettings map[string]any    `json:"projectSettings,omitempty"`
	Meta            map[string]string `json:"meta,omitempty"`
}

type vercelResponse struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	ReadyState string `json:"readyState"`
}

func (v *Vercel) Deploy(ctx context.Context, t Target) (string, error) {
	if t.Token == "" {
		return "", &Error{Target: v.Name(), Err: fmt.Errorf("a Vercel token is required")}
	}

	body := vercelDeployment{
		Name:   strings.TrimSpace(t.Destination),
		Target: "production",
		Meta:   map[string]string{"source": "forge"},
	}
	for _, p := range t.Files.Paths() {
		body.Files = append(body.Files, vercelFile{File: p, Data: t.Files[p], Encoding: "utf-8"})
	}
	if _, ok := t.Files["package.json"]; !ok {
		body.ProjectSettings = map[string]any{"framework": nil}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", &Error{Target: v.Name(), Err: err}
	}
	endpoint := v.baseURL + "/v13/deployments"
	if v.teamID != "" {
		endpoint += "?teamId=" + url.QueryEscape(v.teamID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", &Error{Target: v.Name(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tokenClient(ctx, t.Token).Do(req)
	if err != nil {
		return "", &Error{Target: v.Name(), Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &Error{Target: v.Name(), StatusCode: resp.StatusCode, Body: string(raw)}
	}
	var out vercelResponse
	if err := json.Unmarshal(raw, &out); err != nil || out.URL == "" {
		return "", &Error{Target: v.Name(), StatusCode: resp.StatusCode, Body: string(raw), Err: fmt.Errorf("response has no deployment url")}
	}
	if strings.HasPrefix(out.URL, "http") {
		return out.URL, nil
	}
	return "https://" + out.URL, nil
}
