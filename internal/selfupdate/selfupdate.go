// Package selfupdate reports whether a newer release is available on
// GitHub. It never downloads or installs anything: "update" only reads and
// reports, leaving the actual upgrade to the operator's package manager.
package selfupdate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultReleaseAPI = "https://api.github.com/repos/FacuVCanale/gralph/releases/latest"

// Notice is the result of one Check call.
type Notice struct {
	CurrentVersion  string
	LatestVersion   string
	UpdateAvailable bool
}

type release struct {
	TagName string `json:"tag_name"`
}

// Client is the HTTP surface Check depends on, so tests can substitute a
// fake transport without reaching the network.
type Client interface {
	Do(req *http.Request) (*http.Response, error)
}

var httpClient Client = &http.Client{Timeout: 10 * time.Second}

// ReleaseAPI is the GitHub releases endpoint Check queries. Overridable in
// tests.
var ReleaseAPI = defaultReleaseAPI

// Check compares currentVersion against the latest GitHub release tag.
// "dev" builds (the default when Version is unset at link time) are always
// reported as up to date, since there is no meaningful comparison to make.
func Check(currentVersion string) (Notice, error) {
	if currentVersion == "" || currentVersion == "dev" {
		return Notice{CurrentVersion: currentVersion}, nil
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, ReleaseAPI, nil)
	if err != nil {
		return Notice{}, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return Notice{}, fmt.Errorf("selfupdate: query latest release: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return Notice{}, fmt.Errorf("selfupdate: github returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var rel release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return Notice{}, fmt.Errorf("selfupdate: decode release metadata: %w", err)
	}

	latest := normalizeTag(rel.TagName)
	current := normalizeTag(currentVersion)
	return Notice{
		CurrentVersion:  currentVersion,
		LatestVersion:   latest,
		UpdateAvailable: latest != "" && latest != current,
	}, nil
}

func normalizeTag(tag string) string {
	tag = strings.TrimSpace(tag)
	return strings.TrimPrefix(tag, "v")
}
