// Package github harvests release assets from GitHub repositories for
// cmd/aplindex and publishes the generated signed index back to a GitHub
// Release. Adapted from its predecessor's github.go, generalized from its
// .deb-only FetchDebURLs/UploadIndex/PushDeb (apt.PackageIndex, RFC822
// control stanzas) to the generic artifact-format set this registry uses
// (tar.gz/tar.xz/tar.zst/zip/raw-binary), matching against any asset name
// ending in one of those instead of just ".deb".
package github

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Repo names a GitHub repository to harvest release assets from.
type Repo struct {
	Name  string
	Owner string
}

type release struct {
	ID      int64   `json:"id"`
	TagName string  `json:"tag_name"`
	Assets  []asset `json:"assets"`
}

type asset struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

func fetchReleases(owner, repo, token string) ([]release, error) {
	url := fmt.Sprintf("https://api.github.com/repos/%s/%s/releases", owner, repo)
	req, _ := http.NewRequest("GET", url, nil)
	if token != "" {
		req.Header.Set("Authorization", "token "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("GitHub API status %d", resp.StatusCode)
	}

	var releases []release
	if err := json.NewDecoder(resp.Body).Decode(&releases); err != nil {
		return nil, err
	}
	return releases, nil
}

// releaseAssetSuffixes are the archive/binary extensions 
// ArtifactFormat enum recognizes.
var releaseAssetSuffixes = []string{".tar.gz", ".tgz", ".tar.xz", ".tar.zst", ".zip"}

// ReleaseAsset pairs a harvested download URL with the release tag it came
// from, so cmd/aplindex can turn it into an index.VersionInfo.
type ReleaseAsset struct {
	Tag string
	URL string
	Name string
}

// FetchReleaseAssets scans a GitHub repository's Releases and returns
// every asset matching one of the recognized archive formats, or a
// raw-binary asset if none of the suffixes match and the release has
// exactly one asset (the common case for single-binary CLI tools).
func FetchReleaseAssets(owner, repo, token string) ([]ReleaseAsset, error) {
	releases, err := fetchReleases(owner, repo, token)
	if err != nil {
		return nil, err
	}
	var out []ReleaseAsset
	for _, rel := range releases {
		for _, a := range rel.Assets {
			if matchesArchiveSuffix(a.Name) {
				out = append(out, ReleaseAsset{Tag: rel.TagName, URL: a.BrowserDownloadURL, Name: a.Name})
			}
		}
		if len(rel.Assets) == 1 && !matchesArchiveSuffix(rel.Assets[0].Name) {
			a := rel.Assets[0]
			out = append(out, ReleaseAsset{Tag: rel.TagName, URL: a.BrowserDownloadURL, Name: a.Name})
		}
	}
	return out, nil
}

func matchesArchiveSuffix(name string) bool {
	for _, suf := range releaseAssetSuffixes {
		if strings.HasSuffix(name, suf) {
			return true
		}
	}
	return false
}

// FetchAllReleaseAssets aggregates release assets across multiple
// repositories, skipping (and logging) any repository that errors rather
// than aborting the whole harvest.
func FetchAllReleaseAssets(repos []Repo, token string) []ReleaseAsset {
	var out []ReleaseAsset
	for _, repo := range repos {
		fmt.Printf("Scraping %s/%s...\n", repo.Owner, repo.Name)
		assets, err := FetchReleaseAssets(repo.Owner, repo.Name, token)
		if err != nil {
			fmt.Printf("  Error: %v\n", err)
			continue
		}
		out = append(out, assets...)
	}
	return out
}

func uploadAsset(repoSlug, tag, filePath, token string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()
	stat, _ := f.Stat()
	return uploadAssetFromReader(repoSlug, tag, filepath.Base(filePath), f, stat.Size(), token)
}

func uploadAssetFromReader(repoSlug, tag, fileName string, content io.Reader, size int64, token string) error {
	parts := strings.Split(repoSlug, "/")
	if len(parts) != 2 {
		return fmt.Errorf("invalid repo slug")
	}
	owner, repo := parts[0], parts[1]

	// 1. Get Release ID by Tag
	url := fmt.Sprintf("https://api.github.com/repos/%s/%s/releases/tags/%s", owner, repo, tag)
	req, _ := http.NewRequest("GET", url, nil)
	req.Header.Set("Authorization", "token "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("release not found: %s", tag)
	}
	var rel release
	json.NewDecoder(resp.Body).Decode(&rel)

	// 2. Check if asset exists and delete it (overwrite)
	for _, a := range rel.Assets {
		if a.Name == fileName {
			delUrl := fmt.Sprintf("https://api.github.com/repos/%s/%s/releases/assets/%d", owner, repo, a.ID)
			delReq, _ := http.NewRequest("DELETE", delUrl, nil)
			delReq.Header.Set("Authorization", "token "+token)
			http.DefaultClient.Do(delReq)
			break
		}
	}

	// 3. Upload
	uploadUrl := fmt.Sprintf("https://uploads.github.com/repos/%s/%s/releases/%d/assets?name=%s", owner, repo, rel.ID, fileName)
	upReq, _ := http.NewRequest("POST", uploadUrl, content)
	upReq.Header.Set("Authorization", "token "+token)
	upReq.Header.Set("Content-Type", "application/octet-stream")
	upReq.ContentLength = size

	upResp, err := http.DefaultClient.Do(upReq)
	if err != nil {
		return err
	}
	defer upResp.Body.Close()
	if upResp.StatusCode != 201 {
		body, _ := io.ReadAll(upResp.Body)
		return fmt.Errorf("upload failed: %s %s", upResp.Status, string(body))
	}
	return nil
}

// PublishIndex uploads the index bytes as index.json.zst and its detached
// Ed25519 signature as index.json.zst.sig to a GitHub Release tag, so that
// the registry can be served directly from Release assets.
func PublishIndex(repoSlug, tag, token string, indexBytes, sigBytes []byte) error {
	assets := []struct {
		Name    string
		Content []byte
	}{
		{"index.json.zst", indexBytes},
		{"index.json.zst.sig", sigBytes},
	}
	for _, a := range assets {
		if len(a.Content) == 0 {
			continue
		}
		if err := uploadAssetFromReader(repoSlug, tag, a.Name, strings.NewReader(string(a.Content)), int64(len(a.Content)), token); err != nil {
			return fmt.Errorf("failed to upload %s: %w", a.Name, err)
		}
		fmt.Printf("Uploaded %s\n", a.Name)
	}
	return nil
}

// PushAssets uploads local artifact files to a GitHub Release tag
// unchanged, for templates that build their own artifacts rather than
// pointing at an upstream's existing release.
func PushAssets(repoSlug, tag, token string, files []string) error {
	for _, f := range files {
		fmt.Printf("Uploading asset %s to %s...\n", filepath.Base(f), tag)
		if err := uploadAsset(repoSlug, tag, f, token); err != nil {
			return fmt.Errorf("error uploading asset %s: %w", f, err)
		}
	}
	return nil
}
