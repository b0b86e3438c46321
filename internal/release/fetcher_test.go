package release

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dshills/lspherd/internal/platform"
)

const releaseJSON = `{
	"tag_name": "v0.4.2",
	"assets": [
		{"name": "dws-lsp_linux", "browser_download_url": "https://example.com/dws-lsp_linux"},
		{"name": "dws-lsp_macos", "browser_download_url": "https://example.com/dws-lsp_macos"},
		{"name": "dws-lsp.exe", "browser_download_url": "https://example.com/dws-lsp.exe"}
	]
}`

func TestFetchLatest(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		if r.URL.Path != "/repos/CWBudde/go-dws-lsp/releases/latest" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(releaseJSON))
	}))
	defer srv.Close()

	f := NewFetcher("CWBudde", "go-dws-lsp", WithBaseURL(srv.URL))
	rel, err := f.FetchLatest(context.Background())
	if err != nil {
		t.Fatalf("FetchLatest() error = %v", err)
	}

	if gotUA == "" {
		t.Error("request was sent without a User-Agent header")
	}
	if rel.Tag != "v0.4.2" {
		t.Errorf("tag = %q, want v0.4.2", rel.Tag)
	}
	if len(rel.Assets) != 3 {
		t.Fatalf("expected 3 assets, got %d", len(rel.Assets))
	}
	if rel.Assets[0].Name != "dws-lsp_linux" {
		t.Errorf("first asset = %q", rel.Assets[0].Name)
	}
	if rel.Assets[0].DownloadURL != "https://example.com/dws-lsp_linux" {
		t.Errorf("first asset URL = %q", rel.Assets[0].DownloadURL)
	}
}

func TestFetchLatest_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusForbidden)
	}))
	defer srv.Close()

	f := NewFetcher("o", "r", WithBaseURL(srv.URL))
	_, err := f.FetchLatest(context.Background())

	var qerr *QueryError
	if !errors.As(err, &qerr) {
		t.Fatalf("expected *QueryError, got %T: %v", err, err)
	}
	if qerr.Status != http.StatusForbidden {
		t.Errorf("status = %d, want 403", qerr.Status)
	}
}

func TestFetchLatest_MalformedPayload(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "<html>nope</html>"},
		{"missing tag", `{"assets": []}`},
		{"assets not array", `{"tag_name": "v1", "assets": {}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			f := NewFetcher("o", "r", WithBaseURL(srv.URL))
			_, err := f.FetchLatest(context.Background())

			var qerr *QueryError
			if !errors.As(err, &qerr) {
				t.Fatalf("expected *QueryError, got %T: %v", err, err)
			}
		})
	}
}

func TestFetchLatest_Unreachable(t *testing.T) {
	f := NewFetcher("o", "r", WithBaseURL("http://127.0.0.1:1"))
	_, err := f.FetchLatest(context.Background())

	var qerr *QueryError
	if !errors.As(err, &qerr) {
		t.Fatalf("expected *QueryError, got %T: %v", err, err)
	}
}

func TestSelectAsset(t *testing.T) {
	rel := &Release{
		Tag: "v0.4.2",
		Assets: []Asset{
			{Name: "dws-lsp_linux", DownloadURL: "https://example.com/linux"},
			{Name: "dws-lsp_macos", DownloadURL: "https://example.com/macos"},
			{Name: "dws-lsp.exe", DownloadURL: "https://example.com/windows"},
		},
	}

	tests := []struct {
		id      platform.ID
		wantURL string
	}{
		{platform.Linux, "https://example.com/linux"},
		{platform.MacOS, "https://example.com/macos"},
		{platform.Windows, "https://example.com/windows"},
	}

	for _, tt := range tests {
		asset, err := SelectAsset(rel, platform.DefaultNaming, tt.id)
		if err != nil {
			t.Fatalf("SelectAsset(%v) error = %v", tt.id, err)
		}
		if asset.DownloadURL != tt.wantURL {
			t.Errorf("SelectAsset(%v) URL = %q, want %q", tt.id, asset.DownloadURL, tt.wantURL)
		}
	}
}

func TestSelectAsset_NotFound(t *testing.T) {
	rel := &Release{
		Tag:    "v0.4.2",
		Assets: []Asset{{Name: "dws-lsp.exe"}},
	}

	_, err := SelectAsset(rel, platform.DefaultNaming, platform.Linux)

	var nferr *AssetNotFoundError
	if !errors.As(err, &nferr) {
		t.Fatalf("expected *AssetNotFoundError, got %T: %v", err, err)
	}
	if nferr.Asset != "dws-lsp_linux" {
		t.Errorf("missing asset = %q, want dws-lsp_linux", nferr.Asset)
	}
}
