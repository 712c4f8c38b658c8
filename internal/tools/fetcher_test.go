package tools

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFetcherRejectsForbiddenTargets(t *testing.T) {
	f := NewFetcher()
	cases := []string{
		"ftp://example.com/file",
		"file:///etc/passwd",
		"http:///nohost",
		"http://127.0.0.1:8080/admin",
		"http://10.1.2.3/",
		"http://172.16.0.1/",
		"http://172.31.255.255/",
		"http://192.168.1.1/router",
		"http://169.254.169.254/latest/meta-data/",
		"http://0.0.0.0/",
		"http://0.255.1.1/",
		"http://[::1]/",
		"http://[fc00::1]/",
		"http://[fe80::1]/",
	}
	for _, raw := range cases {
		if _, err := f.Get(context.Background(), raw); err == nil {
			t.Errorf("Get(%q) succeeded, want refusal", raw)
		}
	}
}

func TestIsForbiddenIP(t *testing.T) {
	forbidden := []string{"127.0.0.1", "10.0.0.1", "172.20.4.2", "192.168.0.9", "169.254.1.1", "0.0.0.0", "0.1.2.3", "::1", "fc00::1", "fd12::1", "fe80::5", "::"}
	for _, s := range forbidden {
		if !isForbiddenIP(net.ParseIP(s)) {
			t.Errorf("isForbiddenIP(%s) = false, want true", s)
		}
	}
	allowed := []string{"93.184.216.34", "8.8.8.8", "172.15.0.1", "172.32.0.1", "2606:2800:220:1::1"}
	for _, s := range allowed {
		if isForbiddenIP(net.ParseIP(s)) {
			t.Errorf("isForbiddenIP(%s) = true, want false", s)
		}
	}
}

func TestFetcherReadsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("hello fetcher"))
	}))
	defer srv.Close()

	f := NewFetcher(WithPrivateAddresses())
	res, err := f.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(res.Body) != "hello fetcher" {
		t.Errorf("body = %q", res.Body)
	}
	if res.Status != 200 || !strings.Contains(res.ContentType, "text/plain") {
		t.Errorf("status=%d contentType=%q", res.Status, res.ContentType)
	}
}

func TestFetcherEnforcesSizeCap(t *testing.T) {
	big := strings.Repeat("a", fetchMaxBytes+1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(big))
	}))
	defer srv.Close()

	f := NewFetcher(WithPrivateAddresses())
	if _, err := f.Get(context.Background(), srv.URL); err == nil || !strings.Contains(err.Error(), "exceeds") {
		t.Fatalf("err = %v, want size cap error", err)
	}
}

func TestFetcherFollowsRedirectWithinLimit(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a":
			http.Redirect(w, r, srv.URL+"/b", http.StatusFound)
		case "/b":
			w.Write([]byte("landed"))
		case "/loop":
			http.Redirect(w, r, srv.URL+"/loop", http.StatusFound)
		}
	}))
	defer srv.Close()

	f := NewFetcher(WithPrivateAddresses())
	res, err := f.Get(context.Background(), srv.URL+"/a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(res.Body) != "landed" {
		t.Errorf("body = %q", res.Body)
	}
	if !strings.HasSuffix(res.FinalURL, "/b") {
		t.Errorf("finalURL = %q, want /b", res.FinalURL)
	}

	if _, err := f.Get(context.Background(), srv.URL+"/loop"); err == nil {
		t.Error("redirect loop not stopped")
	}
}
