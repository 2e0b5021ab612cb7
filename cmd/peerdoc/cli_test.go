package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"pkt.systems/peerdoc"
	"pkt.systems/pslog"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PEERDOC_CLIENT_ADMIN_KEY", "")
	var out bytes.Buffer
	root := NewRootCommand(peerdoc.NewLoader())
	logger := pslog.NewWithOptions(io.Discard, pslog.Options{Mode: pslog.ModeStructured, NoColor: true})
	root.SetContext(pslog.ContextWithLogger(context.Background(), logger))
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestBootstrapCommandPrintsAdminKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	out, err := runCLI(t, "bootstrap", "--path", path)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if !strings.Contains(out, "config: "+path) || !strings.Contains(out, "admin_key: ") {
		t.Fatalf("output = %q, want config path and admin key", out)
	}
}

func TestStatusCommandPrintsJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(peerdoc.ServerStatus{Status: "ok", Rooms: 2, Peers: 5})
	}))
	defer srv.Close()

	out, err := runCLI(t, "status", "--endpoint", srv.URL)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "\"rooms\":2") || !strings.Contains(out, "\"peers\":5") {
		t.Fatalf("output = %q, want rooms and peers", out)
	}
}

func TestLinkCommandsRequireAdminKey(t *testing.T) {
	_, err := runCLI(t, "link", "inspect", "some-token", "--endpoint", "http://127.0.0.1:1")
	if err == nil || !strings.Contains(err.Error(), "admin key is required") {
		t.Fatalf("err = %v, want admin key error", err)
	}
}
