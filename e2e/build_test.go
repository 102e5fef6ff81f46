//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"deploybuild/internal/api"
	"deploybuild/internal/app"
	"deploybuild/internal/build"
	"deploybuild/internal/health"
	"deploybuild/internal/notify"
	"deploybuild/internal/runner"
	"deploybuild/internal/testutil"
	"deploybuild/pkg/cloudevent"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

const templateMakefile = `k8s_build:
	mkdir -p kubernetes/build/$(REGION)-$(ENV_NAME)-$(CLUSTER_NAME)
	echo "dt: $(DT)" > kubernetes/build/$(REGION)-$(ENV_NAME)-$(CLUSTER_NAME)/manifest.yaml
	@echo rendered $(DT)
`

const brokenMakefile = `k8s_build:
	@echo "template error: missing value" >&2; exit 2
`

const helmMakefile = `k8s_helm_build:
	mkdir -p ../build/$(REGION)-$(ENV_NAME)-$(CLUSTER_NAME)
	echo "{}" > ../build/$(REGION)-$(ENV_NAME)-$(CLUSTER_NAME)/values.schema.json
	echo "kind: Deployment" > ../build/$(REGION)-$(ENV_NAME)-$(CLUSTER_NAME)/deployment.yaml
`

func writeFile(t *testing.T, path, content string, perm os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		t.Fatal(err)
	}
}

// newCheckout lays out a small all-the-things tree with real Makefiles.
func newCheckout(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	envs := func(dt string, targets ...string) {
		for _, tgt := range targets {
			if err := os.MkdirAll(filepath.Join(root, "deployable", dt, "kubernetes/resources/envs", tgt), 0o755); err != nil {
				t.Fatal(err)
			}
		}
	}

	envs("svc-a", "eu-north-1/prod/sandbox", "ap-south-1/dev/main")
	writeFile(t, filepath.Join(root, "deployable/svc-a/Makefile"), templateMakefile, 0o644)
	writeFile(t, filepath.Join(root, "deployable/svc-a/kubernetes/helm/Makefile"), helmMakefile, 0o644)

	envs("svc-broken", "eu-north-1/prod/sandbox")
	writeFile(t, filepath.Join(root, "deployable/svc-broken/Makefile"), brokenMakefile, 0o644)
	return root
}

// fakeHelm puts a no-op helm binary first on PATH.
func fakeHelm(t *testing.T) {
	t.Helper()
	bin := t.TempDir()
	writeFile(t, filepath.Join(bin, "helm"), "#!/bin/sh\necho \"helm $*\"\n", 0o755)
	t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func newServer(t *testing.T, root string) *httptest.Server {
	t.Helper()
	if _, err := exec.LookPath("make"); err != nil {
		t.Skip("make not installed")
	}

	notifier := notify.NewMemory(notify.Config{BufferSize: 10, Workers: 1}, nil)
	engine, err := app.New(context.Background(), app.Options{
		Root:     root,
		Runner:   runner.Config{Kind: runner.KindExec},
		Build:    build.Config{Timeout: time.Minute},
		Notifier: notifier,
	})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}

	server := httptest.NewServer(api.NewRouter(api.RouterConfig{
		BuildService:  engine.Service,
		HealthChecker: health.NewChecker(engine.Checks),
		Info:          api.ServerInfo{Name: "e2e", Root: root},
	}))
	t.Cleanup(func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = engine.Close(ctx)
		_ = notifier.Close(ctx)
	})
	return server
}

func post(t *testing.T, url string, body any) build.Summary {
	t.Helper()
	data, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, msg)
	}
	var s build.Summary
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestTemplateBuild(t *testing.T) {
	root := newCheckout(t)
	server := newServer(t, root)

	var received atomic.Int64
	var verified atomic.Bool
	callback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		verified.Store(cloudevent.Verify(body, "e2e-key", r.Header.Get(cloudevent.SignatureHeader)))
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer callback.Close()

	s := post(t, server.URL+"/v1/builds/deployables", map[string]any{
		"dt_list":        []string{"svc-a", "svc-broken", "svc-missing"},
		"max_concurrent": 2,
		"callback":       map[string]string{"url": callback.URL, "key": "e2e-key"},
	})

	if s.SuccessCount != 2 || s.FailureCount != 2 || len(s.BuildDetails) != 4 {
		t.Fatalf("unexpected summary %+v", s)
	}
	for _, d := range s.BuildDetails[:2] {
		manifest := filepath.Join(d.BuildDir, "manifest.yaml")
		if _, err := os.Stat(manifest); err != nil {
			t.Errorf("expected %s: %v", manifest, err)
		}
	}
	if d := s.BuildDetails[2]; d.Kind != build.KindBackendFault || !bytes.Contains([]byte(d.Error), []byte("template error")) {
		t.Errorf("expected stderr in failure, got %+v", d)
	}
	if d := s.BuildDetails[3]; d.Kind != build.KindUnknownDeployable {
		t.Errorf("expected UnknownDeployable, got %+v", d)
	}

	testutil.MustWaitForCount(t, &received, 1, testutil.WithTimeout(10*time.Second))
	if !verified.Load() {
		t.Error("callback signature did not verify")
	}
}

func TestHelmBuild(t *testing.T) {
	fakeHelm(t)
	root := newCheckout(t)
	server := newServer(t, root)

	tests := []struct {
		cluster  string
		wantKind build.ErrorKind
	}{
		{"sandbox", ""},
		{"nonexistent", build.KindInvalidTarget},
	}
	for _, tt := range tests {
		t.Run(tt.cluster, func(t *testing.T) {
			s := post(t, server.URL+"/v1/builds/helm", map[string]any{
				"dt_list":      []string{"svc-a"},
				"region":       "eu-north-1",
				"env_name":     "prod",
				"cluster_name": tt.cluster,
			})
			d := s.BuildDetails[0]
			if d.Kind != tt.wantKind {
				t.Fatalf("expected kind %q, got %+v", tt.wantKind, d)
			}
			if tt.wantKind == "" && fmt.Sprint(d.SchemaFiles) != "[values.schema.json]" {
				t.Errorf("unexpected schema files %v", d.SchemaFiles)
			}
		})
	}
}

func TestReadiness(t *testing.T) {
	fakeHelm(t)
	server := newServer(t, newCheckout(t))

	resp, err := http.Get(server.URL + "/readyz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Errorf("expected ready, got %d: %s", resp.StatusCode, body)
	}
}
