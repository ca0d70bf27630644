// SPDX-License-Identifier: MPL-2.0

package updater

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/invowk/coreupdater/internal/feed"
	"github.com/invowk/coreupdater/pkg/manifest"
)

const testIV = "iv7"

// testFeed serves a feed layout from memory.
type testFeed struct {
	t   *testing.T
	srv *httptest.Server

	mu     sync.Mutex
	docs   map[string][]byte // path below /feed/
	names  []string
	hidden map[string]bool
	// unversioned publishes manifests only at {iv}/{name}.manifest.
	unversioned bool
}

func newTestFeed(t *testing.T) *testFeed {
	t.Helper()

	tf := &testFeed{t: t, docs: make(map[string][]byte), hidden: make(map[string]bool)}
	tf.srv = httptest.NewServer(http.HandlerFunc(tf.serve))
	t.Cleanup(tf.srv.Close)
	return tf
}

func (tf *testFeed) serve(w http.ResponseWriter, r *http.Request) {
	tf.mu.Lock()
	defer tf.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/feed/")
	if path == testIV+"/"+feed.IndexFile {
		var sb strings.Builder
		sb.WriteString("<packages>")
		for _, n := range tf.names {
			fmt.Fprintf(&sb, `<package name=%q hidden="%t"/>`, n, tf.hidden[n])
		}
		sb.WriteString("</packages>")
		_, _ = w.Write([]byte(sb.String()))
		return
	}
	data, ok := tf.docs[path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write(data)
}

func (tf *testFeed) client() *feed.Client {
	tf.t.Helper()

	c, err := feed.New(tf.srv.URL+"/feed", feed.WithRetry(0, time.Millisecond, time.Millisecond))
	if err != nil {
		tf.t.Fatalf("feed.New() error = %v", err)
	}
	return c
}

// publish makes m the latest version of its package, with an archive holding
// files, and returns the completed manifest.
func (tf *testFeed) publish(m *manifest.Manifest, files map[string]string) *manifest.Manifest {
	tf.t.Helper()

	m.InterfaceVersion = testIV
	archive := zipOf(tf.t, files)
	sum := sha256.Sum256(archive)
	m.ContentHash = manifest.Digest(sum[:])
	if m.Files == nil {
		m.Files = make(map[string]manifest.FileRecord)
	}
	for name, content := range files {
		fileSum := sha256.Sum256([]byte(content))
		m.Files[name] = manifest.FileRecord{Hash: manifest.Digest(fileSum[:])}
	}

	var doc bytes.Buffer
	if err := m.Encode(&doc); err != nil {
		tf.t.Fatalf("Encode(%s) error = %v", m, err)
	}

	tf.mu.Lock()
	defer tf.mu.Unlock()
	tf.docs[testIV+"/"+m.Name+manifest.FileExt] = doc.Bytes()
	if !tf.unversioned {
		tf.docs[testIV+"/"+m.Version+"/"+m.Name+manifest.FileExt] = doc.Bytes()
	}
	tf.docs[testIV+"/"+m.Version+"/"+m.Name+".zip"] = archive
	if !containsName(tf.names, m.Name) {
		tf.names = append(tf.names, m.Name)
		sort.Strings(tf.names)
	}
	return m
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func zipOf(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip Create() error = %v", err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("zip Write() error = %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip Close() error = %v", err)
	}
	return buf.Bytes()
}

// writeInstalled records m as installed without delivering any file.
func writeInstalled(t *testing.T, root string, m *manifest.Manifest) {
	t.Helper()

	if m.InterfaceVersion == "" {
		m.InterfaceVersion = testIV
	}
	dir := filepath.Join(root, "bin", "installed-packages")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := m.Serialize(filepath.Join(dir, m.Name+manifest.FileExt)); err != nil {
		t.Fatalf("Serialize(%s) error = %v", m, err)
	}
}
