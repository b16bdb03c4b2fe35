package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriteCreatesDatedFile(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "engine.log")
	w, err := NewRotatingWriter(base, 1<<20, 0)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer w.Close()

	if _, err := w.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	today := time.Now().UTC().Format("20060102")
	dated := filepath.Join(dir, "engine-"+today+".log")
	data, err := os.ReadFile(dated)
	if err != nil {
		t.Fatalf("read dated file: %v", err)
	}
	if string(data) != "hello\n" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestSizeRollover(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "engine.log")
	w, err := NewRotatingWriter(base, 32, 0)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer w.Close()

	for i := 0; i < 6; i++ {
		if _, err := w.Write([]byte(fmt.Sprintf("line %d padding padding\n", i))); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	var rolled int
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "engine-") && strings.HasSuffix(e.Name(), ".log") {
			rolled++
		}
	}
	if rolled < 2 {
		t.Fatalf("expected size rollover to produce multiple files, got %d", rolled)
	}
}

func TestDashDiscardsOutput(t *testing.T) {
	w, err := NewRotatingWriter("-", 0, 0)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	if _, err := w.Write([]byte("ignored")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
