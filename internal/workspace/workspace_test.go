package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/smallnest/maizone/config"
)

func TestReadFileRejectsPathTraversal(t *testing.T) {
	root := t.TempDir()
	dataDir := filepath.Join(root, "data")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		t.Fatalf("failed to create data dir: %v", err)
	}

	secretPath := filepath.Join(root, "secret.txt")
	if err := os.WriteFile(secretPath, []byte("top-secret"), 0644); err != nil {
		t.Fatalf("failed to create secret file: %v", err)
	}

	mgr := NewManager(dataDir)
	content, err := mgr.ReadFile("../secret.txt")
	if err != nil {
		t.Fatalf("expected traversal to be blocked without fs error, got: %v", err)
	}
	if content != "" {
		t.Fatalf("expected traversal read to be blocked, got content: %q", content)
	}
	for _, name := range []string{secretPath, "", ".", "a/../../secret.txt"} {
		if content, err := mgr.ReadFile(name); err != nil || content != "" {
			t.Fatalf("ReadFile(%q) = %q, %v; want blocked", name, content, err)
		}
	}
}

func TestEnsureCreatesLayout(t *testing.T) {
	root := t.TempDir()
	cfg := &config.Config{
		Session: config.SessionConfig{
			Dir:    filepath.Join(root, "cookies"),
			QRCode: config.QRCodeConfig{Output: filepath.Join(root, "qr", "qrcode.png")},
		},
		Image: config.ImageConfig{Dir: filepath.Join(root, "images")},
		Store: config.StoreConfig{Path: filepath.Join(root, "db", "seen.db")},
	}

	mgr := NewManager(root)
	if err := mgr.Ensure(cfg); err != nil {
		t.Fatalf("Ensure() failed: %v", err)
	}
	for _, dir := range []string{"cookies", "images", filepath.Join("images", "emoji"), "db", "qr"} {
		info, err := os.Stat(filepath.Join(root, dir))
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s: %v", dir, err)
		}
	}
	if _, err := os.Stat(filepath.Join(root, "README.md")); err != nil {
		t.Fatalf("README.md should be written: %v", err)
	}
}

func TestEnsureKeepsExistingFiles(t *testing.T) {
	root := t.TempDir()
	readme := filepath.Join(root, "README.md")
	if err := os.WriteFile(readme, []byte("mine"), 0644); err != nil {
		t.Fatalf("write README: %v", err)
	}

	if err := NewManager(root).Ensure(nil); err != nil {
		t.Fatalf("Ensure() failed: %v", err)
	}
	data, err := os.ReadFile(readme)
	if err != nil || string(data) != "mine" {
		t.Fatalf("existing README must not be overwritten, got %q, %v", data, err)
	}
}

func TestPersona(t *testing.T) {
	root := t.TempDir()
	mgr := NewManager(root)

	if p, err := mgr.Persona(); err != nil || p != "" {
		t.Fatalf("Persona() without file = %q, %v", p, err)
	}

	content := "# 人设\n\n一个喜欢拍晚霞的大学生\n说话带点东北口音\n"
	if err := os.WriteFile(filepath.Join(root, PersonaFile), []byte(content), 0644); err != nil {
		t.Fatalf("write persona: %v", err)
	}
	p, err := mgr.Persona()
	if err != nil {
		t.Fatalf("Persona() failed: %v", err)
	}
	if p != "一个喜欢拍晚霞的大学生\n说话带点东北口音" {
		t.Fatalf("Persona() = %q", p)
	}
}
