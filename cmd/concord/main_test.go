package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInitCommandCreatesSecret(t *testing.T) {
	tmp := t.TempDir()
	secretPath := filepath.Join(tmp, "concord.secret")

	cmd := initCmd()
	cmd.SetArgs([]string{"--secret-file", secretPath})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute init-secret: %v", err)
	}

	data, err := os.ReadFile(secretPath)
	if err != nil {
		t.Fatalf("read secret file: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected non-empty secret")
	}

	// Running again must keep the existing secret.
	cmd = initCmd()
	cmd.SetArgs([]string{"--secret-file", secretPath})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("re-execute init-secret: %v", err)
	}
	again, err := os.ReadFile(secretPath)
	if err != nil {
		t.Fatalf("re-read secret file: %v", err)
	}
	if string(again) != string(data) {
		t.Fatalf("secret changed on second init")
	}
}
