package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadWithoutConfigFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ConfigFileUsed() != "" {
		t.Fatalf("expected no config file to be found, got %q", cfg.ConfigFileUsed())
	}
	if cfg.SyncBatchSize() != 500 {
		t.Fatalf("SyncBatchSize() = %d, want default 500", cfg.SyncBatchSize())
	}
	store := cfg.ObjectStore()
	if store.Region != "us-east-1" {
		t.Fatalf("ObjectStore().Region = %q, want default us-east-1", store.Region)
	}
}

func TestLoadReadsProjectConfigFile(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(root, ".datagov"), 0o755); err != nil {
		t.Fatalf("mkdir .datagov: %v", err)
	}
	yaml := "device_id: laptop-1\nsync:\n  batch_size: 42\nobject_store:\n  bucket: my-bucket\n  region: eu-west-1\n"
	if err := os.WriteFile(filepath.Join(root, ".datagov", "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	// Load from a nested subdirectory; the search must walk upward to find
	// the project root's config file.
	cfg, err := Load(sub)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ConfigFileUsed() == "" {
		t.Fatal("expected the project config file to be found")
	}
	if got := cfg.DeviceID(""); got != "laptop-1" {
		t.Fatalf("DeviceID() = %q, want laptop-1", got)
	}
	if cfg.SyncBatchSize() != 42 {
		t.Fatalf("SyncBatchSize() = %d, want 42", cfg.SyncBatchSize())
	}
	store := cfg.ObjectStore()
	if store.Bucket != "my-bucket" || store.Region != "eu-west-1" {
		t.Fatalf("unexpected object store config: %+v", store)
	}
}

func TestDeviceIDOverrideTakesPrecedence(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.DeviceID("explicit-override"); got != "explicit-override" {
		t.Fatalf("DeviceID(override) = %q, want explicit-override", got)
	}
}

type fakeCodec struct{}

func (fakeCodec) EncryptAPIKey(plaintext string) (string, error) {
	return "enc:" + plaintext, nil
}

func (fakeCodec) DecryptAPIKey(ciphertextJSON string) (string, error) {
	return ciphertextJSON[len("enc:"):], nil
}

func (fakeCodec) IsEncryptedFormat(s string) bool {
	return len(s) > 4 && s[:4] == "enc:"
}

func TestObjectStoreDecryptsSecretKeyThroughCodec(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATAGOV_OBJECT_STORE_SECRET_ACCESS_KEY", "enc:real-secret")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Without a codec the stored value passes through untouched.
	if got := cfg.ObjectStore().SecretAccessKey; got != "enc:real-secret" {
		t.Fatalf("SecretAccessKey without codec = %q, want stored value", got)
	}

	cfg.SetSecretsCodec(fakeCodec{})
	if got := cfg.ObjectStore().SecretAccessKey; got != "real-secret" {
		t.Fatalf("SecretAccessKey with codec = %q, want real-secret", got)
	}
}

func TestDeviceIDEnvVarOverridesConfigFile(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".datagov"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	yaml := "device_id: from-file\n"
	if err := os.WriteFile(filepath.Join(root, ".datagov", "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("DATAGOV_DEVICE_ID", "from-env")

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.DeviceID(""); got != "from-env" {
		t.Fatalf("DeviceID() = %q, want from-env (env var should win over config file)", got)
	}
}
