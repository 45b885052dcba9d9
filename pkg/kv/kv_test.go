package kv

import (
	"testing"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions("/tmp")

	if opts.Dir != "/tmp" {
		t.Errorf("Expected Dir '/tmp', got '%s'", opts.Dir)
	}

	if opts.SyncWrites != false {
		t.Error("Expected SyncWrites to be false by default")
	}

	if opts.Compression != true {
		t.Error("Expected Compression to be true by default")
	}

	if opts.MemoryMode != false {
		t.Error("Expected MemoryMode to be false by default")
	}
}

func openMemKV(t *testing.T) *KV {
	t.Helper()
	kv, err := Open(Options{MemoryMode: true})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { kv.Close() })
	return kv
}

func TestSetGetDelete(t *testing.T) {
	kv := openMemKV(t)

	if err := kv.Set("k1", "v1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	val, err := kv.Get("k1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if val != "v1" {
		t.Errorf("Expected 'v1', got '%s'", val)
	}

	if err := kv.Delete("k1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	exists, err := kv.Exists("k1")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("Key should not exist after delete")
	}
}

func TestBotUsernameCache(t *testing.T) {
	kv := openMemKV(t)

	if err := kv.SetBotUsername("telegram", "crew_bot"); err != nil {
		t.Fatalf("SetBotUsername failed: %v", err)
	}

	name, err := kv.GetBotUsername("telegram")
	if err != nil {
		t.Fatalf("GetBotUsername failed: %v", err)
	}
	if name != "crew_bot" {
		t.Errorf("Expected 'crew_bot', got '%s'", name)
	}
}

func TestUpdateSeen(t *testing.T) {
	kv := openMemKV(t)

	seen, err := kv.UpdateSeen("telegram", 42)
	if err != nil {
		t.Fatalf("UpdateSeen failed: %v", err)
	}
	if seen {
		t.Error("Update should not be seen yet")
	}

	if err := kv.MarkUpdateSeen("telegram", 42); err != nil {
		t.Fatalf("MarkUpdateSeen failed: %v", err)
	}

	seen, err = kv.UpdateSeen("telegram", 42)
	if err != nil {
		t.Fatalf("UpdateSeen failed: %v", err)
	}
	if !seen {
		t.Error("Update should be seen after mark")
	}
}

func TestTokenCache(t *testing.T) {
	kv := openMemKV(t)

	if err := kv.SetTokenCache("room-1", 1234); err != nil {
		t.Fatalf("SetTokenCache failed: %v", err)
	}

	tokens, err := kv.GetTokenCache("room-1")
	if err != nil {
		t.Fatalf("GetTokenCache failed: %v", err)
	}
	if tokens != 1234 {
		t.Errorf("Expected 1234, got %d", tokens)
	}
}

func TestIterateWithPrefix(t *testing.T) {
	kv := openMemKV(t)

	kv.Set("cache:a", "1")
	kv.Set("cache:b", "2")
	kv.Set("other:c", "3")

	count, err := kv.Count("cache:")
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 keys with prefix, got %d", count)
	}

	if err := kv.DeletePrefix("cache:"); err != nil {
		t.Fatalf("DeletePrefix failed: %v", err)
	}

	count, _ = kv.Count("cache:")
	if count != 0 {
		t.Errorf("Expected 0 keys after DeletePrefix, got %d", count)
	}
}

func TestClosedKV(t *testing.T) {
	kv, err := Open(Options{MemoryMode: true})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	kv.Close()

	if !kv.IsClosed() {
		t.Error("KV should report closed")
	}
	if err := kv.Set("k", "v"); err == nil {
		t.Error("Set on closed KV should fail")
	}
}
