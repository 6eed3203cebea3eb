package presence

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLocalLeaseFileInitialRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dhcp.leases")
	content := "1756200000 aa:bb:cc:dd:ee:ff 192.168.1.100 phone *\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing lease file: %v", err)
	}

	source, err := NewLocalLeaseFile(path, nil)
	if err != nil {
		t.Fatalf("NewLocalLeaseFile() error = %v", err)
	}
	t.Cleanup(func() { source.Close() })

	leases, err := source.Leases(context.Background())
	if err != nil {
		t.Fatalf("Leases() error = %v", err)
	}
	if leases["AA:BB:CC:DD:EE:FF"].Hostname != "phone" {
		t.Errorf("leases = %+v", leases)
	}
}

func TestLocalLeaseFileReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dhcp.leases")
	if err := os.WriteFile(path, []byte(""), 0o644); err != nil {
		t.Fatalf("writing lease file: %v", err)
	}

	source, err := NewLocalLeaseFile(path, nil)
	if err != nil {
		t.Fatalf("NewLocalLeaseFile() error = %v", err)
	}
	t.Cleanup(func() { source.Close() })

	content := "1756200000 aa:bb:cc:dd:ee:ff 192.168.1.100 phone *\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("rewriting lease file: %v", err)
	}

	// The watcher delivers asynchronously; poll briefly.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		leases, err := source.Leases(context.Background())
		if err != nil {
			t.Fatalf("Leases() error = %v", err)
		}
		if len(leases) == 1 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("lease table not reloaded after file change")
}

func TestLocalLeaseFileMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dhcp.leases")

	// Missing file is tolerated; the table starts empty.
	source, err := NewLocalLeaseFile(path, nil)
	if err != nil {
		t.Fatalf("NewLocalLeaseFile() error = %v", err)
	}
	t.Cleanup(func() { source.Close() })

	leases, err := source.Leases(context.Background())
	if err != nil {
		t.Fatalf("Leases() error = %v", err)
	}
	if len(leases) != 0 {
		t.Errorf("got %d leases, want 0", len(leases))
	}
}
