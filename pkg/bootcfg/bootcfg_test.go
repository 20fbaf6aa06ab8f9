package bootcfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Memory.PhysicalPages != 4096 {
		t.Fatalf("Memory.PhysicalPages = %d, want 4096", cfg.Memory.PhysicalPages)
	}
	if cfg.UHCI.IOBase != 0xC000 {
		t.Fatalf("UHCI.IOBase = %#x, want 0xC000", cfg.UHCI.IOBase)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "boot.toml")
	body := `
[memory]
physical_pages = 8192

[uhci]
io_base = 0xD000
irq = 5

[[device]]
name = "root-hub"
class = "usb-hub"
address = 0
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Memory.PhysicalPages != 8192 {
		t.Fatalf("Memory.PhysicalPages = %d, want 8192", cfg.Memory.PhysicalPages)
	}
	if cfg.UHCI.IOBase != 0xD000 || cfg.UHCI.IRQ != 5 {
		t.Fatalf("UHCI = %+v, want IOBase 0xD000, IRQ 5", cfg.UHCI)
	}
	// Scheduler wasn't set in the file. TOML decodes into the struct in
	// place and BurntSushi/toml leaves fields absent from the document
	// untouched, so the value from Default() survives the decode.
	if cfg.Scheduler.QuantumTicks != 10 {
		t.Fatalf("Scheduler.QuantumTicks = %d, want 10 (default preserved)", cfg.Scheduler.QuantumTicks)
	}
	wantDevices := []DeviceConfig{{Name: "root-hub", Class: "usb-hub", Address: 0}}
	if diff := cmp.Diff(wantDevices, cfg.Devices); diff != "" {
		t.Fatalf("Devices mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load("/nonexistent/boot.toml"); err == nil {
		t.Fatal("expected an error loading a nonexistent config file")
	}
}
