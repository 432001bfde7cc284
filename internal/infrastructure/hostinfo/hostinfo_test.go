package hostinfo

import (
	"strings"
	"testing"
)

func TestDeviceIDStable(t *testing.T) {
	a := DeviceID("machine-one")
	b := DeviceID("machine-one")
	if a != b {
		t.Errorf("same machine id produced %q and %q", a, b)
	}
	if a == DeviceID("machine-two") {
		t.Error("different machine ids produced the same device id")
	}
}

func TestDeviceIDFormat(t *testing.T) {
	id := DeviceID("some-machine")
	if !strings.HasPrefix(id, DeviceIDPrefix) {
		t.Errorf("id %q missing prefix %q", id, DeviceIDPrefix)
	}
	suffix := strings.TrimPrefix(id, DeviceIDPrefix)
	if len(suffix) != 16 {
		t.Errorf("suffix length = %d, want 16", len(suffix))
	}
	for _, c := range suffix {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Errorf("suffix %q contains non-hex rune %q", suffix, c)
		}
	}
}

func TestMachineIDNonEmpty(t *testing.T) {
	if MachineID() == "" {
		t.Error("machine id should never be empty")
	}
}

func TestCollectMap(t *testing.T) {
	f := Collect()
	if f.Platform == "" || f.Arch == "" {
		t.Fatalf("platform/arch missing: %+v", f)
	}
	m := f.Map()
	if m["platform"] != f.Platform {
		t.Errorf("platform = %v", m["platform"])
	}
	if f.LocalIP == "" {
		if _, ok := m["localIp"]; ok {
			t.Error("empty localIp should be omitted")
		}
	}
}

func TestDisplayName(t *testing.T) {
	if DisplayName() == "" {
		t.Error("display name should never be empty")
	}
}
