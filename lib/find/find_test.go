package find

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/grandcat/zeroconf"
)

// fakeUSBTMC builds the sysfs layout the usbtmc driver creates for one
// device and links it from class/usbmisc.
func fakeUSBTMC(t *testing.T, root, bus, node string, info map[string]string) {
	t.Helper()
	dev := filepath.Join(root, "devices", "pci0000:00", "usb1", bus)
	intf := filepath.Join(dev, bus+":1.0")
	nodeDir := filepath.Join(intf, "usbmisc", node)
	if err := os.MkdirAll(nodeDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, val := range info {
		if err := os.WriteFile(filepath.Join(dev, name), []byte(val+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Symlink("../..", filepath.Join(nodeDir, "device")); err != nil {
		t.Fatal(err)
	}
	class := filepath.Join(root, "class", "usbmisc")
	if err := os.MkdirAll(class, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(nodeDir, filepath.Join(class, node)); err != nil {
		t.Fatal(err)
	}
}

func TestUSBTMC(t *testing.T) {
	root := t.TempDir()
	fakeUSBTMC(t, root, "1-2", "usbtmc0", map[string]string{
		"idVendor":     "0b5b",
		"idProduct":    "fff9",
		"manufacturer": "Anritsu",
		"product":      "MS2038C",
		"serial":       "2032023_1736_30",
	})
	fakeUSBTMC(t, root, "1-3", "usbtmc1", map[string]string{
		"idVendor":  "0699",
		"idProduct": "0353",
		"serial":    "1525069",
	})
	// unrelated usbmisc nodes are ignored
	if err := os.Symlink(root, filepath.Join(root, "class", "usbmisc", "hiddev0")); err != nil {
		t.Fatal(err)
	}

	devs, err := USBTMC(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(devs) != 2 {
		t.Fatalf("found %d devices, want 2:\n%s", len(devs), devs)
	}
	want := Device{
		Dev:    "/dev/usbtmc0",
		VID:    0x0b5b,
		PID:    0xfff9,
		Mfg:    "Anritsu",
		Prod:   "MS2038C",
		Serial: "2032023_1736_30",
	}
	got := devs[0]
	got.Path = ""
	if got != want {
		t.Errorf("got %+v\nwant %+v", got, want)
	}

	dev, err := FindUSBTMC(root, All(VIDPIDFilter(0x0699, 0x0353), SerialFilter("1525069")))
	if err != nil {
		t.Fatal(err)
	}
	if dev != "/dev/usbtmc1" {
		t.Errorf("dev = %s, want /dev/usbtmc1", dev)
	}

	if _, err := FindUSBTMC(root, nil); err == nil {
		t.Error("expected error for ambiguous match")
	}
	if _, err := FindUSBTMC(root, SerialFilter("MY53271615")); err == nil {
		t.Error("expected error for missing device")
	}
}

func TestUSBTMCNoClass(t *testing.T) {
	if _, err := USBTMC(t.TempDir()); err == nil {
		t.Error("expected error when class/usbmisc is absent")
	}
}

func TestParseID(t *testing.T) {
	testCases := []struct {
		in   string
		want uint16
	}{
		{"0957", 0x0957},
		{"0x0B5B", 0x0b5b},
		{"FFF9\n", 0xfff9},
		{"", 0},
		{"zz", 0},
		{"12345", 0},
	}
	for _, tc := range testCases {
		if got := parseID(tc.in); got != tc.want {
			t.Errorf("parseID(%q) = %#04x, want %#04x", tc.in, got, tc.want)
		}
	}
}

func TestLXIResource(t *testing.T) {
	e := zeroconf.NewServiceEntry("N5183B-MY53271615", ServiceSCPIRaw, "local.")
	e.HostName = "a-n5183b-71615.local."
	e.Port = 5025
	e.AddrIPv4 = []net.IP{net.IPv4(192, 168, 1, 40)}

	inst := fromEntry(e)
	if inst.Name != "N5183B-MY53271615" {
		t.Errorf("name = %q", inst.Name)
	}
	if got := inst.Resource(); got != "TCPIP0::192.168.1.40::5025::SOCKET" {
		t.Errorf("resource = %q", got)
	}

	inst.Addr = nil
	if got := inst.Resource(); got != "TCPIP0::a-n5183b-71615.local.::5025::SOCKET" {
		t.Errorf("resource = %q", got)
	}
}
