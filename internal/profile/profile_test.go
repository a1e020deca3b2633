package profile

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := Profile{
		SSID:           "homenet",
		WiFiPassword:   "correct-horse",
		ServerName:     "shack-1",
		ServerPassword: "hunter2",
	}
	buf, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip mismatch: in=%+v out=%+v", in, out)
	}
}

func TestDecodeRejectsTruncatedBlob(t *testing.T) {
	if _, err := Decode([]byte{5, 'h', 'i'}); err == nil {
		t.Fatalf("expected error for truncated blob")
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.json")
	content := `{"ssid":"net","wifi_password":"pw","server_name":"srv","server_password":"spw"}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	p, err := LoadJSON(path)
	if err != nil {
		t.Fatalf("LoadJSON: %v", err)
	}
	want := Profile{SSID: "net", WiFiPassword: "pw", ServerName: "srv", ServerPassword: "spw"}
	if p != want {
		t.Fatalf("got %+v, want %+v", p, want)
	}
}

func TestLoadJSONMissingFile(t *testing.T) {
	if _, err := LoadJSON(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
