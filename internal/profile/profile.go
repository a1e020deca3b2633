// Package profile defines the persisted configuration a device carries
// between reboots: WiFi credentials plus the server name/password needed to
// rendezvous and authenticate. The core never writes this to flash itself
// (persistent storage is an external collaborator per spec.md), but it
// owns the exact byte layout a collaborator must use so different
// firmware/desktop builds stay interoperable, ported from the reference
// NVS blob format.
package profile

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// Profile is the full set of fields the NVS blob carries.
type Profile struct {
	SSID           string `json:"ssid"`
	WiFiPassword   string `json:"wifi_password"`
	ServerName     string `json:"server_name"`
	ServerPassword string `json:"server_password"`
}

var errTruncated = errors.New("profile: truncated NVS blob")

// Encode serializes a Profile as a sequence of [u8 length][bytes] fields in
// the order SSID, WiFiPassword, ServerName, ServerPassword. Every field
// must be at most 255 bytes.
func Encode(p Profile) ([]byte, error) {
	fields := []string{p.SSID, p.WiFiPassword, p.ServerName, p.ServerPassword}
	var out []byte
	for _, f := range fields {
		if len(f) > 255 {
			return nil, errors.Errorf("profile: field too long (%d bytes)", len(f))
		}
		out = append(out, byte(len(f)))
		out = append(out, f...)
	}
	return out, nil
}

// Decode parses a Profile from its NVS blob encoding.
func Decode(buf []byte) (Profile, error) {
	fields := make([]string, 4)
	for i := range fields {
		if len(buf) < 1 {
			return Profile{}, errTruncated
		}
		n := int(buf[0])
		buf = buf[1:]
		if len(buf) < n {
			return Profile{}, errTruncated
		}
		fields[i] = string(buf[:n])
		buf = buf[n:]
	}
	return Profile{
		SSID:           fields[0],
		WiFiPassword:   fields[1],
		ServerName:     fields[2],
		ServerPassword: fields[3],
	}, nil
}

// LoadJSON reads a Profile from a JSON file, the form the desktop
// wk2client/wk2server binaries use so the transport is runnable without a
// provisioning UI.
func LoadJSON(path string) (Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return Profile{}, errors.Wrap(err, "profile: open")
	}
	defer f.Close()

	var p Profile
	if err := json.NewDecoder(f).Decode(&p); err != nil {
		return Profile{}, errors.Wrap(err, "profile: decode")
	}
	return p, nil
}
