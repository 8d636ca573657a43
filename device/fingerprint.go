// Package device derives a stable, non-portable fingerprint of the
// running machine. The fingerprint is not secret, but it is
// security-relevant: it feeds master key derivation and the AAD of
// every sealed record when device binding is enabled. It is recomputed
// on demand and never persisted in raw form.
package device

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/host"
	gopsnet "github.com/shirou/gopsutil/net"
	"golang.org/x/crypto/blake2b"
)

// FingerprintLength is the length of fingerprint bytes.
const FingerprintLength = 32

// ErrUnbound indicates no stable hardware identifiers are available on
// this host. Callers must fall back to unbound operation only when the
// session policy explicitly allows it, never silently.
var ErrUnbound = errors.New("device: no stable hardware identifiers available")

const fingerprintLabel = "bastion:fingerprint:v1"

// Fingerprint is the hashed device identity. Source names the
// identifier classes that produced it, for diagnostics only.
type Fingerprint struct {
	Bytes  []byte
	Source string
}

// Oracle computes device fingerprints. The zero value is not usable;
// construct with NewOracle.
type Oracle struct {
	anchored func() ([]byte, error)
	hostID   func() (string, error)
	cpuModel func() (string, error)
	macs     func() ([]string, error)
}

// OracleOption configures an Oracle.
type OracleOption func(*Oracle)

// WithAnchoredIdentifier supplies a secure-element-backed identifier
// (TPM, SEP, ...). When it resolves, it is preferred over the
// concatenate-and-hash fallback chain.
func WithAnchoredIdentifier(fn func() ([]byte, error)) OracleOption {
	return func(o *Oracle) {
		o.anchored = fn
	}
}

// NewOracle returns an Oracle backed by the host's hardware identifiers.
func NewOracle(opts ...OracleOption) *Oracle {
	o := &Oracle{
		hostID:   readHostID,
		cpuModel: readCPUModel,
		macs:     readMACs,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Fingerprint computes the device fingerprint. It prefers an anchored
// identifier when one is configured and resolves; otherwise it hashes
// the available hardware identifiers, requiring at least two distinct
// classes to resolve. With fewer it returns ErrUnbound.
func (o *Oracle) Fingerprint() (Fingerprint, error) {
	if o.anchored != nil {
		if id, err := o.anchored(); err == nil && len(id) > 0 {
			return Fingerprint{
				Bytes:  hashParts("anchored", id),
				Source: "anchored",
			}, nil
		}
	}

	var (
		parts   [][]byte
		classes []string
	)

	if id, err := o.hostID(); err == nil && id != "" {
		parts = append(parts, []byte("host:"+strings.ToLower(id)))
		classes = append(classes, "host")
	}
	if model, err := o.cpuModel(); err == nil && model != "" {
		parts = append(parts, []byte("cpu:"+model))
		classes = append(classes, "cpu")
	}
	if macs, err := o.macs(); err == nil && len(macs) > 0 {
		sort.Strings(macs)
		parts = append(parts, []byte("mac:"+strings.Join(macs, ",")))
		classes = append(classes, "mac")
	}

	if len(classes) < 2 {
		return Fingerprint{}, ErrUnbound
	}

	return Fingerprint{
		Bytes:  hashParts("hardware", parts...),
		Source: strings.Join(classes, "+"),
	}, nil
}

func hashParts(kind string, parts ...[]byte) []byte {
	h, _ := blake2b.New256(nil)
	writePart(h, []byte(fingerprintLabel))
	writePart(h, []byte(kind))
	for _, p := range parts {
		writePart(h, p)
	}
	return h.Sum(nil)
}

func writePart(h interface{ Write([]byte) (int, error) }, p []byte) {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(p)))
	_, _ = h.Write(l[:])
	_, _ = h.Write(p)
}

func readHostID() (string, error) {
	info, err := host.Info()
	if err != nil {
		return "", fmt.Errorf("reading host info: %w", err)
	}
	return info.HostID, nil
}

func readCPUModel() (string, error) {
	infos, err := cpu.Info()
	if err != nil {
		return "", fmt.Errorf("reading cpu info: %w", err)
	}
	if len(infos) == 0 {
		return "", nil
	}
	return infos[0].ModelName, nil
}

// readMACs returns the hardware addresses of non-loopback interfaces.
// Virtual interfaces come and go; the sorted set keeps the hash stable
// as long as at least the physical NICs persist.
func readMACs() ([]string, error) {
	ifaces, err := gopsnet.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("reading interfaces: %w", err)
	}
	var macs []string
	for _, iface := range ifaces {
		if iface.HardwareAddr == "" {
			continue
		}
		loopback := false
		for _, f := range iface.Flags {
			if f == "loopback" {
				loopback = true
				break
			}
		}
		if !loopback {
			macs = append(macs, strings.ToLower(iface.HardwareAddr))
		}
	}
	return macs, nil
}
