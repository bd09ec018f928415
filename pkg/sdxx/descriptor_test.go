package sdxx_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/gregLibert/sd-card/pkg/sdsim"
	"github.com/gregLibert/sd-card/pkg/sdxx"
	"github.com/gregLibert/sd-card/pkg/tlv"
	"periph.io/x/conn/v3/physic"
)

func TestDescriptorRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		profile sdsim.Profile
	}{
		{"SDHC", sdsim.SDHC()},
		{"SDXC", sdsim.SDXC()},
		{"SDSC", sdsim.SDSC()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card, sim := newSession(t, tt.profile)

			data, err := card.Descriptor()
			if err != nil {
				t.Fatalf("Descriptor failed: %v", err)
			}
			if data[0] != 0xE1 {
				t.Errorf("descriptor starts with %02X, want E1", data[0])
			}

			got, err := sdxx.ParseDescriptor(data)
			if err != nil {
				t.Fatalf("ParseDescriptor failed: %v", err)
			}

			want := &sdxx.Descriptor{
				Type:      card.Type,
				Capacity:  card.Capacity,
				BlockSize: 512,
				RCA:       tt.profile.RCA,
				BusWidth:  sdxx.Width4,
				Frequency: 24 * physic.MegaHertz,
				CID:       sim.Profile.CIDRegister(),
				CSD:       sim.Profile.CSDRegister(),
				SCR:       sim.Profile.SCRBytes(),
			}
			if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(sdxx.Descriptor{}, "Raw")); diff != "" {
				t.Errorf("descriptor mismatch (-want +got):\n%s", diff)
			}
			if !got.SCRInfo().SupportsWideBus() {
				t.Error("SCRInfo() lost the bus widths")
			}
		})
	}
}

func TestDescriptorBeforeInit(t *testing.T) {
	card := sdxx.New(sdsim.New(sdsim.SDHC()), nil)
	if _, err := card.Descriptor(); !errors.Is(err, sdxx.ErrFailed) {
		t.Errorf("Descriptor() error = %v, want ERROR", err)
	}
}

func TestParseDescriptorErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr string
	}{
		{
			name:    "Not a template",
			data:    tlv.Hex("DF01 01 01"),
			wantErr: "mandatory tag 'E1' not found",
		},
		{
			name:    "Missing capacity",
			data:    tlv.Hex("E1 04", "DF01 01 01"),
			wantErr: "mandatory tag 'DF02' not found",
		},
		{
			name:    "Short RCA",
			data:    tlv.Hex("E1 1A", "DF01 01 01", "DF02 08 0000000077400000", "DF03 04 00000200", "DF04 01 B3"),
			wantErr: "tag 'DF04': want 2 bytes, got 1",
		},
		{
			name: "Short CID",
			data: tlv.Hex("E1 3C",
				"DF01 01 01",
				"DF02 08 0000000077400000",
				"DF03 04 00000200",
				"DF04 02 B368",
				"DF05 01 04",
				"DF06 08 0000000000000000",
				"DF07 0F 000102030405060708090A0B0C0D0E",
			),
			wantErr: "tag 'DF07': want 16 bytes, got 15",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sdxx.ParseDescriptor(tt.data)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("ParseDescriptor() error = %v, want it to contain %q", err, tt.wantErr)
			}
			if !errors.Is(err, sdxx.ErrInvalidArgument) {
				t.Errorf("ParseDescriptor() error = %v, want INVALID_ARGUMENT", err)
			}
		})
	}
}

func TestDescriptorDescribe(t *testing.T) {
	card, sim := newSession(t, sdsim.SDHC())
	data, err := card.Descriptor()
	if err != nil {
		t.Fatalf("Descriptor failed: %v", err)
	}
	d, err := sdxx.ParseDescriptor(data)
	if err != nil {
		t.Fatalf("ParseDescriptor failed: %v", err)
	}

	lines := strings.Split(d.Describe(), "\n")
	want := []string{
		"=== DESCRIPTOR (E1) ===",
		"    - E1.Type (DF01): 01 (Dec: 1)",
		"    - E1.Capacity (DF02): 0000000077400000 (Dec: 2000683008)",
		"    - E1.BlockSize (DF03): 00000200 (Dec: 512)",
		"    - E1.RCA (DF04): B368",
		"    - E1.BusWidth (DF05): 04 (Dec: 4)",
	}
	if len(lines) != 10 {
		t.Fatalf("Describe() has %d lines, want 10:\n%s", len(lines), d.Describe())
	}
	if diff := cmp.Diff(want, lines[:len(want)]); diff != "" {
		t.Errorf("Describe() mismatch (-want +got):\n%s", diff)
	}

	registers := []string{
		fmt.Sprintf("    - E1.CID (DF07): %X", sim.Profile.CIDRegister().Bytes()),
		fmt.Sprintf("    - E1.CSD (DF08): %X", sim.Profile.CSDRegister().Bytes()),
	}
	if diff := cmp.Diff(registers, lines[7:9]); diff != "" {
		t.Errorf("Describe() register lines mismatch (-want +got):\n%s", diff)
	}
}
