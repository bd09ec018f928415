package sdsim

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gregLibert/sd-card/pkg/sdxx"
	"periph.io/x/conn/v3/physic"
)

func TestProfileRegisters(t *testing.T) {
	tests := []struct {
		name     string
		profile  Profile
		version  int
		capacity uint64
	}{
		{"SDHC", SDHC(), 2, 0xEE8 << 19},
		{"SDXC", SDXC(), 2, 0x1DB40 << 19},
		{"SDSC", SDSC(), 1, 1 << 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			csd, err := sdxx.DecodeCSD(tt.profile.CSDRegister())
			if err != nil {
				t.Fatalf("DecodeCSD failed: %v", err)
			}
			if csd.Version() != tt.version {
				t.Errorf("CSD version = %d, want %d", csd.Version(), tt.version)
			}
			if csd.Capacity != tt.capacity || tt.profile.Capacity() != tt.capacity {
				t.Errorf("capacity = %d (profile %d), want %d", csd.Capacity, tt.profile.Capacity(), tt.capacity)
			}

			cid := sdxx.DecodeCID(tt.profile.CIDRegister())
			want := sdxx.CID{
				ManufacturerID: 0x03,
				OEMID:          "SD",
				ProductName:    "SIM01",
				Revision:       0x10,
				SerialNumber:   0x12345678,
				Year:           2026,
				Month:          10,
			}
			if diff := cmp.Diff(want, cid); diff != "" {
				t.Errorf("CID mismatch (-want +got):\n%s", diff)
			}

			if !sdxx.DecodeSCR(tt.profile.SCRBytes()).SupportsWideBus() {
				t.Error("SCR should advertise the 4-bit bus")
			}
		})
	}
}

// bringUp walks the card to the transfer state by hand.
func bringUp(t *testing.T, c *Card) {
	t.Helper()
	var r [4]uint32

	steps := []struct {
		index sdxx.Index
		arg   uint32
	}{
		{sdxx.CmdGoIdleState, 0},
		{sdxx.CmdSendIfCond, 0x1AA},
		{sdxx.CmdAppCmd, 0},
		{sdxx.AcmdSendOpCond, 0x40100000},
		{sdxx.CmdAllSendCID, 0},
		{sdxx.CmdSendRelativeAddr, 0},
		{sdxx.CmdSendCSD, uint32(c.Profile.RCA) << 16},
		{sdxx.CmdSelectCard, uint32(c.Profile.RCA) << 16},
	}
	for _, s := range steps {
		if err := c.Ask(s.index, s.arg, r[:sdxx.ResponseWords(s.index)]); err != nil {
			t.Fatalf("%s failed: %v", sdxx.CommandName(s.index, s.index == sdxx.AcmdSendOpCond), err)
		}
	}
	if c.State() != sdxx.StateTran {
		t.Fatalf("card in %s after bring-up, want tran", c.State())
	}
}

func TestCardIdentification(t *testing.T) {
	c := New(SDHC())
	bringUp(t, c)

	if got := c.Count(sdxx.AcmdSendOpCond, true); got != 1 {
		t.Errorf("ACMD41 count = %d, want 1", got)
	}
	if got := c.Count(sdxx.AcmdSendOpCond, false); got != 0 {
		t.Errorf("CMD41 count = %d, want 0", got)
	}
	if c.Calls[3].Name() != "ACMD41" {
		t.Errorf("call 3 = %s, want ACMD41", c.Calls[3].Name())
	}
}

func TestCardOpCond(t *testing.T) {
	tests := []struct {
		name     string
		profile  Profile
		arg      uint32
		polls    int
		wantBusy bool
		wantCCS  bool
		wantErr  error
	}{
		{"Ready first poll", SDHC(), 0x40100000, 1, true, true, nil},
		{"Host without HCS", SDHC(), 0x00100000, 1, true, false, nil},
		{"Busy for two polls", Profile{HighCapacity: true, BusyPolls: 2}, 0x40100000, 2, false, false, nil},
		{"Ready after busy polls", Profile{HighCapacity: true, BusyPolls: 2}, 0x40100000, 3, true, true, nil},
		{"Never ready", Profile{NeverReady: true}, 0x40100000, 5, false, false, nil},
		{"CRC reported", Profile{R3CRCError: true}, 0x00100000, 1, true, false, sdxx.ErrCRC},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.profile)
			var r [1]uint32
			var err error
			for i := 0; i < tt.polls; i++ {
				if err := c.Ask(sdxx.CmdAppCmd, 0, r[:]); err != nil {
					t.Fatalf("CMD55 failed: %v", err)
				}
				err = c.Ask(sdxx.AcmdSendOpCond, tt.arg, r[:])
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if busy := r[0]&(1<<31) != 0; busy != tt.wantBusy {
				t.Errorf("busy bit = %t, want %t", busy, tt.wantBusy)
			}
			if ccs := r[0]&(1<<30) != 0; ccs != tt.wantCCS {
				t.Errorf("CCS bit = %t, want %t", ccs, tt.wantCCS)
			}
		})
	}
}

func TestCardIfCond(t *testing.T) {
	tests := []struct {
		name    string
		profile Profile
		want    uint32
		wantErr error
	}{
		{"Echo", SDHC(), 0x1AA, nil},
		{"Mismatch", Profile{EchoMismatch: true}, 0x155, nil},
		{"Version 1 card", Profile{V1: true}, 0, sdxx.ErrTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.profile)
			var r [1]uint32
			err := c.Ask(sdxx.CmdSendIfCond, 0x1AA, r[:])
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if err == nil && r[0] != tt.want {
				t.Errorf("echo = %03X, want %03X", r[0], tt.want)
			}
		})
	}
}

func TestCardBlockTransfers(t *testing.T) {
	c := New(SDHC())
	bringUp(t, c)
	var r [1]uint32

	data := bytes.Repeat([]byte{0xA5}, 2*sdxx.BlockSize)
	copy(data[sdxx.BlockSize:], bytes.Repeat([]byte{0x5A}, sdxx.BlockSize))

	if err := c.Ask(sdxx.CmdWriteMultipleBlock, 10, r[:]); err != nil {
		t.Fatalf("CMD25 failed: %v", err)
	}
	if c.State() != sdxx.StateRcv {
		t.Fatalf("state = %s after CMD25, want rcv", c.State())
	}
	c.Send(data)
	if !c.TransferEnd() {
		t.Fatal("write transfer did not complete")
	}
	if err := c.Ask(sdxx.CmdStopTransmission, 0, r[:]); err != nil {
		t.Fatalf("CMD12 failed: %v", err)
	}
	if c.State() != sdxx.StateTran {
		t.Fatalf("state = %s after CMD12, want tran", c.State())
	}

	got := make([]byte, sdxx.BlockSize)
	c.Recv(got)
	if c.TransferEnd() {
		t.Fatal("transfer complete before the read command")
	}
	if err := c.Ask(sdxx.CmdReadSingleBlock, 11, r[:]); err != nil {
		t.Fatalf("CMD17 failed: %v", err)
	}
	if !c.TransferEnd() {
		t.Fatal("read transfer did not complete")
	}
	if !bytes.Equal(got, data[sdxx.BlockSize:]) {
		t.Errorf("block 11 = %X..., want 5A...", got[:4])
	}
	if c.State() != sdxx.StateTran {
		t.Errorf("state = %s after CMD17, want tran", c.State())
	}
}

func TestCardAddressing(t *testing.T) {
	tests := []struct {
		name    string
		profile Profile
		arg     uint32
		want    sdxx.CardStatus
	}{
		{"SDHC block index", SDHC(), 3, 0},
		{"SDHC out of range", SDHC(), SDHC().Blocks(), sdxx.StatusOutOfRange},
		{"SDSC byte address", SDSC(), 3 * sdxx.BlockSize, 0},
		{"SDSC misaligned", SDSC(), 3, sdxx.StatusAddressError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.profile)
			bringUp(t, c)
			c.SetBlock(3, bytes.Repeat([]byte{0x33}, sdxx.BlockSize))

			var r [1]uint32
			buf := make([]byte, sdxx.BlockSize)
			c.Recv(buf)
			if err := c.Ask(sdxx.CmdReadSingleBlock, tt.arg, r[:]); err != nil {
				t.Fatalf("CMD17 failed: %v", err)
			}
			st := sdxx.CardStatus(r[0])
			if got := st & (sdxx.StatusOutOfRange | sdxx.StatusAddressError); got != tt.want {
				t.Errorf("status %s, want error bits %08X", st.Verbose(), uint32(tt.want))
			}
			if tt.want == 0 && buf[0] != 0x33 {
				t.Errorf("read %02X, want 33", buf[0])
			}
		})
	}
}

func TestCardIllegalCommand(t *testing.T) {
	c := New(SDHC())
	var r [1]uint32

	if err := c.Ask(sdxx.CmdReadSingleBlock, 0, r[:]); !errors.Is(err, sdxx.ErrTimeout) {
		t.Fatalf("CMD17 in idle: err = %v, want timeout", err)
	}

	bringUp(t, c)
	// ACMD41 index without a preceding CMD55.
	if err := c.Ask(sdxx.AcmdSendOpCond, 0, r[:]); !errors.Is(err, sdxx.ErrTimeout) {
		t.Fatalf("CMD41: err = %v, want timeout", err)
	}

	rca := uint32(c.Profile.RCA) << 16
	if err := c.Ask(sdxx.CmdSendStatus, rca, r[:]); err != nil {
		t.Fatalf("CMD13 failed: %v", err)
	}
	if st := sdxx.CardStatus(r[0]); st&sdxx.StatusIllegalCommand == 0 {
		t.Errorf("status %s, want ILLEGAL_COMMAND", st.Verbose())
	}
	if err := c.Ask(sdxx.CmdSendStatus, rca, r[:]); err != nil {
		t.Fatalf("CMD13 failed: %v", err)
	}
	if st := sdxx.CardStatus(r[0]); st.HasError() || st.State() != sdxx.StateTran {
		t.Errorf("status %s, want a clean tran status", st.Verbose())
	}
}

func TestConfigClampsFrequency(t *testing.T) {
	c := New(SDHC())
	bus := sdxx.Bus{Width: sdxx.Width4, Frequency: 50 * physic.MegaHertz}
	if err := c.Config(&bus); err != nil {
		t.Fatalf("Config failed: %v", err)
	}

	want := []sdxx.Bus{{Width: sdxx.Width4, Frequency: 24 * physic.MegaHertz}}
	if diff := cmp.Diff(want, c.Buses); diff != "" {
		t.Errorf("Buses mismatch (-want +got):\n%s", diff)
	}
}

func TestFailAt(t *testing.T) {
	boom := errors.New("boom")
	c := New(SDHC())
	c.Fault = Chain(
		FailAt(sdxx.CmdGoIdleState, false, 2, boom),
		FailAlways(sdxx.CmdSendIfCond, false, sdxx.ErrCRC),
	)

	var r [1]uint32
	if err := c.Ask(sdxx.CmdGoIdleState, 0, nil); err != nil {
		t.Errorf("first CMD0: %v", err)
	}
	if err := c.Ask(sdxx.CmdGoIdleState, 0, nil); !errors.Is(err, boom) {
		t.Errorf("second CMD0: err = %v, want boom", err)
	}
	if err := c.Ask(sdxx.CmdGoIdleState, 0, nil); err != nil {
		t.Errorf("third CMD0: %v", err)
	}
	if err := c.Ask(sdxx.CmdSendIfCond, 0x1AA, r[:]); !errors.Is(err, sdxx.ErrCRC) {
		t.Errorf("CMD8: err = %v, want CRC error", err)
	}
	if got := c.Count(sdxx.CmdGoIdleState, false); got != 3 {
		t.Errorf("CMD0 count = %d, want 3", got)
	}
}
