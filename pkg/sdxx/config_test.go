package sdxx

import (
	"errors"
	"testing"
)

func TestConfigure(t *testing.T) {
	tests := []struct {
		name    string
		setting Setting
		args    []interface{}
		wantErr error
		wantRx  Mode
		wantTx  Mode
	}{
		{
			name:    "Read multi-block",
			setting: SettingRxMode,
			args:    []interface{}{MultiBlock},
			wantRx:  MultiBlock,
			wantTx:  SingleBlockIter,
		},
		{
			name:    "Write multi-block",
			setting: SettingTxMode,
			args:    []interface{}{MultiBlock},
			wantRx:  SingleBlockIter,
			wantTx:  MultiBlock,
		},
		{
			name:    "Unknown setting",
			setting: Setting(7),
			args:    []interface{}{MultiBlock},
			wantErr: ErrNotSupported,
		},
		{
			name:    "Missing argument",
			setting: SettingRxMode,
			wantErr: ErrInvalidArgument,
		},
		{
			name:    "Extra argument",
			setting: SettingTxMode,
			args:    []interface{}{MultiBlock, MultiBlock},
			wantErr: ErrInvalidArgument,
		},
		{
			name:    "Wrong argument type",
			setting: SettingRxMode,
			args:    []interface{}{1},
			wantErr: ErrInvalidArgument,
		},
		{
			name:    "Unknown mode",
			setting: SettingTxMode,
			args:    []interface{}{Mode(9)},
			wantErr: ErrInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(nil, nil)
			err := c.Configure(tt.setting, tt.args...)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Configure() error = %v, want %v", err, tt.wantErr)
				}
				if c.ReadMode() != SingleBlockIter || c.WriteMode() != SingleBlockIter {
					t.Errorf("failed Configure changed the strategies: read=%s write=%s", c.ReadMode(), c.WriteMode())
				}
				return
			}
			if err != nil {
				t.Fatalf("Configure() unexpected error: %v", err)
			}
			if c.ReadMode() != tt.wantRx || c.WriteMode() != tt.wantTx {
				t.Errorf("modes = read %s write %s, want read %s write %s", c.ReadMode(), c.WriteMode(), tt.wantRx, tt.wantTx)
			}
		})
	}
}

func TestSetModeSwapsStrategy(t *testing.T) {
	c := New(nil, nil)

	if err := c.SetReadMode(MultiBlock); err != nil {
		t.Fatalf("SetReadMode failed: %v", err)
	}
	if _, ok := c.reader.(multiBlock); !ok {
		t.Errorf("reader = %T, want multiBlock", c.reader)
	}
	if err := c.SetWriteMode(MultiBlock); err != nil {
		t.Fatalf("SetWriteMode failed: %v", err)
	}
	if err := c.SetWriteMode(SingleBlockIter); err != nil {
		t.Fatalf("SetWriteMode failed: %v", err)
	}
	if _, ok := c.writer.(singleBlockIter); !ok {
		t.Errorf("writer = %T, want singleBlockIter", c.writer)
	}
}

func TestModeString(t *testing.T) {
	if SingleBlockIter.String() != "single-block-iter" || MultiBlock.String() != "multi-block" {
		t.Errorf("unexpected names %q %q", SingleBlockIter, MultiBlock)
	}
	if Mode(5).String() != "Mode(5)" {
		t.Errorf("Mode(5).String() = %q", Mode(5).String())
	}
}
