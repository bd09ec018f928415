package main

import (
	"bytes"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/gregLibert/sd-card/pkg/sdsim"
	"github.com/gregLibert/sd-card/pkg/sdxx"
	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
)

type demoFlags struct {
	profile   string
	readMode  string
	writeMode string
	start     uint32
	blocks    uint32
	frequency string
	cdPin     string
	trace     bool
	verbose   bool
}

func main() {
	var f demoFlags

	root := &cobra.Command{
		Use:   "sdcard-demo",
		Short: "Drive a simulated SD card through init, block transfers and register export",
		Long: "Initializes a simulated SD/SDHC/SDXC card with the sdxx core, prints the card report,\n" +
			"writes and reads back a block span with the selected strategies and dumps the\n" +
			"BER-TLV register descriptor.",
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(f)
		},
	}

	root.Flags().StringVar(&f.profile, "profile", "sdhc", "simulated card: sdhc|sdxc|sdsc|sdsc-v1")
	root.Flags().StringVar(&f.readMode, "read-mode", "single", "read strategy: single|multi")
	root.Flags().StringVar(&f.writeMode, "write-mode", "single", "write strategy: single|multi")
	root.Flags().Uint32Var(&f.start, "start", 0, "first block of the test span")
	root.Flags().Uint32Var(&f.blocks, "blocks", 8, "number of blocks in the test span")
	root.Flags().StringVar(&f.frequency, "frequency", "25MHz", "requested transfer clock")
	root.Flags().StringVar(&f.cdPin, "cd-pin", "", "card-detect GPIO name (e.g. GPIO17); empty to skip detection")
	root.Flags().BoolVar(&f.trace, "trace", false, "record and print every command exchange")
	root.Flags().BoolVar(&f.verbose, "verbose", false, "debug logging of command traffic")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(f demoFlags) error {
	// --- 1. Simulated Hardware ---
	profile, err := profileByName(f.profile)
	if err != nil {
		return err
	}
	sim := sdsim.New(profile)

	// --- 2. Core Setup ---
	opts, err := buildOptions(f)
	if err != nil {
		return err
	}
	card := sdxx.New(sim, opts)

	// --- 3. Execution Flow ---
	if err := step1Init(card); err != nil {
		return err
	}

	if err := step2Strategies(card, f.readMode, f.writeMode); err != nil {
		return err
	}

	if err := step3Verify(card, f.start, f.blocks); err != nil {
		log.Printf("Step 3 Warning: %v", err)
	}

	step4Descriptor(card)

	if f.trace {
		fmt.Println()
		fmt.Println(card.Describe())
	}

	fmt.Println("\n>> Demo Finished Successfully")
	return nil
}

// =========================================================================
// Helper Functions
// =========================================================================

func profileByName(name string) (sdsim.Profile, error) {
	switch strings.ToLower(name) {
	case "sdhc":
		return sdsim.SDHC(), nil
	case "sdxc":
		return sdsim.SDXC(), nil
	case "sdsc":
		return sdsim.SDSC(), nil
	case "sdsc-v1":
		p := sdsim.SDSC()
		p.V1 = true
		return p, nil
	default:
		return sdsim.Profile{}, fmt.Errorf("unknown profile %q", name)
	}
}

func parseMode(name string) (sdxx.Mode, error) {
	switch strings.ToLower(name) {
	case "single", "single-block-iter":
		return sdxx.SingleBlockIter, nil
	case "multi", "multi-block":
		return sdxx.MultiBlock, nil
	default:
		return 0, fmt.Errorf("unknown transfer mode %q", name)
	}
}

// buildOptions maps the command line onto sdxx.Options.
func buildOptions(f demoFlags) (*sdxx.Options, error) {
	opts := sdxx.DefaultOptions()
	opts.Trace = f.trace

	level := slog.LevelInfo
	if f.verbose {
		level = slog.LevelDebug
	}
	opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var freq physic.Frequency
	if err := freq.Set(f.frequency); err != nil {
		return nil, fmt.Errorf("invalid --frequency: %w", err)
	}
	opts.Frequency = freq

	if f.cdPin != "" {
		pin := gpioreg.ByName(f.cdPin)
		if pin == nil {
			return nil, fmt.Errorf("card-detect pin %q not found", f.cdPin)
		}
		opts.CardDetect = pin
	}
	return opts, nil
}

// step1Init runs the identification protocol and prints the session report.
func step1Init(card *sdxx.Card) error {
	fmt.Println("\n=============================================")
	fmt.Println(" Step 1: CARD INITIALIZATION")
	fmt.Println("=============================================")

	if err := card.Init(); err != nil {
		return fmt.Errorf("init failed (%s): %w", sdxx.CodeOf(err), err)
	}

	info, err := card.Info()
	if err != nil {
		log.Printf("Warning: Failed to refresh card info: %v", err)
	} else {
		fmt.Printf(">> %s card %q from manufacturer %02X, SD spec %d\n",
			card.Type, info.CID.ProductName, info.CID.ManufacturerID, info.SCR.SDSpec)
	}

	st, err := card.Status()
	if err != nil {
		log.Printf("Warning: Failed to read status: %v", err)
	} else {
		fmt.Printf(">> Status: %s\n", st.Verbose())
	}
	return nil
}

// step2Strategies applies the requested read and write strategies.
func step2Strategies(card *sdxx.Card, readMode, writeMode string) error {
	fmt.Println("\n=============================================")
	fmt.Println(" Step 2: TRANSFER STRATEGIES")
	fmt.Println("=============================================")

	rx, err := parseMode(readMode)
	if err != nil {
		return err
	}
	tx, err := parseMode(writeMode)
	if err != nil {
		return err
	}

	if err := card.Configure(sdxx.SettingRxMode, rx); err != nil {
		return fmt.Errorf("configure read mode: %w", err)
	}
	if err := card.Configure(sdxx.SettingTxMode, tx); err != nil {
		return fmt.Errorf("configure write mode: %w", err)
	}

	fmt.Printf(">> Read: %s, Write: %s\n", card.ReadMode(), card.WriteMode())
	return nil
}

// step3Verify writes a pattern over the span, reads it back and compares.
func step3Verify(card *sdxx.Card, start, count uint32) error {
	if count == 0 {
		return fmt.Errorf("empty block span")
	}

	fmt.Println("\n=============================================")
	fmt.Printf(" Step 3: WRITE/READ VERIFY (blocks %d..%d)\n", start, start+count-1)
	fmt.Println("=============================================")

	data := make([]byte, uint64(count)*uint64(card.BlockSize))
	for i := range data {
		data[i] = byte(i/int(card.BlockSize)) ^ byte(i*31)
	}

	n, err := card.WriteBlock(start, count, data)
	fmt.Printf(">> Wrote %d/%d blocks\n", n, count)
	if err != nil {
		return fmt.Errorf("write failed after %d blocks: %w", n, err)
	}

	back := make([]byte, len(data))
	n, err = card.ReadBlock(start, count, back)
	fmt.Printf(">> Read %d/%d blocks\n", n, count)
	if err != nil {
		return fmt.Errorf("read failed after %d blocks: %w", n, err)
	}

	if !bytes.Equal(data, back) {
		return fmt.Errorf("read back data differs from written data")
	}
	fmt.Println(">> Data verified")
	return nil
}

// step4Descriptor exports the register descriptor and decodes it again.
func step4Descriptor(card *sdxx.Card) {
	fmt.Println("\n=============================================")
	fmt.Println(" Step 4: REGISTER DESCRIPTOR (BER-TLV)")
	fmt.Println("=============================================")

	raw, err := card.Descriptor()
	if err != nil {
		log.Printf("(!) Descriptor export failed: %v", err)
		return
	}
	fmt.Printf(">> %d bytes: %X\n", len(raw), raw)

	d, err := sdxx.ParseDescriptor(raw)
	if err != nil {
		log.Printf("(!) Descriptor decode failed: %v", err)
		return
	}
	fmt.Println(d.Describe())
}
