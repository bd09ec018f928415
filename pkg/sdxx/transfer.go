package sdxx

import (
	"fmt"
	"math"
	"time"
)

// BLOCK TRANSFERS:
// Every transfer starts from the transfer state. waitTransferable drives the
// card back to it: a card left sending (data) or receiving (rcv) is stopped
// with CMD12, a deselected card (stby) is selected again with CMD7, a card
// still programming (prg) is simply waited for.
//
// Two strategies move the blocks:
// - singleBlockIter issues CMD17/CMD24 once per block. Every card accepts it
//   and a failure reports exactly how many blocks made it.
// - multiBlock issues one CMD18/CMD25 for the whole span followed by CMD12.
//   It either moves every block or reports none.
//
// SDSC cards take byte addresses, SDHC/SDXC cards block indices.

// BlockReader reads count blocks starting at index into buf and returns
// the number of blocks transferred.
type BlockReader interface {
	ReadBlocks(c *Card, index, count uint32, buf []byte) (uint32, error)
}

// BlockWriter writes count blocks from buf starting at index and returns
// the number of blocks transferred.
type BlockWriter interface {
	WriteBlocks(c *Card, index, count uint32, buf []byte) (uint32, error)
}

// ReadBlock reads count blocks starting at block index with the active
// read strategy. buf must hold count*BlockSize bytes.
func (c *Card) ReadBlock(index, count uint32, buf []byte) (uint32, error) {
	if err := c.checkSpan(index, count, buf); err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}
	n, err := c.reader.ReadBlocks(c, index, count, buf)
	if err != nil {
		c.log.Warn("sdxx: read failed", "index", index, "count", count, "done", n, "err", err)
	}
	return n, err
}

// WriteBlock writes count blocks starting at block index with the active
// write strategy. buf must hold count*BlockSize bytes.
func (c *Card) WriteBlock(index, count uint32, buf []byte) (uint32, error) {
	if err := c.checkSpan(index, count, buf); err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}
	n, err := c.writer.WriteBlocks(c, index, count, buf)
	if err != nil {
		c.log.Warn("sdxx: write failed", "index", index, "count", count, "done", n, "err", err)
	}
	return n, err
}

func (c *Card) checkSpan(index, count uint32, buf []byte) error {
	if !c.ready {
		return fmt.Errorf("%w: card not initialized", ErrFailed)
	}
	if need := uint64(count) * uint64(c.BlockSize); uint64(len(buf)) < need {
		return fmt.Errorf("%w: buffer holds %d bytes, %d blocks need %d", ErrInvalidArgument, len(buf), count, need)
	}
	if end, blocks := uint64(index)+uint64(count), c.Blocks(); end > blocks {
		return fmt.Errorf("%w: blocks %d+%d past the end of a %d block card", ErrInvalidArgument, index, count, blocks)
	}
	return nil
}

// Blocks is the number of addressable blocks, zero before Init.
func (c *Card) Blocks() uint64 {
	if c.BlockSize == 0 {
		return 0
	}
	return c.Capacity / uint64(c.BlockSize)
}

// address converts a block index to the command argument.
func (c *Card) address(index uint32) (uint32, error) {
	if c.Type.HighCapacity() {
		return index, nil
	}
	addr := uint64(index) * uint64(c.BlockSize)
	if addr > math.MaxUint32 {
		return 0, fmt.Errorf("%w: block %d has no byte address", ErrInvalidArgument, index)
	}
	return uint32(addr), nil
}

// waitTransferable polls the card status every millisecond until it
// reports tran, nudging it out of data, rcv and stby on the way.
func (c *Card) waitTransferable(timeout time.Duration) error {
	budget := int(timeout / time.Millisecond)

	st, err := c.Status()
	for err != nil || st.State() != StateTran {
		if budget <= 0 {
			if err != nil {
				return fmt.Errorf("%w: waiting for tran: %v", ErrTimeout, err)
			}
			return fmt.Errorf("%w: card stuck in %s", ErrTimeout, st.State())
		}
		if err == nil {
			switch st.State() {
			case StateRcv, StateData:
				c.stopTransmission()
			case StateStby:
				if err := c.Select(); err != nil {
					c.log.Debug("sdxx: reselect failed", "err", err)
				}
			}
		}
		budget--
		c.opts.Sleep(time.Millisecond)
		st, err = c.Status()
	}
	return nil
}

// waitTransferEnd spins on the transport completion flag.
func (c *Card) waitTransferEnd() error {
	polls := int(c.opts.DataTimeout / transferPollInterval)
	for !c.t.TransferEnd() {
		if polls <= 0 {
			return fmt.Errorf("%w: data transfer did not complete", ErrTimeout)
		}
		polls--
		c.opts.Sleep(transferPollInterval)
	}
	return nil
}

func (c *Card) stopTransmission() error {
	var resp [1]uint32
	err := CheckR1(c.send(CmdStopTransmission, false, 0, resp[:]), CardStatus(resp[0]))
	if err != nil {
		c.log.Debug("sdxx: stop transmission failed", "err", err)
	}
	return err
}

func (c *Card) readSingle(index uint32, buf []byte) error {
	addr, err := c.address(index)
	if err != nil {
		return err
	}
	var resp [1]uint32
	c.t.Recv(buf)
	err = c.send(CmdReadSingleBlock, false, addr, resp[:])
	if err := CheckR1(err, CardStatus(resp[0])); err != nil {
		return fmt.Errorf("read block %d: %w", index, err)
	}
	return c.waitTransferEnd()
}

func (c *Card) writeSingle(index uint32, buf []byte) error {
	addr, err := c.address(index)
	if err != nil {
		return err
	}
	var resp [1]uint32
	err = c.send(CmdWriteSingleBlock, false, addr, resp[:])
	if err := CheckR1(err, CardStatus(resp[0])); err != nil {
		return fmt.Errorf("write block %d: %w", index, err)
	}
	c.t.Send(buf)
	return c.waitTransferEnd()
}

type singleBlockIter struct{}

func (singleBlockIter) ReadBlocks(c *Card, index, count uint32, buf []byte) (uint32, error) {
	bs := c.BlockSize
	for i := uint32(0); i < count; i++ {
		if err := c.waitTransferable(c.opts.StateTimeout); err != nil {
			return i, err
		}
		if err := c.readSingle(index+i, buf[i*bs:(i+1)*bs]); err != nil {
			return i, err
		}
	}
	return count, nil
}

func (singleBlockIter) WriteBlocks(c *Card, index, count uint32, buf []byte) (uint32, error) {
	bs := c.BlockSize
	for i := uint32(0); i < count; i++ {
		if err := c.waitTransferable(c.opts.StateTimeout); err != nil {
			return i, err
		}
		if err := c.writeSingle(index+i, buf[i*bs:(i+1)*bs]); err != nil {
			return i, err
		}
	}
	return count, nil
}

type multiBlock struct{}

func (multiBlock) ReadBlocks(c *Card, index, count uint32, buf []byte) (uint32, error) {
	addr, err := c.address(index)
	if err != nil {
		return 0, err
	}
	if err := c.waitTransferable(c.opts.StateTimeout); err != nil {
		return 0, err
	}

	c.t.Recv(buf[:uint64(count)*uint64(c.BlockSize)])
	var resp [1]uint32
	err = c.send(CmdReadMultipleBlock, false, addr, resp[:])
	if err := CheckR1(err, CardStatus(resp[0])); err != nil {
		return 0, fmt.Errorf("read blocks %d+%d: %w", index, count, err)
	}
	if err := c.waitTransferEnd(); err != nil {
		c.stopTransmission()
		return 0, err
	}
	c.stopTransmission()
	return count, nil
}

func (multiBlock) WriteBlocks(c *Card, index, count uint32, buf []byte) (uint32, error) {
	addr, err := c.address(index)
	if err != nil {
		return 0, err
	}
	if err := c.waitTransferable(c.opts.StateTimeout); err != nil {
		return 0, err
	}

	// Pre-erasing the span speeds up CMD25; the card may ignore it.
	var resp [1]uint32
	if err := c.sendApp(AcmdSetWrBlkEraseCount, count, resp[:]); err != nil {
		c.log.Debug("sdxx: block count hint rejected", "err", err)
	}

	err = c.send(CmdWriteMultipleBlock, false, addr, resp[:])
	if err := CheckR1(err, CardStatus(resp[0])); err != nil {
		return 0, fmt.Errorf("write blocks %d+%d: %w", index, count, err)
	}
	c.t.Send(buf[:uint64(count)*uint64(c.BlockSize)])
	if err := c.waitTransferEnd(); err != nil {
		c.stopTransmission()
		return 0, err
	}
	c.stopTransmission()
	return count, nil
}
