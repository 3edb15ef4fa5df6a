// cpu_8086_devices.go - Emulator hooks (0F xx) and their device collaborators
//
// 0F 00  write AL to the terminal
// 0F 01  store the wall clock at ES:BX
// 0F 02  read AX bytes from sector BP of drive DL into ES:BX
// 0F 03  write AX bytes from ES:BX to sector BP of drive DL
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/retroenv/retrogolib/log"
)

const (
	emuPutChar   = 0x00
	emuGetRTC    = 0x01
	emuDiskRead  = 0x02
	emuDiskWrite = 0x03

	sectorSize = 512

	// Drive numbers: floppies below 0x80, hard disks from 0x80.
	driveFloppy = 0x00
	driveHard   = 0x80
)

// BlockDevice is a disk image.
type BlockDevice interface {
	io.ReaderAt
	io.WriterAt
}

// Devices are the host collaborators of the emulator hooks. A nil Devices or
// a nil Terminal makes console output fail with ErrNotImplemented; a missing
// drive reports a zero transfer count to the guest.
type Devices struct {
	Terminal io.Writer
	Disks    map[byte]BlockDevice
	Clock    func() time.Time
}

func (c *CPU_8086) opEmulator() error {
	switch fn := byte(c.ins.data0); fn {
	case emuPutChar:
		if c.Devices == nil || c.Devices.Terminal == nil {
			return errors.Wrap(ErrNotImplemented, "console output: no terminal attached")
		}
		_, err := c.Devices.Terminal.Write([]byte{byte(c.regs.Byte(RegAL).Load())})
		return errors.Wrap(err, "console output")
	case emuGetRTC:
		c.writeClock()
		return nil
	case emuDiskRead, emuDiskWrite:
		return c.diskTransfer(fn == emuDiskWrite)
	default:
		return c.decodeError(fmt.Sprintf("emulator function 0x%02X", fn))
	}
}

// writeClock stores a C struct tm (nine int32 fields) followed by the
// milliseconds as a word.
func (c *CPU_8086) writeClock() {
	now := time.Now()
	if c.Devices != nil && c.Devices.Clock != nil {
		now = c.Devices.Clock()
	}

	fields := [9]int32{
		int32(now.Second()),
		int32(now.Minute()),
		int32(now.Hour()),
		int32(now.Day()),
		int32(now.Month()) - 1,
		int32(now.Year()) - 1900,
		int32(now.Weekday()),
		int32(now.YearDay()) - 1,
		0,
	}
	buf := make([]byte, len(fields)*4+2)
	for i, f := range fields {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(f))
	}
	binary.LittleEndian.PutUint16(buf[len(fields)*4:], uint16(now.Nanosecond()/int(time.Millisecond)))
	c.bus.Write(buf, c.linear(RegES, c.reg(RegBX).Load()))
}

// diskTransfer moves AX bytes between sector BP of drive DL and ES:BX and
// leaves the low byte of the transferred count in AL.
func (c *CPU_8086) diskTransfer(write bool) error {
	drive := byte(c.regs.Byte(RegDL).Load())
	al := c.regs.Byte(RegAL)

	var dev BlockDevice
	if c.Devices != nil {
		dev = c.Devices.Disks[drive]
	}
	if dev == nil {
		al.Store(0)
		return nil
	}

	offset := int64(c.reg(RegBP).Load()) * sectorSize
	length := uint32(c.reg(RegAX).Load())
	addr := c.linear(RegES, c.reg(RegBX).Load())

	var n int
	var err error
	if write {
		n, err = dev.WriteAt(c.bus.Read(addr, length), offset)
	} else {
		buf := make([]byte, length)
		n, err = dev.ReadAt(buf, offset)
		c.bus.Write(buf[:n], addr)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		c.logger.Error("Disk transfer failed",
			log.Uint8("drive", drive),
			log.Int("offset", int(offset)),
			log.Err(err))
	}
	al.Store(uint16(n))
	return nil
}
