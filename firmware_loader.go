// firmware_loader.go - BIOS image placement and disk images
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"os"
	"sync"

	"github.com/pkg/errors"
)

// maxFirmwareSize is the room between F000:0100 and the end of segment F000.
const maxFirmwareSize = 0x10000 - biosEntryOffset

// LoadFirmware validates image, copies it to F000:0100 and returns the decode
// tables it carries.
func LoadFirmware(mem Memory, image []byte) (*DecodeTables, error) {
	if len(image) > maxFirmwareSize {
		return nil, errors.Wrapf(ErrConfiguration, "firmware image is %d bytes, at most %d fit at F000:0100", len(image), maxFirmwareSize)
	}
	tables, err := LoadDecodeTables(image)
	if err != nil {
		return nil, err
	}
	mem.Write(image, biosLoadAddress)
	return tables, nil
}

// LoadFirmwareFile reads a firmware image from disk and loads it.
func LoadFirmwareFile(mem Memory, path string) (*DecodeTables, error) {
	image, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(ErrConfiguration, "reading firmware: %v", err)
	}
	tables, err := LoadFirmware(mem, image)
	if err != nil {
		return nil, errors.Wrapf(err, "firmware %s", path)
	}
	return tables, nil
}

// DiskImage is a file-backed block device.
type DiskImage struct {
	mu   sync.Mutex
	file *os.File
	size int64
	path string
}

// OpenDiskImage opens path read-write, falling back to read-only.
func OpenDiskImage(path string) (*DiskImage, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if f, err = os.Open(path); err != nil {
			return nil, errors.Wrapf(ErrConfiguration, "opening disk image: %v", err)
		}
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(ErrConfiguration, "disk image %s: %v", path, err)
	}
	return &DiskImage{file: f, size: fi.Size(), path: path}, nil
}

func (d *DiskImage) ReadAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.file.ReadAt(p, off)
}

func (d *DiskImage) WriteAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.file.WriteAt(p, off)
	if end := off + int64(n); end > d.size {
		d.size = end
	}
	return n, err
}

// Sectors returns the image size in 512-byte sectors.
func (d *DiskImage) Sectors() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return uint32(d.size / sectorSize)
}

func (d *DiskImage) Path() string {
	return d.path
}

func (d *DiskImage) Close() error {
	return d.file.Close()
}
