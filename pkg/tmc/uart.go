package tmc

import (
	"io"
	"sync"

	"berryplc/pkg/log"
	"berryplc/pkg/plcerror"
)

const (
	syncByte   = 0x05
	masterAddr = 0xff
	writeBit   = 0x80

	readRequestLen  = 4
	writeRequestLen = 8
	replyLen        = 8
)

// CRC8 computes the TMC UART checksum (polynomial 0x07, MSB first).
func CRC8(data []byte) byte {
	var crc byte
	for _, b := range data {
		for i := 0; i < 8; i++ {
			if (crc>>7)^(b>>7) != 0 {
				crc = (crc << 1) ^ 0x07
			} else {
				crc <<= 1
			}
			b <<= 1
		}
	}
	return crc
}

// buildReadRequest frames a register read for the given slave.
func buildReadRequest(addr byte, reg int) []byte {
	msg := []byte{syncByte, addr, byte(reg)}
	return append(msg, CRC8(msg))
}

// buildWriteRequest frames a register write for the given slave.
func buildWriteRequest(addr byte, reg int, value uint32) []byte {
	msg := []byte{
		syncByte,
		addr,
		byte(reg) | writeBit,
		byte(value >> 24),
		byte(value >> 16),
		byte(value >> 8),
		byte(value),
	}
	return append(msg, CRC8(msg))
}

// UART drives TMC2208 registers over the single-wire PDN_UART line.
// The wire echoes everything the master sends, so each transaction
// reads back and discards its own request before any reply.
type UART struct {
	port   io.ReadWriter
	addr   byte
	logger *log.Logger

	mu sync.Mutex
}

// NewUART creates a register client for the slave at addr (0-3 on a
// shared line, 0 for a single driver).
func NewUART(port io.ReadWriter, addr byte, logger *log.Logger) *UART {
	if logger == nil {
		logger = log.New("tmc")
	}
	return &UART{port: port, addr: addr, logger: logger}
}

// WriteRegister writes a 32-bit register value.
func (u *UART) WriteRegister(reg int, value uint32) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	frame := buildWriteRequest(u.addr, reg, value)
	if err := u.send(frame); err != nil {
		return plcerror.Wrap(err, plcerror.ErrUART, "write reg 0x%02x", reg)
	}
	u.logger.DebugFields("register write", log.Fields{
		"reg":   reg,
		"value": value,
	})
	return nil
}

// ReadRegister reads a 32-bit register value.
func (u *UART) ReadRegister(reg int) (uint32, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	frame := buildReadRequest(u.addr, reg)
	if err := u.send(frame); err != nil {
		return 0, plcerror.Wrap(err, plcerror.ErrUART, "read reg 0x%02x", reg)
	}

	reply := make([]byte, replyLen)
	if _, err := io.ReadFull(u.port, reply); err != nil {
		return 0, plcerror.Wrap(err, plcerror.ErrUART, "read reg 0x%02x reply", reg)
	}
	return parseReadReply(reg, reply)
}

// send writes a frame and consumes its echo off the shared wire.
func (u *UART) send(frame []byte) error {
	if _, err := u.port.Write(frame); err != nil {
		return err
	}
	echo := make([]byte, len(frame))
	if _, err := io.ReadFull(u.port, echo); err != nil {
		return err
	}
	return nil
}

func parseReadReply(reg int, reply []byte) (uint32, error) {
	if reply[0]&0x0f != syncByte {
		return 0, plcerror.New(plcerror.ErrUART, "reply sync 0x%02x", reply[0])
	}
	if reply[1] != masterAddr {
		return 0, plcerror.New(plcerror.ErrUART, "reply master addr 0x%02x", reply[1])
	}
	if reply[2] != byte(reg) {
		return 0, plcerror.New(plcerror.ErrUART, "reply for reg 0x%02x, expected 0x%02x", reply[2], reg)
	}
	if crc := CRC8(reply[:replyLen-1]); crc != reply[replyLen-1] {
		return 0, plcerror.New(plcerror.ErrUART, "reply crc 0x%02x, computed 0x%02x", reply[replyLen-1], crc)
	}
	value := uint32(reply[3])<<24 | uint32(reply[4])<<16 | uint32(reply[5])<<8 | uint32(reply[6])
	return value, nil
}
