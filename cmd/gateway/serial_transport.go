package main

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// uartTransport is a reference BMS serial transport backed directly by
// POSIX termios, configured via golang.org/x/sys/unix ioctl calls
// (already a teacher dependency, used elsewhere for low-level CAN/OS
// plumbing) rather than a third-party serial library, since none of the
// pack's serial-port libraries ship as a complete fetchable module.
type uartTransport struct {
	f *os.File
}

// openUART opens path and configures it for 8N1 communication at baud,
// no flow control, raw (non-canonical) mode — standard settings for a
// polled binary protocol where every byte matters and line discipline
// must not interfere.
func openUART(path string, baud int) (*uartTransport, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("uart: open %s: %w", path, err)
	}

	termios, err := unix.IoctlGetTermios(int(f.Fd()), unix.TCGETS)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("uart: get termios: %w", err)
	}

	speed, err := baudConstant(baud)
	if err != nil {
		f.Close()
		return nil, err
	}

	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CRTSCTS
	termios.Cflag |= unix.CS8 | unix.CLOCAL | unix.CREAD
	termios.Cc[unix.VMIN] = 0
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(int(f.Fd()), unix.TCSETS, termios); err != nil {
		f.Close()
		return nil, fmt.Errorf("uart: set termios: %w", err)
	}
	if err := setBaudRate(int(f.Fd()), speed); err != nil {
		f.Close()
		return nil, err
	}

	return &uartTransport{f: f}, nil
}

func baudConstant(baud int) (uint32, error) {
	switch baud {
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	default:
		return 0, fmt.Errorf("uart: unsupported baud rate %d", baud)
	}
}

func setBaudRate(fd int, speed uint32) error {
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("uart: get termios for baud: %w", err)
	}
	termios.Ispeed = speed
	termios.Ospeed = speed
	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= speed
	return unix.IoctlSetTermios(fd, unix.TCSETS, termios)
}

// Write implements serial.Transport.
func (t *uartTransport) Write(data []byte) error {
	_, err := t.f.Write(data)
	return err
}

// ReadByte implements serial.Transport, using the file's read deadline
// so a byte that never arrives returns promptly instead of blocking the
// engine's transaction goroutine indefinitely.
func (t *uartTransport) ReadByte(deadline time.Time) (byte, error) {
	if err := t.f.SetReadDeadline(deadline); err != nil {
		return 0, err
	}
	var buf [1]byte
	n, err := t.f.Read(buf[:])
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("uart: short read")
	}
	return buf[0], nil
}

// Close releases the underlying file descriptor.
func (t *uartTransport) Close() error {
	return t.f.Close()
}
