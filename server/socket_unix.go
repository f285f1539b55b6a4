//go:build linux || darwin
// +build linux darwin

package server

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// remanagedListenSocket creates, binds and listens on a socket the way the
// "remanaged" start mode requires: the engine owns the raw socket setup
// (SO_REUSEADDR, non-blocking) before handing the descriptor to the daemon,
// rather than going through net.Listen.
func remanagedListenSocket(port int, ipv6 bool) (int, error) {
	domain := unix.AF_INET
	if ipv6 {
		domain = unix.AF_INET6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}

	if ipv6 {
		sa := &unix.SockaddrInet6{Port: port}
		if err := unix.Bind(fd, sa); err != nil {
			unix.Close(fd)
			return -1, err
		}
	} else {
		sa := &unix.SockaddrInet4{Port: port}
		if err := unix.Bind(fd, sa); err != nil {
			unix.Close(fd)
			return -1, err
		}
	}

	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return -1, err
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}

	return fd, nil
}

func acceptRaw(lfd int) (int, unix.Sockaddr, error) {
	nfd, sa, err := unix.Accept(lfd)
	if err != nil {
		return -1, nil, err
	}
	if err := unix.SetNonblock(nfd, true); err != nil {
		unix.Close(nfd)
		return -1, nil, err
	}
	return nfd, sa, nil
}

func sockaddrHost(sa unix.Sockaddr) string {
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%d.%d.%d.%d", s.Addr[0], s.Addr[1], s.Addr[2], s.Addr[3])
	case *unix.SockaddrInet6:
		ip := net.IP(s.Addr[:])
		return ip.String()
	default:
		return ""
	}
}

func closeRaw(fd int) {
	unix.Close(fd)
}

func fdToConn(fd int) (net.Conn, error) {
	f := os.NewFile(uintptr(fd), "embedserver-conn")
	nc, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return nil, err
	}
	return nc, nil
}
