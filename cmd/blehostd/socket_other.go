//go:build !linux
// +build !linux

package main

import (
	"io"

	"github.com/pkg/errors"
	"github.com/rigado/blehost"
)

func openSocket(int, blehost.Logger) (io.ReadWriteCloser, error) {
	return nil, errors.New("hci user channel sockets need linux")
}
