package main

import (
	"io"

	"github.com/rigado/blehost"
	"github.com/rigado/blehost/hci/socket"
)

func openSocket(id int, logger blehost.Logger) (io.ReadWriteCloser, error) {
	return socket.Open(id, logger)
}
