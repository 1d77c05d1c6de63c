package forward

import (
	"io"
	"net"

	"github.com/sirupsen/logrus"
)

// splice copies both ways until either side breaks, then closes both.
func splice(client, server net.Conn, logger *logrus.Entry) {
	done := make(chan struct{}, 1)

	cp := func(dst, src net.Conn) {
		_, err := io.Copy(dst, src)

		// the connection that breaks first closes both of them
		select {
		case done <- struct{}{}:
			if err != nil {
				logger.WithError(err).Debugf("disconnected from %s", client.RemoteAddr())
			}

			client.Close()
			server.Close()
		default:
		}
	}

	go cp(client, server)
	cp(server, client)
}
