// Command femc-echo is a TCP echo server built directly on the reactor and
// buffered I/O packages: every byte a client sends is written straight back
// to it.
package main

import (
	"flag"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/pjsaksa/femc-go/bufio"
	"github.com/pjsaksa/femc-go/errstack"
	"github.com/pjsaksa/femc-go/internal/diag"
	"github.com/pjsaksa/femc-go/netutil"
	"github.com/pjsaksa/femc-go/reactor"
)

const connBufferSize = 4 * bufio.MinimumSize

func main() {
	port := flag.Int("port", 7777, "TCP port to listen on")
	local := flag.Bool("local", false, "bind to loopback only instead of all interfaces")
	debug := flag.Bool("debug", false, "print the error stack and abort on the first handler failure")
	flag.Parse()

	logger := diag.New()

	loop, err := reactor.New(reactor.WithDebug(*debug), reactor.WithLogger(logger))
	if err != nil {
		fatal(err)
	}

	var listenOpts netutil.SocketOption
	if *local {
		listenOpts |= netutil.Local
	}

	listenFD, err := netutil.ListenInet4(uint16(*port), listenOpts)
	if err != nil {
		fatalStack(err)
	}
	defer unix.Close(listenFD)

	aac, err := netutil.NewAutoAccept(loop, listenFD, func(fd int) bool {
		acceptConnection(loop, logger, fd)
		return true
	})
	if err != nil {
		fatalStack(err)
	}
	defer aac.Close()

	logger.Info("listening", map[string]string{"port": fmt.Sprint(*port)})

	if err := loop.Main(reactor.Infinite); err != nil {
		fatalStack(err)
	}
}

// echoConn ties together the two halves of one connection's buffered I/O
// and tears both down exactly once, however the teardown was triggered.
type echoConn struct {
	fd   int
	in   *bufio.Buffer
	out  *bufio.Buffer
	torn bool
}

func (c *echoConn) teardown(*bufio.Buffer, int, error) {
	if c.torn {
		return
	}
	c.torn = true
	c.in.Free()
	c.out.Free()
	unix.Close(c.fd)
}

func acceptConnection(loop *reactor.Loop, logger *diag.Logger, fd int) {
	conn := &echoConn{fd: fd}

	out, err := bufio.NewOutput(fd, connBufferSize, loop, nil, conn.teardown)
	if err != nil {
		unix.Close(fd)
		return
	}
	conn.out = out

	in, err := bufio.NewInput(fd, connBufferSize, loop, func(b *bufio.Buffer) bool {
		bufio.Transfer(conn.out, b)
		return conn.out.Touch()
	}, conn.teardown)
	if err != nil {
		out.Free()
		unix.Close(fd)
		return
	}
	conn.in = in

	logger.Info("connection accepted", map[string]string{"fd": fmt.Sprint(fd)})
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "femc-echo:", err)
	os.Exit(1)
}

func fatalStack(err error) {
	errstack.PrintStack(os.Stderr)
	fatal(err)
}
