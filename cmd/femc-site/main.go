// Command femc-site is a minimal static-file HTTP/1.x server: the reactor
// and buffered I/O packages drive the sockets, httpparser reads the
// requests, and the filesystem under -root answers GET/HEAD.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/pjsaksa/femc-go/bufio"
	"github.com/pjsaksa/femc-go/errstack"
	"github.com/pjsaksa/femc-go/httpparser"
	"github.com/pjsaksa/femc-go/internal/diag"
	"github.com/pjsaksa/femc-go/netutil"
	"github.com/pjsaksa/femc-go/reactor"
)

const connBufferSize = 8 * bufio.MinimumSize

func main() {
	port := flag.Int("port", 8080, "TCP port to listen on")
	root := flag.String("root", ".", "directory to serve files from")
	debug := flag.Bool("debug", false, "print the error stack and abort on the first handler failure")
	flag.Parse()

	logger := diag.New()

	loop, err := reactor.New(reactor.WithDebug(*debug), reactor.WithLogger(logger))
	if err != nil {
		fatal(err)
	}

	listenFD, err := netutil.ListenInet4(uint16(*port), 0)
	if err != nil {
		fatalStack(err)
	}
	defer unix.Close(listenFD)

	docroot, err := filepath.Abs(*root)
	if err != nil {
		fatal(err)
	}

	aac, err := netutil.NewAutoAccept(loop, listenFD, func(fd int) bool {
		acceptConnection(loop, docroot, fd)
		return true
	})
	if err != nil {
		fatalStack(err)
	}
	defer aac.Close()

	logger.Info("serving", map[string]string{"port": fmt.Sprint(*port), "root": docroot})

	if err := loop.Main(reactor.Infinite); err != nil {
		fatalStack(err)
	}
}

// siteConn is one HTTP keep-alive connection. closing marks that the peer's
// half of the stream is gone (EOF or a fatal error) and teardown must wait
// until any response still queued in out has actually drained, instead of
// discarding it: freeing both buffers the moment the read side closes would
// truncate a response that was still in flight.
type siteConn struct {
	fd      int
	in      *bufio.Buffer
	out     *bufio.Buffer
	parser  *httpparser.Parser
	docroot string
	url     string
	method  httpparser.Method
	closing bool
	torn    bool
}

func acceptConnection(loop *reactor.Loop, docroot string, fd int) {
	conn := &siteConn{fd: fd, docroot: docroot}
	conn.parser = httpparser.New(&httpparser.Ops{
		ParseURL: func(method httpparser.Method, rawURL []byte) bool {
			conn.method = method
			conn.url = string(rawURL)
			return true
		},
	})

	out, err := bufio.NewOutput(fd, connBufferSize, loop, func(*bufio.Buffer) bool {
		conn.maybeFinish()
		return true
	}, conn.onClose)
	if err != nil {
		unix.Close(fd)
		return
	}
	conn.out = out

	in, err := bufio.NewInput(fd, connBufferSize, loop, conn.onReadable, conn.onClose)
	if err != nil {
		out.Free()
		unix.Close(fd)
		return
	}
	conn.in = in
}

func (c *siteConn) onReadable(b *bufio.Buffer) bool {
	for {
		data := b.Bytes()
		err := c.parser.Parse(&data)
		b.Consume(b.Len() - len(data))

		switch err {
		case nil:
			c.respond()
			keepAlive := !c.parser.Closing
			c.parser.Reset()
			if !keepAlive {
				c.closing = true
				c.maybeFinish()
				return false
			}
			continue
		case httpparser.ErrNeedMoreData:
			return true
		default:
			c.writeError(err)
			c.closing = true
			c.maybeFinish()
			return false
		}
	}
}

func (c *siteConn) respond() {
	if c.method != httpparser.MethodGet && c.method != httpparser.MethodHead {
		c.writeError(&httpparser.Error{Code: 501, Message: "Method not implemented"})
		return
	}

	path := filepath.Join(c.docroot, filepath.Clean("/"+c.url))
	if path != c.docroot && !strings.HasPrefix(path, c.docroot+string(filepath.Separator)) {
		c.writeError(&httpparser.Error{Code: 403, Message: "Forbidden"})
		return
	}

	f, err := os.Open(path)
	if err != nil {
		c.writeError(&httpparser.Error{Code: 404, Message: "Not Found"})
		return
	}
	defer f.Close()

	body, err := io.ReadAll(f)
	if err != nil {
		c.writeError(&httpparser.Error{Code: 500, Message: "Internal Server Error"})
		return
	}

	head := fmt.Sprintf("%s 200 OK\r\nContent-length: %d\r\n\r\n", c.parser.Version.String(), len(body))
	c.out.Append([]byte(head))
	if c.method == httpparser.MethodGet {
		c.out.Append(body)
	}
	c.out.Touch()
}

func (c *siteConn) writeError(parseErr error) {
	herr, ok := parseErr.(*httpparser.Error)
	if !ok {
		herr = &httpparser.Error{Code: 500, Message: "Internal Server Error"}
	}

	scratch := make([]byte, 512)
	cursor := scratch
	if err := httpparser.ConjureErrorResponse(c.parser, herr.Code, &herr.Message, &cursor); err == nil {
		c.out.Append(scratch[:len(scratch)-len(cursor)])
		c.out.Append([]byte("\r\n"))
		c.out.Append([]byte(herr.Message))
		c.out.Touch()
	}
}

// maybeFinish tears the connection down once the peer is gone and every
// byte queued for it has actually been written.
func (c *siteConn) maybeFinish() {
	if c.closing && c.out.IsEmpty() {
		c.teardown()
	}
}

func (c *siteConn) onClose(*bufio.Buffer, int, error) {
	c.closing = true
	c.maybeFinish()
}

func (c *siteConn) teardown() {
	if c.torn {
		return
	}
	c.torn = true
	c.in.Free()
	c.out.Free()
	unix.Close(c.fd)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "femc-site:", err)
	os.Exit(1)
}

func fatalStack(err error) {
	errstack.PrintStack(os.Stderr)
	fatal(err)
}
