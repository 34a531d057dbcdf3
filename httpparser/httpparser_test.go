package httpparser_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pjsaksa/femc-go/httpparser"
)

func TestParseSimpleGetRequest(t *testing.T) {
	var gotURL []byte
	ops := &httpparser.Ops{
		ParseURL: func(m httpparser.Method, u []byte) bool {
			gotURL = append([]byte(nil), u...)
			return true
		},
	}
	p := httpparser.New(ops)

	buf := []byte("GET /index.html HTTP/1.1\r\nHost: example.com\r\n\r\n")
	err := p.Parse(&buf)
	require.NoError(t, err)
	assert.True(t, p.Done())
	assert.Equal(t, httpparser.MethodGet, p.Method)
	assert.Equal(t, httpparser.Version11, p.Version)
	assert.Equal(t, "/index.html", string(gotURL))
	assert.False(t, p.Closing)
	assert.Empty(t, buf)
}

func TestParseRequiresMoreDataAcrossCalls(t *testing.T) {
	p := httpparser.New(nil)

	buf := []byte("GET / HTTP/1.1\r\nHost: ")
	err := p.Parse(&buf)
	assert.ErrorIs(t, err, httpparser.ErrNeedMoreData)

	buf = append(buf, []byte("example.com\r\n\r\n")...)
	err = p.Parse(&buf)
	require.NoError(t, err)
	assert.True(t, p.Done())
}

func TestParseRejectsUnknownMethod(t *testing.T) {
	p := httpparser.New(nil)
	buf := []byte("PUT / HTTP/1.1\r\n\r\n")
	err := p.Parse(&buf)
	var httpErr *httpparser.Error
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 501, httpErr.Code)
}

func TestParseRejectsBadVersion(t *testing.T) {
	p := httpparser.New(nil)
	buf := []byte("GET / HTTP/9.9\r\n\r\n")
	err := p.Parse(&buf)
	var httpErr *httpparser.Error
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 505, httpErr.Code)
}

func TestParseHandlesObsFoldHeaderContinuation(t *testing.T) {
	var gotValue string
	ops := &httpparser.Ops{
		ParseHeader: func(name, value []byte) bool {
			if string(name) == "x-multi" {
				gotValue = string(value)
			}
			return true
		},
	}
	p := httpparser.New(ops)
	buf := []byte("GET / HTTP/1.1\r\nX-Multi: first\r\n second\r\n\r\n")
	err := p.Parse(&buf)
	require.NoError(t, err)
	assert.Equal(t, "first second", gotValue)
}

func TestParseReadsBodyByContentLength(t *testing.T) {
	var body []byte
	ops := &httpparser.Ops{
		ParseContent: func(chunk []byte) bool {
			body = append(body, chunk...)
			return true
		},
	}
	p := httpparser.New(ops)
	buf := []byte("POST /submit HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello")
	err := p.Parse(&buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
	assert.True(t, p.Done())
}

func TestParseRejectsOversizedContentLength(t *testing.T) {
	p := httpparser.New(nil)
	buf := []byte("POST / HTTP/1.1\r\nContent-Length: 999999999\r\n\r\n")
	err := p.Parse(&buf)
	var httpErr *httpparser.Error
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 413, httpErr.Code)
}

func TestConjureErrorResponseDefaultBody(t *testing.T) {
	p := httpparser.New(nil)
	buf := []byte("GET / HTTP/1.1\r\n\r\n")
	require.NoError(t, p.Parse(&buf))

	out := make([]byte, 256)
	cursor := out
	err := httpparser.ConjureErrorResponse(p, 404, nil, &cursor)
	require.NoError(t, err)

	written := out[:len(out)-len(cursor)]
	assert.Contains(t, string(written), "HTTP/1.1 404 Not Found")
	assert.Contains(t, string(written), "Content-length: 9")
}

func TestConjureErrorResponseOverflow(t *testing.T) {
	p := httpparser.New(nil)
	buf := []byte("GET / HTTP/1.0\r\n\r\n")
	require.NoError(t, p.Parse(&buf))

	out := make([]byte, 4)
	cursor := out
	err := httpparser.ConjureErrorResponse(p, 500, nil, &cursor)
	assert.Error(t, err)
}

func TestReasonPhraseUnknown(t *testing.T) {
	assert.Empty(t, httpparser.ReasonPhrase(999))
}
