package stdio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesprial/admanager-gateway/internal/envelope"
	"github.com/jamesprial/admanager-gateway/internal/transport/transportcore"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echo answers with the request method and path.
var echo = transportcore.DispatcherFunc(func(_ context.Context, req *envelope.Request) envelope.Response {
	return envelope.JSON(http.StatusOK, map[string]any{"method": req.Method, "path": req.Path})
})

func responses(t *testing.T, out string) []envelope.Response {
	t.Helper()
	var got []envelope.Response
	for _, l := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if l == "" {
			continue
		}
		resp, err := envelope.DecodeResponse([]byte(l))
		require.NoError(t, err, "line %q", l)
		got = append(got, resp)
	}
	return got
}

func TestServe_OneResponsePerLine(t *testing.T) {
	t.Parallel()

	in := strings.Join([]string{
		`{"method":"GET","path":"/health"}`,
		``,
		`   `,
		`not json`,
		`{"method":"POST","path":"/orders","body":{"name":"x"}}`,
		`{"method":"GET","path":"/campaigns/7"}`, // no trailing newline
	}, "\n")

	var out bytes.Buffer
	err := Serve(context.Background(), strings.NewReader(in), &out, echo, WithLogger(quietLogger()))
	require.NoError(t, err)

	got := responses(t, out.String())
	require.Len(t, got, 4)
	assert.Equal(t, http.StatusOK, got[0].Status)
	assert.Equal(t, "/health", got[0].Body.(map[string]any)["path"])
	assert.Equal(t, http.StatusBadRequest, got[1].Status)
	assert.Equal(t, "DECODE_ERROR", got[1].Body.(map[string]any)["error"].(map[string]any)["code"])
	assert.Equal(t, "/orders", got[2].Body.(map[string]any)["path"])
	assert.Equal(t, "/campaigns/7", got[3].Body.(map[string]any)["path"])
}

func TestServe_EmptyInput(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	require.NoError(t, Serve(context.Background(), strings.NewReader(""), &out, echo))
	assert.Zero(t, out.Len())
}

func TestServe_CRLF(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	require.NoError(t, Serve(context.Background(), strings.NewReader("{\"method\":\"GET\",\"path\":\"/health\"}\r\n"), &out, echo))
	got := responses(t, out.String())
	require.Len(t, got, 1)
	assert.Equal(t, http.StatusOK, got[0].Status)
}

func TestServe_LineTooLong(t *testing.T) {
	t.Parallel()

	long := `{"method":"GET","path":"/` + strings.Repeat("a", 100) + `"}`
	in := long + "\n" + `{"method":"GET","path":"/x"}` + "\n"

	var out bytes.Buffer
	err := Serve(context.Background(), strings.NewReader(in), &out, echo, WithMaxLineBytes(40), WithLogger(quietLogger()))
	require.NoError(t, err)

	got := responses(t, out.String())
	require.Len(t, got, 2)
	assert.Equal(t, http.StatusBadRequest, got[0].Status)
	assert.Equal(t, http.StatusOK, got[1].Status)
}

func TestServe_FlushesBeforeReadingNext(t *testing.T) {
	t.Parallel()

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	errCh := make(chan error, 1)
	go func() { errCh <- Serve(context.Background(), inR, outW, echo) }()

	replies := bufio.NewReader(outR)
	for _, path := range []string{"/a", "/b"} {
		_, err := io.WriteString(inW, `{"method":"GET","path":"`+path+`"}`+"\n")
		require.NoError(t, err)

		raw, err := replies.ReadBytes('\n')
		require.NoError(t, err)
		resp, err := envelope.DecodeResponse(raw)
		require.NoError(t, err)
		assert.Equal(t, path, resp.Body.(map[string]any)["path"])
	}

	require.NoError(t, inW.Close())
	require.NoError(t, <-errCh)
}

func TestServe_CancelInterruptsPendingRead(t *testing.T) {
	t.Parallel()

	inR, inW := io.Pipe()
	t.Cleanup(func() { _ = inW.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- Serve(ctx, inR, io.Discard, echo) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}

func TestServe_CancelledDuringDispatchWritesNothing(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	d := transportcore.DispatcherFunc(func(context.Context, *envelope.Request) envelope.Response {
		cancel()
		return envelope.JSON(http.StatusOK, map[string]any{})
	})

	var out bytes.Buffer
	err := Serve(ctx, strings.NewReader(`{"method":"GET","path":"/health"}`+"\n"), &out, d)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, out.Len())
}

func TestServe_DispatcherSeesContext(t *testing.T) {
	t.Parallel()

	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")
	var seen any
	d := transportcore.DispatcherFunc(func(ctx context.Context, _ *envelope.Request) envelope.Response {
		seen = ctx.Value(key{})
		return envelope.JSON(http.StatusOK, nil)
	})

	require.NoError(t, Serve(ctx, strings.NewReader(`{"method":"GET","path":"/health"}`), io.Discard, d))
	assert.Equal(t, "v", seen)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestServe_WriteFailure(t *testing.T) {
	t.Parallel()

	err := Serve(context.Background(), strings.NewReader(`{"method":"GET","path":"/health"}`+"\n"), failingWriter{}, echo)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")
}

func TestServe_ReadFailure(t *testing.T) {
	t.Parallel()

	readErr := errors.New("device gone")
	err := Serve(context.Background(), iotest.ErrReader(readErr), io.Discard, echo)
	assert.ErrorIs(t, err, readErr)
}

func TestServe_NilDispatcherPanics(t *testing.T) {
	t.Parallel()

	assert.PanicsWithValue(t, "dispatcher cannot be nil", func() {
		_ = Serve(context.Background(), strings.NewReader(""), io.Discard, nil)
	})
}

func TestReadLine(t *testing.T) {
	t.Parallel()

	r := bufio.NewReaderSize(strings.NewReader("short\n"+strings.Repeat("x", 40)+"\nlast"), 16)

	got, err := readLine(r, 10)
	require.NoError(t, err)
	assert.Equal(t, "short", string(got))

	_, err = readLine(r, 10)
	assert.ErrorIs(t, err, errLineTooLong)

	got, err = readLine(r, 10)
	require.NoError(t, err)
	assert.Equal(t, "last", string(got))

	_, err = readLine(r, 10)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadLine_LimitExcludesTerminator(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{name: "exactly limit with LF", input: "0123456789\n", want: "0123456789"},
		{name: "exactly limit with CRLF", input: "0123456789\r\n", want: "0123456789"},
		{name: "exactly limit at EOF", input: "0123456789", want: "0123456789"},
		{name: "one over with LF", input: "0123456789a\n", wantErr: errLineTooLong},
		{name: "one over with CRLF", input: "0123456789a\r\n", wantErr: errLineTooLong},
		{name: "one over at EOF", input: "0123456789a", wantErr: errLineTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := readLine(bufio.NewReaderSize(strings.NewReader(tt.input), 16), 10)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}
