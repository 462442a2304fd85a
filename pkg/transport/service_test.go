package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoteCreatorIsApplicable(t *testing.T) {
	c := RemoteCreator{Log: zerolog.Nop()}
	tests := []struct {
		name string
		kind Kind
		want bool
	}{
		{"rfc2217://meter.local:2001", KindAny, true},
		{"RFC2217://10.0.0.5:7000", KindAny, true},
		{"rfc2217://10.0.0.5:7000", KindRemote, true},
		{"rfc2217://10.0.0.5:7000", KindLocal, false},
		{"/dev/ttyUSB0", KindAny, false},
		{"COM3", KindAny, false},
		{"tcp://10.0.0.5:7000", KindAny, false},
		{"rfc2217://%zz", KindAny, false},
		{"", KindAny, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.IsApplicable(tt.name, tt.kind))
		})
	}
}

func TestLocalCreatorIsApplicable(t *testing.T) {
	c := LocalCreator{}
	assert.True(t, c.IsApplicable("/dev/ttyUSB0", KindAny))
	assert.True(t, c.IsApplicable("COM3", KindLocal))
	assert.False(t, c.IsApplicable("/dev/ttyUSB0", KindRemote))
	assert.False(t, c.IsApplicable("", KindAny))
}

func TestResolverPicksRemoteBeforeLocal(t *testing.T) {
	r := NewResolver(zerolog.Nop())

	c, err := r.Creator("rfc2217://host:1", KindAny)
	require.NoError(t, err)
	assert.Equal(t, ProtocolRFC2217, c.Protocol())

	c, err = r.Creator("/dev/ttyACM0", KindAny)
	require.NoError(t, err)
	assert.Equal(t, ProtocolLocal, c.Protocol())

	_, err = r.Creator("/dev/ttyACM0", KindRemote)
	assert.ErrorIs(t, err, ErrNoCreator)
}

func TestRemoteCreatorRejectsMissingPort(t *testing.T) {
	_, err := RemoteCreator{Log: zerolog.Nop()}.Create(context.Background(), "rfc2217://host", Options{})
	assert.ErrorIs(t, err, ErrUnsupportedOperation)
}

func TestRemoteCreatorConnectFailureCarriesPortName(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	name := "rfc2217://" + addr
	_, err = RemoteCreator{Log: zerolog.Nop()}.Create(context.Background(), name, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedOperation)
	assert.Contains(t, err.Error(), name)
}

func TestRemoteCreatorNegotiatesAndSetsLine(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want [][]byte
	}{
		{
			name: "8N1 9600",
			opts: Options8N1(9600),
			want: [][]byte{
				{0xff, 0xfa, 44, 1, 0, 0, 0x25, 0x80, 0xff, 0xf0},
				{0xff, 0xfa, 44, 2, 8, 0xff, 0xf0},
				{0xff, 0xfa, 44, 3, 1, 0xff, 0xf0},
				{0xff, 0xfa, 44, 4, 1, 0xff, 0xf0},
			},
		},
		{
			name: "7E1 300",
			opts: Options7E1(300),
			want: [][]byte{
				{0xff, 0xfa, 44, 1, 0, 0, 0x01, 0x2c, 0xff, 0xf0},
				{0xff, 0xfa, 44, 2, 7, 0xff, 0xf0},
				{0xff, 0xfa, 44, 3, 3, 0xff, 0xf0},
				{0xff, 0xfa, 44, 4, 1, 0xff, 0xf0},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ln, err := net.Listen("tcp", "127.0.0.1:0")
			require.NoError(t, err)
			defer ln.Close()

			received := make(chan []byte, 1)
			go func() {
				conn, err := ln.Accept()
				if err != nil {
					return
				}
				defer conn.Close()
				data, _ := io.ReadAll(conn)
				received <- data
			}()

			name := "rfc2217://" + ln.Addr().String()
			tr, err := RemoteCreator{Log: zerolog.Nop()}.Create(context.Background(), name, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, name, tr.Name())
			require.NoError(t, tr.Close())

			data := <-received
			// WILL COM-PORT first, then baud rate and line parameters in order
			assert.True(t, bytes.Contains(data, []byte{0xff, 0xfb, 44}))
			last := -1
			for _, cmd := range tt.want {
				idx := bytes.Index(data, cmd)
				require.GreaterOrEqual(t, idx, 0, "missing % x", cmd)
				assert.Greater(t, idx, last)
				last = idx
			}
		})
	}
}

func TestRemoteCreatorSkipsLineWithoutDataBits(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		received <- data
	}()

	tr, err := RemoteCreator{Log: zerolog.Nop()}.Create(context.Background(), "rfc2217://"+ln.Addr().String(), Options{})
	require.NoError(t, err)
	require.NoError(t, tr.Close())

	data := <-received
	assert.False(t, bytes.Contains(data, []byte{0xff, 0xfa, 44, 1}))
	assert.False(t, bytes.Contains(data, []byte{0xff, 0xfa, 44, 2}))
}

type fakeTransport struct {
	mu     sync.Mutex
	closes int
}

func (f *fakeTransport) Read([]byte) (int, error)    { return 0, io.EOF }
func (f *fakeTransport) Write(b []byte) (int, error) { return len(b), nil }
func (f *fakeTransport) Name() string                { return "fake" }
func (f *fakeTransport) SetBaudRate(uint) error      { return nil }
func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

type fakeCreator struct {
	t   *fakeTransport
	err error
}

func (f fakeCreator) IsApplicable(string, Kind) bool { return true }
func (f fakeCreator) Protocol() string               { return "fake" }
func (f fakeCreator) Create(context.Context, string, Options) (Transport, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.t, nil
}

func TestConnectorCloseIsIdempotent(t *testing.T) {
	ft := &fakeTransport{}
	c := NewConnector(NewResolver(zerolog.Nop(), fakeCreator{t: ft}), "x", Options{})

	tr, err := c.Open(context.Background())
	require.NoError(t, err)
	assert.Same(t, ft, tr)
	assert.Same(t, ft, c.Transport())

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, 1, ft.closes)

	_, err = c.Open(context.Background())
	assert.ErrorIs(t, err, ErrUnsupportedOperation)
}

func TestConnectorCloseAfterFailedOpen(t *testing.T) {
	boom := errors.New("boom")
	c := NewConnector(NewResolver(zerolog.Nop(), fakeCreator{err: boom}), "x", Options{})

	_, err := c.Open(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, c.Transport())
	assert.NoError(t, c.Close())
}

func TestLineOptions(t *testing.T) {
	assert.Equal(t, Options{BaudRate: 300, DataBits: 7, StopBits: 1, Parity: ParityEven}, Options7E1(300))
	assert.Equal(t, Options{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: ParityNone}, Options8N1(9600))
}
