package apiclient_test

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Alia5/VIIPMI/apiclient"
	"github.com/Alia5/VIIPMI/apitypes"
	"github.com/Alia5/VIIPMI/internal/server/api/auth"
)

func readRequest(conn net.Conn) string {
	var buf []byte
	var tmp [1]byte
	for {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if _, err := conn.Read(tmp[:]); err != nil {
			break
		}
		buf = append(buf, tmp[0])
		if tmp[0] == '\x00' {
			break
		}
	}
	return string(buf)
}

func startTestServer(t *testing.T, response string) (addr string, gotReqLine chan string, closeFn func()) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err)
	got := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		got <- readRequest(conn)
		if response != "" {
			_, _ = conn.Write([]byte(response))
		}
	}()
	return ln.Addr().String(), got, func() { _ = ln.Close() }
}

func TestTransportPayloadEncoding(t *testing.T) {
	cases := []struct {
		name         string
		path         string
		params       map[string]string
		payload      any
		expectedLine string
	}{
		{"nil payload", "ping", nil, nil, "ping\x00"},
		{"empty string payload", "ping", nil, "", "ping\x00"},
		{"bytes payload", "echo", nil, []byte("rawbytes"), "echo rawbytes\x00"},
		{"string payload with newline", "echo", nil, "multi\nline", "echo multi\nline\x00"},
		{
			"struct payload json marshaled", "device/{id}/write", map[string]string{"id": "3"},
			apitypes.RegisterWriteRequest{Offset: 1, Value: 0x61},
			"device/3/write {\"offset\":1,\"value\":97}\x00",
		},
		{
			"hex bytes payload", "device/{id}/smbus/write", map[string]string{"id": "0"},
			apitypes.SMBusWriteRequest{Cmd: 2, Data: apitypes.HexBytes{0x02, 0x18, 0x01}},
			"device/0/smbus/write {\"cmd\":2,\"data\":\"021801\"}\x00",
		},
		{"path lowercased", "DEVICE/List", nil, nil, "device/list\x00"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			addr, got, closeFn := startTestServer(t, "ok\n")
			defer closeFn()
			out, err := apiclient.NewTransport(addr).Do(tc.path, tc.payload, tc.params)
			assert.NoError(t, err)
			assert.Equal(t, "ok", out)
			assert.Equal(t, tc.expectedLine, <-got)
		})
	}
}

func TestTransportUnmarshalablePayload(t *testing.T) {
	_, err := apiclient.NewTransport("127.0.0.1:9").Do("echo", make(chan int), nil)
	assert.ErrorContains(t, err, "marshal payload")
}

func TestTransportMultiLineResponse(t *testing.T) {
	resp := "{\n  \"a\": 1,\n  \"b\": 2\n}\n"
	addr, _, closeFn := startTestServer(t, resp)
	defer closeFn()

	out, err := apiclient.NewTransport(addr).Do("echo", nil, nil)
	assert.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": 1,\n  \"b\": 2\n}", out)
}

func TestEncryptedTransport(t *testing.T) {
	echoHandler := func(t *testing.T, conn net.Conn) {
		defer conn.Close()
		r := bufio.NewReader(conn)

		key, err := auth.DeriveKey("test123")
		assert.NoError(t, err)

		ok, err := auth.IsHandshake(r)
		if err != nil || !ok {
			return
		}
		sc, err := auth.ServerHandshake(conn, r, key)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthorized) {
				b, _ := json.Marshal(apitypes.ApiError{Status: 401, Title: "Unauthorized", Detail: err.Error()})
				_, _ = conn.Write(append(b, '\n'))
			}
			return
		}

		line, err := bufio.NewReader(sc).ReadString('\x00')
		if err != nil {
			return
		}
		_, err = sc.Write([]byte(line))
		assert.NoError(t, err)
	}

	cases := []struct {
		name          string
		password      string
		serverHandler func(t *testing.T, conn net.Conn)
		line          string
		expectedErr   string
	}{
		{name: "success", password: "test123", serverHandler: echoHandler, line: "echo hi"},
		{name: "wrong password", password: "wrongpass", serverHandler: echoHandler, expectedErr: "401 Unauthorized: invalid password"},
		{
			name:     "bad handshake response",
			password: "test123",
			serverHandler: func(t *testing.T, conn net.Conn) {
				defer conn.Close()
				_, _ = conn.Write([]byte("NO\x00" + strings.Repeat("x", 32)))
			},
			expectedErr: "invalid handshake response",
		},
		{
			name:     "server closes early",
			password: "test123",
			serverHandler: func(t *testing.T, conn net.Conn) {
				_ = conn.Close()
			},
			expectedErr: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ln, err := net.Listen("tcp", "127.0.0.1:0")
			assert.NoError(t, err)
			defer ln.Close()

			go func() {
				conn, err := ln.Accept()
				if err != nil {
					return
				}
				tc.serverHandler(t, conn)
			}()

			client := apiclient.NewTransportWithPassword(ln.Addr().String(), tc.password)
			path, payload, _ := strings.Cut(tc.line, " ")
			out, err := client.Do(path, payload, nil)

			if tc.name != "success" {
				assert.Error(t, err)
				assert.ErrorContains(t, err, tc.expectedErr)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.line, strings.TrimSuffix(out, "\x00"))
		})
	}
}
