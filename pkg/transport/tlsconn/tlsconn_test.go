package tlsconn

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"io"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/qiminjie89/chanswitch/pkg/transport"
	"github.com/qiminjie89/chanswitch/pkg/transport/netconn"
	"github.com/qiminjie89/chanswitch/pkg/transport/transporttest"
	"go.uber.org/zap"
)

// selfSigned 生成仅用于测试的回环地址证书
func selfSigned(t *testing.T) (*tls.Config, *x509.CertPool) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "chanswitch test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}

	pool := x509.NewCertPool()
	pool.AddCert(leaf)
	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}},
		MinVersion:   tls.VersionTLS12,
		// 客户端关闭时接收缓冲区中未读的会话票据会导致 RST
		SessionTicketsDisabled: true,
	}, pool
}

func harness(t *testing.T) transporttest.Harness {
	serverCfg, pool := selfSigned(t)
	return transporttest.Harness{
		NewSwitch: func(t *testing.T, rt *transport.Runtime) *transport.Switch {
			sw, err := NewSwitch(rt, "127.0.0.1:0", Config{
				TLS:              serverCfg,
				HandshakeTimeout: 2 * time.Second,
				Logger:           zap.NewNop(),
			})
			if err != nil {
				t.Fatalf("NewSwitch: %v", err)
			}
			return sw
		},
		Dial: func(t *testing.T, sw *transport.Switch) io.ReadWriteCloser {
			d := &net.Dialer{Timeout: 5 * time.Second}
			conn, err := tls.DialWithDialer(d, "tcp", sw.Addr().String(), &tls.Config{
				RootCAs:    pool,
				ServerName: "localhost",
			})
			if err != nil {
				t.Fatalf("tls dial: %v", err)
			}
			return conn
		},
	}
}

func TestConformance(t *testing.T) {
	transporttest.Run(t, harness(t))
}

func TestAcceptInfoCarriesSessionState(t *testing.T) {
	h := harness(t)
	rt := transporttest.Runtime(t)
	sw := transporttest.Listening(t, h, rt, 1)

	_, info, _ := transporttest.Connect(t, h, sw)
	if info.Backend != Backend {
		t.Errorf("Backend = %q", info.Backend)
	}
	if info.Attrs["tls_version"] == "" || info.Attrs["cipher_suite"] == "" {
		t.Errorf("Attrs = %v", info.Attrs)
	}
	if info.Attrs["server_name"] != "localhost" {
		t.Errorf("server_name = %q", info.Attrs["server_name"])
	}
}

func TestHandshakeFailureIsNotSurfaced(t *testing.T) {
	h := harness(t)
	rt := transporttest.Runtime(t)
	sw := transporttest.Listening(t, h, rt, 4)

	// 明文客户端发送垃圾数据后断开，Accept 应继续等待下一个连接
	bad, err := net.Dial("tcp", sw.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	bad.Write([]byte("GET / HTTP/1.0\r\n\r\n"))
	bad.Close()

	ch, _, client := transporttest.Connect(t, h, sw)
	if _, err := client.Write([]byte("secure")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := transporttest.ReadN(t, ch, 6); string(got) != "secure" {
		t.Fatalf("received %q", got)
	}
}

func TestInterruptDuringHandshake(t *testing.T) {
	h := harness(t)
	rt := transporttest.Runtime(t)
	sw := transporttest.Listening(t, h, rt, 1)

	// 连接后不发起握手，Accept 停在握手阶段
	idle, err := net.Dial("tcp", sw.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer idle.Close()

	done := make(chan error, 1)
	go func() {
		ch, _, err := sw.Accept()
		if ch != nil {
			ch.Destroy()
			err = errors.New("unexpected channel")
		}
		done <- err
	}()

	time.Sleep(100 * time.Millisecond)
	sw.Interrupt()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("accept: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("interrupt did not cancel the handshake")
	}
}

func TestNewSwitchRequiresCertificate(t *testing.T) {
	rt := transporttest.Runtime(t)
	if _, err := NewSwitch(rt, "127.0.0.1:0", Config{TLS: &tls.Config{}}); !errors.Is(err, ErrNoCertificate) {
		t.Fatalf("error = %v, want ErrNoCertificate", err)
	}
}

func TestChannelFromConn(t *testing.T) {
	serverCfg, pool := selfSigned(t)
	rt := transporttest.Runtime(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	clientc := make(chan *tls.Conn, 1)
	go func() {
		c, err := tls.Dial("tcp", ln.Addr().String(), &tls.Config{RootCAs: pool, ServerName: "localhost"})
		if err != nil {
			clientc <- nil
			return
		}
		clientc <- c
	}()

	raw, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	server := tls.Server(raw, serverCfg)
	if err := server.Handshake(); err != nil {
		t.Fatalf("server handshake: %v", err)
	}
	client := <-clientc
	if client == nil {
		t.Fatal("client handshake failed")
	}
	defer client.Close()

	ch, err := ChannelFromConn(rt, server, true)
	if err != nil {
		t.Fatalf("ChannelFromConn: %v", err)
	}
	defer ch.Destroy()

	if _, err := client.Write([]byte("wrapped conn")); err != nil {
		t.Fatalf("client write: %v", err)
	}
	if got := transporttest.ReadN(t, ch, 12); string(got) != "wrapped conn" {
		t.Fatalf("received %q", got)
	}
	if ch.Info().Attrs["tls_version"] == "" {
		t.Errorf("Attrs = %v", ch.Info().Attrs)
	}
}

func TestInterruptAfterHandshakeKeepsConn(t *testing.T) {
	serverCfg, pool := selfSigned(t)
	rt := transporttest.Runtime(t)

	impl := &switchImpl{
		inner:   netconn.NewSwitchImpl("tcp", "127.0.0.1:0", Backend),
		timeout: 2 * time.Second,
		log:     zap.NewNop(),
	}
	// 握手进行中记录一次中断而不取消握手，等价于中断恰好落在握手完成时
	cfg := serverCfg.Clone()
	cfg.GetConfigForClient = func(*tls.ClientHelloInfo) (*tls.Config, error) {
		impl.mu.Lock()
		impl.interrupted = true
		impl.mu.Unlock()
		return nil, nil
	}
	impl.tls = cfg

	sw, err := transport.NewSwitch(rt, impl)
	if err != nil {
		t.Fatalf("NewSwitch: %v", err)
	}
	defer sw.Destroy()
	if err := sw.Listen(1); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	clientc := make(chan *tls.Conn, 1)
	go func() {
		c, err := tls.Dial("tcp", sw.Addr().String(), &tls.Config{RootCAs: pool, ServerName: "localhost"})
		if err != nil {
			clientc <- nil
			return
		}
		clientc <- c
	}()

	ch, _, err := sw.Accept()
	if err != nil || ch != nil {
		t.Fatalf("first accept = %v, %v; want interrupted", ch, err)
	}

	client := <-clientc
	if client == nil {
		t.Fatal("client handshake failed")
	}
	defer client.Close()

	ch, info, err := sw.Accept()
	if err != nil || ch == nil {
		t.Fatalf("second accept = %v, %v; want the handshaken conn", ch, err)
	}
	defer ch.Destroy()
	if info.Attrs["tls_version"] == "" {
		t.Errorf("Attrs = %v", info.Attrs)
	}

	if _, err := client.Write([]byte("kept")); err != nil {
		t.Fatalf("client write: %v", err)
	}
	if got := transporttest.ReadN(t, ch, 4); string(got) != "kept" {
		t.Fatalf("received %q", got)
	}
}
