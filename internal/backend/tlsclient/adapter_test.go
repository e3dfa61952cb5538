package tlsclient

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/doomsday-project/doomsday/internal/backend"
)

func TestNewRequiresTargets(t *testing.T) {
	_, err := New(hclog.NewNullLogger(), "t1", map[string]interface{}{})
	require.Error(t, err)
}

func selfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func TestListFetchesLeafCertificate(t *testing.T) {
	cert := selfSignedCert(t)
	listener, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	host, portStr, err := net.SplitHostPort(listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	a, err := New(hclog.NewNullLogger(), "t1", map[string]interface{}{
		"targets": []map[string]interface{}{
			{"host": host, "port": port},
		},
		"insecure_skip_verify": true,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	items, errc := a.List(ctx)
	var got []backend.PEMItem
	for item := range items {
		got = append(got, item)
	}
	require.NoError(t, <-errc)
	require.Len(t, got, 1)
	require.Equal(t, listener.Addr().String(), got[0].Path.Path)
	require.Contains(t, string(got[0].PEM), "-----BEGIN CERTIFICATE-----")
}

func TestTargetServerNameOverridesSNI(t *testing.T) {
	target := Target{Host: "10.0.0.1", Port: 443, ServerName: "internal.example.com"}
	require.Equal(t, "internal.example.com", target.sni())
	require.Equal(t, "10.0.0.1:443", target.addr())

	bare := Target{Host: "10.0.0.1", Port: 443}
	require.Equal(t, "10.0.0.1", bare.sni())
}
