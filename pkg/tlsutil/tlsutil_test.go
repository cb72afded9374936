package tlsutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TaskforceCobra/instrument-contoller/pkg/security"
)

// generateTestCert creates a self-signed certificate for testing
func generateTestCert(t *testing.T) (certPEM, keyPEM []byte) {
	t.Helper()
	return generateTestCertWithCN(t, "localhost")
}

// generateTestCertWithCN creates a self-signed certificate with a specific CN
func generateTestCertWithCN(t *testing.T, cn string) (certPEM, keyPEM []byte) {
	t.Helper()

	// Generate private key
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	// Create certificate template
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Test Org"},
			CommonName:   cn,
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}

	// Create self-signed certificate
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)

	// Encode certificate to PEM
	certPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: certDER,
	})

	// Encode private key to PEM
	keyPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})

	return certPEM, keyPEM
}

// setupTestFiles creates temporary cert/key files for testing
func setupTestFiles(t *testing.T) (certFile, keyFile, caFile string) {
	t.Helper()

	tmpDir := t.TempDir()

	certPEM, keyPEM := generateTestCert(t)

	certFile = filepath.Join(tmpDir, "cert.pem")
	keyFile = filepath.Join(tmpDir, "key.pem")
	caFile = filepath.Join(tmpDir, "ca.pem")

	require.NoError(t, os.WriteFile(certFile, certPEM, 0644))
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0600))
	require.NoError(t, os.WriteFile(caFile, certPEM, 0644)) // Use same cert as CA for testing

	return certFile, keyFile, caFile
}

func TestLoadServerTLSConfig(t *testing.T) {
	certFile, keyFile, _ := setupTestFiles(t)

	tests := []struct {
		name    string
		cfg     security.ServerTLSConfig
		wantNil bool
		wantErr bool
	}{
		{
			name: "disabled",
			cfg: security.ServerTLSConfig{
				Enabled: false,
			},
			wantNil: true,
			wantErr: false,
		},
		{
			name: "enabled with valid cert",
			cfg: security.ServerTLSConfig{
				Enabled:    true,
				CertFile:   certFile,
				KeyFile:    keyFile,
				MinVersion: "1.3",
			},
			wantNil: false,
			wantErr: false,
		},
		{
			name: "enabled with TLS 1.2",
			cfg: security.ServerTLSConfig{
				Enabled:    true,
				CertFile:   certFile,
				KeyFile:    keyFile,
				MinVersion: "1.2",
			},
			wantNil: false,
			wantErr: false,
		},
		{
			name: "missing cert file",
			cfg: security.ServerTLSConfig{
				Enabled:  true,
				CertFile: "/nonexistent/cert.pem",
				KeyFile:  keyFile,
			},
			wantNil: true,
			wantErr: true,
		},
		{
			name: "missing key file",
			cfg: security.ServerTLSConfig{
				Enabled:  true,
				CertFile: certFile,
				KeyFile:  "/nonexistent/key.pem",
			},
			wantNil: true,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadServerTLSConfig(tt.cfg)

			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, got)
				return
			}

			require.NoError(t, err)

			if tt.wantNil {
				assert.Nil(t, got)
				return
			}

			require.NotNil(t, got)
			assert.NotEmpty(t, got.Certificates)

			// Verify MinVersion
			expectedVersion := parseTLSVersion(tt.cfg.MinVersion)
			assert.Equal(t, expectedVersion, got.MinVersion)
		})
	}
}

func TestLoadClientTLSConfig(t *testing.T) {
	_, _, caFile := setupTestFiles(t)

	tests := []struct {
		name    string
		cfg     security.ClientTLSConfig
		wantErr bool
		checkFn func(*testing.T, *tls.Config)
	}{
		{
			name: "default config with system CA pool",
			cfg:  security.ClientTLSConfig{},
			checkFn: func(t *testing.T, tlsCfg *tls.Config) {
				assert.NotNil(t, tlsCfg.RootCAs)
				assert.Equal(t, uint16(tls.VersionTLS12), tlsCfg.MinVersion)
				assert.False(t, tlsCfg.InsecureSkipVerify)
			},
		},
		{
			name: "with additional CA file",
			cfg: security.ClientTLSConfig{
				CAFiles: []string{caFile},
			},
			checkFn: func(t *testing.T, tlsCfg *tls.Config) {
				assert.NotNil(t, tlsCfg.RootCAs)
			},
		},
		{
			name: "with insecure skip verify",
			cfg: security.ClientTLSConfig{
				InsecureSkipVerify: true,
			},
			checkFn: func(t *testing.T, tlsCfg *tls.Config) {
				assert.True(t, tlsCfg.InsecureSkipVerify)
			},
		},
		{
			name: "with TLS 1.3 minimum",
			cfg: security.ClientTLSConfig{
				MinVersion: "1.3",
			},
			checkFn: func(t *testing.T, tlsCfg *tls.Config) {
				assert.Equal(t, uint16(tls.VersionTLS13), tlsCfg.MinVersion)
			},
		},
		{
			name: "missing CA file",
			cfg: security.ClientTLSConfig{
				CAFiles: []string{"/nonexistent/ca.pem"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadClientTLSConfig(tt.cfg)

			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, got)

			if tt.checkFn != nil {
				tt.checkFn(t, got)
			}
		})
	}
}

func TestParseTLSVersion(t *testing.T) {
	tests := []struct {
		version string
		want    uint16
	}{
		{"1.3", tls.VersionTLS13},
		{"1.2", tls.VersionTLS12},
		{"", tls.VersionTLS12},
		{"invalid", tls.VersionTLS12},
		{"1.0", tls.VersionTLS12},
	}

	for _, tt := range tests {
		t.Run("version_"+tt.version, func(t *testing.T) {
			got := parseTLSVersion(tt.version)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadServerTLSConfigWithMTLS_Disabled(t *testing.T) {
	certFile, keyFile, _ := setupTestFiles(t)

	cfg := security.ServerTLSConfig{
		Enabled:  true,
		CertFile: certFile,
		KeyFile:  keyFile,
	}
	mtlsCfg := security.ServerMTLSConfig{
		Enabled: false,
	}

	got, err := LoadServerTLSConfigWithMTLS(cfg, mtlsCfg)
	require.NoError(t, err)
	require.NotNil(t, got)

	// No client validation when mTLS disabled
	assert.Nil(t, got.ClientCAs)
	assert.Equal(t, tls.NoClientCert, got.ClientAuth)
}

func TestLoadServerTLSConfigWithMTLS_RequireClientCert(t *testing.T) {
	certFile, keyFile, caFile := setupTestFiles(t)

	cfg := security.ServerTLSConfig{
		Enabled:  true,
		CertFile: certFile,
		KeyFile:  keyFile,
	}
	mtlsCfg := security.ServerMTLSConfig{
		Enabled:           true,
		ClientCAFiles:     []string{caFile},
		RequireClientCert: true,
	}

	got, err := LoadServerTLSConfigWithMTLS(cfg, mtlsCfg)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.NotNil(t, got.ClientCAs)
	assert.Equal(t, tls.RequireAndVerifyClientCert, got.ClientAuth)
}

func TestLoadServerTLSConfigWithMTLS_OptionalClientCert(t *testing.T) {
	certFile, keyFile, caFile := setupTestFiles(t)

	cfg := security.ServerTLSConfig{
		Enabled:  true,
		CertFile: certFile,
		KeyFile:  keyFile,
	}
	mtlsCfg := security.ServerMTLSConfig{
		Enabled:           true,
		ClientCAFiles:     []string{caFile},
		RequireClientCert: false,
	}

	got, err := LoadServerTLSConfigWithMTLS(cfg, mtlsCfg)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, tls.VerifyClientCertIfGiven, got.ClientAuth)
}

func TestLoadServerTLSConfigWithMTLS_WithCNWhitelist(t *testing.T) {
	certFile, keyFile, caFile := setupTestFiles(t)

	cfg := security.ServerTLSConfig{
		Enabled:  true,
		CertFile: certFile,
		KeyFile:  keyFile,
	}
	mtlsCfg := security.ServerMTLSConfig{
		Enabled:           true,
		ClientCAFiles:     []string{caFile},
		RequireClientCert: true,
		AllowedClientCNs:  []string{"bench-client"},
	}

	got, err := LoadServerTLSConfigWithMTLS(cfg, mtlsCfg)
	require.NoError(t, err)
	require.NotNil(t, got)

	// CN whitelist installs a custom verifier
	assert.NotNil(t, got.VerifyPeerCertificate)
}

func TestLoadServerTLSConfigWithMTLS_MissingClientCA(t *testing.T) {
	certFile, keyFile, _ := setupTestFiles(t)

	cfg := security.ServerTLSConfig{
		Enabled:  true,
		CertFile: certFile,
		KeyFile:  keyFile,
	}
	mtlsCfg := security.ServerMTLSConfig{
		Enabled:       true,
		ClientCAFiles: []string{"/nonexistent/client-ca.pem"},
	}

	got, err := LoadServerTLSConfigWithMTLS(cfg, mtlsCfg)
	require.Error(t, err)
	assert.Nil(t, got)
}

func TestVerifyAllowedClientCN_Allowed(t *testing.T) {
	certPEM, _ := generateTestCertWithCN(t, "bench-client")

	block, _ := pem.Decode(certPEM)
	require.NotNil(t, block)

	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)

	chains := [][]*x509.Certificate{{cert}}

	err = verifyAllowedClientCN(chains, []string{"other-client", "bench-client"})
	assert.NoError(t, err)
}

func TestVerifyAllowedClientCN_NotAllowed(t *testing.T) {
	certPEM, _ := generateTestCertWithCN(t, "rogue-client")

	block, _ := pem.Decode(certPEM)
	require.NotNil(t, block)

	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)

	chains := [][]*x509.Certificate{{cert}}

	err = verifyAllowedClientCN(chains, []string{"bench-client"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rogue-client")
}

func TestVerifyAllowedClientCN_NoChains(t *testing.T) {
	err := verifyAllowedClientCN(nil, []string{"bench-client"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no verified certificate chains")
}

func TestLoadClientTLSConfigWithMTLS_Disabled(t *testing.T) {
	cfg := security.ClientTLSConfig{}
	mtlsCfg := security.ClientMTLSConfig{
		Enabled: false,
	}

	got, err := LoadClientTLSConfigWithMTLS(cfg, mtlsCfg)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Empty(t, got.Certificates)
}

func TestLoadClientTLSConfigWithMTLS_Enabled(t *testing.T) {
	certFile, keyFile, _ := setupTestFiles(t)

	cfg := security.ClientTLSConfig{}
	mtlsCfg := security.ClientMTLSConfig{
		Enabled:  true,
		CertFile: certFile,
		KeyFile:  keyFile,
	}

	got, err := LoadClientTLSConfigWithMTLS(cfg, mtlsCfg)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Len(t, got.Certificates, 1)
}

func TestLoadClientTLSConfigWithMTLS_MissingCert(t *testing.T) {
	_, keyFile, _ := setupTestFiles(t)

	cfg := security.ClientTLSConfig{}
	mtlsCfg := security.ClientMTLSConfig{
		Enabled:  true,
		CertFile: "/nonexistent/client-cert.pem",
		KeyFile:  keyFile,
	}

	got, err := LoadClientTLSConfigWithMTLS(cfg, mtlsCfg)
	require.Error(t, err)
	assert.Nil(t, got)
}
