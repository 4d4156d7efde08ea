package tlsconfig

import "testing"

func TestClientConfigUsesEmbeddedRootCAByDefault(t *testing.T) {
	cfg, err := ClientConfig("relay.example.org", nil)
	if err != nil {
		t.Fatalf("ClientConfig: %v", err)
	}
	if cfg.RootCAs == nil {
		t.Fatal("expected a non-nil cert pool")
	}
	if cfg.ServerName != "relay.example.org" {
		t.Fatalf("got ServerName %q", cfg.ServerName)
	}
}

func TestClientConfigRejectsGarbagePEM(t *testing.T) {
	if _, err := ClientConfig("x", []byte("not a cert")); err == nil {
		t.Fatal("expected error for invalid PEM")
	}
}

func TestServerConfigRejectsMissingFiles(t *testing.T) {
	if _, err := ServerConfig("/nonexistent/cert.pem", "/nonexistent/key.pem"); err == nil {
		t.Fatal("expected error for missing files")
	}
}
