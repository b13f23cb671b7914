package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "bundler.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

const validConfig = `
httpPort: 3000
networks:
  dev:
    entryPoints:
      - "0x1111111111111111111111111111111111111111"
    relayerPrivateKey: "deadbeef"
    rpcEndpoint: "http://localhost:8545"
    multicallAddress: "0x2222222222222222222222222222222222222222"
    minInclusionDenominator: 10
    maxMempoolSize: 100
`

func TestReadRawAcceptsValidConfig(t *testing.T) {
	path := writeConfig(t, validConfig)

	raw, err := readRaw(path)
	if err != nil {
		t.Fatalf("readRaw: %v", err)
	}
	if raw.HTTPPort != 3000 {
		t.Errorf("HTTPPort = %d, want 3000", raw.HTTPPort)
	}
	net, ok := raw.Networks["dev"]
	if !ok {
		t.Fatal("expected a \"dev\" network entry")
	}
	if net.RPCEndpoint != "http://localhost:8545" {
		t.Errorf("RPCEndpoint = %q", net.RPCEndpoint)
	}
	if len(net.EntryPoints) != 1 {
		t.Errorf("got %d entryPoints, want 1", len(net.EntryPoints))
	}
}

func TestReadRawRejectsMissingHTTPPort(t *testing.T) {
	const body = `
networks:
  dev:
    entryPoints:
      - "0x1111111111111111111111111111111111111111"
    relayerPrivateKey: "deadbeef"
    rpcEndpoint: "http://localhost:8545"
    multicallAddress: "0x2222222222222222222222222222222222222222"
    minInclusionDenominator: 10
    maxMempoolSize: 100
`
	path := writeConfig(t, body)
	if _, err := readRaw(path); err == nil {
		t.Fatal("expected an error for a missing required httpPort")
	}
}

func TestReadRawRejectsInvalidRPCEndpointURL(t *testing.T) {
	const body = `
httpPort: 3000
networks:
  dev:
    entryPoints:
      - "0x1111111111111111111111111111111111111111"
    relayerPrivateKey: "deadbeef"
    rpcEndpoint: "not-a-url"
    multicallAddress: "0x2222222222222222222222222222222222222222"
    minInclusionDenominator: 10
    maxMempoolSize: 100
`
	path := writeConfig(t, body)
	if _, err := readRaw(path); err == nil {
		t.Fatal("expected an error for an invalid rpcEndpoint URL")
	}
}

func TestReadRawRejectsEmptyEntryPoints(t *testing.T) {
	const body = `
httpPort: 3000
networks:
  dev:
    entryPoints: []
    relayerPrivateKey: "deadbeef"
    rpcEndpoint: "http://localhost:8545"
    multicallAddress: "0x2222222222222222222222222222222222222222"
    minInclusionDenominator: 10
    maxMempoolSize: 100
`
	path := writeConfig(t, body)
	if _, err := readRaw(path); err == nil {
		t.Fatal("expected an error for an empty entryPoints list")
	}
}

func TestReadRawMissingFileReturnsError(t *testing.T) {
	if _, err := readRaw(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
