package enum

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleNmapXML = `<?xml version="1.0" encoding="UTF-8"?>
<nmaprun scanner="nmap" args="nmap -sV -oX primary.xml 10.0.0.1">
  <host>
    <address addr="10.0.0.1" addrtype="ipv4"/>
    <ports>
      <port protocol="tcp" portid="22">
        <state state="open" reason="syn-ack"/>
        <service name="ssh" product="OpenSSH" version="8.2p1"/>
      </port>
      <port protocol="tcp" portid="80">
        <state state="open" reason="syn-ack"/>
        <service name="http" product="Apache httpd"/>
      </port>
      <port protocol="tcp" portid="443">
        <state state="open" reason="syn-ack"/>
        <service name="http" tunnel="ssl"/>
      </port>
      <port protocol="tcp" portid="25">
        <state state="closed" reason="reset"/>
        <service name="smtp"/>
      </port>
    </ports>
  </host>
</nmaprun>`

func TestParseNmapXML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "primary.xml")
	require.NoError(t, os.WriteFile(path, []byte(sampleNmapXML), 0o644))

	services, err := ParseNmapXML(path)
	require.NoError(t, err)
	require.Len(t, services, 4)

	assert.Equal(t, DiscoveredService{Port: 22, Protocol: "tcp", Name: "ssh", State: "open"}, services[0])
	assert.Equal(t, DiscoveredService{Port: 80, Protocol: "tcp", Name: "http", State: "open"}, services[1])
	assert.Equal(t, DiscoveredService{Port: 443, Protocol: "tcp", Name: "http", State: "open", Tunnel: "ssl"}, services[2])
	assert.Equal(t, DiscoveredService{Port: 25, Protocol: "tcp", Name: "smtp", State: "closed"}, services[3])
}

func TestParseNmapXMLMissingFile(t *testing.T) {
	_, err := ParseNmapXML(filepath.Join(t.TempDir(), "absent.xml"))
	assert.Error(t, err)
}

func TestParseNmapXMLMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.xml")
	require.NoError(t, os.WriteFile(path, []byte("<nmaprun><host>"), 0o644))

	_, err := ParseNmapXML(path)
	assert.Error(t, err)
}
