package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPortScansTOML = `
[[default]]
name = "quick-tcp"
command = "nmap {nmap_extra} -sV -oX {scandir}/xml/quick.xml {address}"

[[default]]
name = "full-tcp"
command = "nmap {nmap_extra} -p- -oX {scandir}/xml/full.xml {address}"

[[default.pattern]]
description = "Filtered port noticed: {match}"
pattern = 'filtered'

[[udp]]
name = "top-udp"
command = "nmap {nmap_extra} -sU -oX {scandir}/xml/udp.xml {address}"
`

const testServiceScansTOML = `
username_wordlist = "/lists/users.txt"
password_wordlist = "/lists/passwords.txt"

[[service]]
name = "http"
patterns = ["^http", "^nacn_http$"]

[[service.scan]]
name = "dirbust"
command = "feroxbuster -u {scheme}://{address}:{port}/ -o {scandir}/{port}-dirs.txt"
ports = [80, 443, 8080]

[[service.scan]]
name = "curl-index"
command = "curl -i {scheme}://{address}:{port}/ | tee {scandir}/{port}-index.txt"

[[service.scan.pattern]]
description = "Server header {match}"
pattern = 'Server: \S+'

[[service.manual]]
description = "Inspect the site in a browser"
commands = ["firefox {scheme}://{address}:{port}/"]

[[service]]
name = "smb"
patterns = ["^smb", "^microsoft-ds", "^netbios"]

[[service.scan]]
name = "enum4linux"
command = "enum4linux -a {address} | tee {scandir}/enum4linux.txt"
run_once = true
`

const testUniversalTOML = `
[[pattern]]
description = "Credential material: {match}"
pattern = 'password'
`

func writeScanDocs(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, PortScansFile), []byte(testPortScansTOML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ServiceScansFile), []byte(testServiceScansTOML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, UniversalPatternsFile), []byte(testUniversalTOML), 0o644))
	return dir
}

func TestLoadScanConfig(t *testing.T) {
	cfg, err := LoadScanConfig(writeScanDocs(t))
	require.NoError(t, err)

	t.Run("port scans keep declared order", func(t *testing.T) {
		scans, err := cfg.PortScansFor("default")
		require.NoError(t, err)
		require.Len(t, scans, 2)
		assert.Equal(t, "quick-tcp", scans[0].Name)
		assert.Equal(t, "full-tcp", scans[1].Name)
		assert.Len(t, scans[1].CompiledRules(), 1)
	})

	t.Run("alternate scan type", func(t *testing.T) {
		scans, err := cfg.PortScansFor("udp")
		require.NoError(t, err)
		require.Len(t, scans, 1)
		assert.Equal(t, "top-udp", scans[0].Name)
	})

	t.Run("unknown scan type", func(t *testing.T) {
		_, err := cfg.PortScansFor("stealth")
		assert.Error(t, err)
	})

	t.Run("wordlists", func(t *testing.T) {
		assert.Equal(t, "/lists/users.txt", cfg.UsernameWordlist)
		assert.Equal(t, "/lists/passwords.txt", cfg.PasswordWordlist)
	})

	t.Run("service categories keep declared order and all fields", func(t *testing.T) {
		require.Len(t, cfg.Services, 2)

		http := cfg.Services[0]
		assert.Equal(t, "http", http.Name)
		require.Len(t, http.Scans, 2)
		assert.Equal(t, "dirbust", http.Scans[0].Name)
		assert.Equal(t, []int{80, 443, 8080}, http.Scans[0].Ports)
		assert.Len(t, http.Scans[1].CompiledRules(), 1)
		require.Len(t, http.Manual, 1)
		assert.Equal(t, "Inspect the site in a browser", http.Manual[0].Description)

		smb := cfg.Services[1]
		assert.Equal(t, "smb", smb.Name)
		assert.True(t, smb.Scans[0].RunOnce)
		assert.Empty(t, smb.Manual)
	})

	t.Run("universal patterns compiled", func(t *testing.T) {
		require.Len(t, cfg.UniversalPatterns, 1)
		assert.True(t, cfg.UniversalPatterns[0].Regex.MatchString("default PASSWORD found"))
	})
}

func TestLoadScanConfigMissingDocument(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, PortScansFile), []byte(testPortScansTOML), 0o644))

	_, err := LoadScanConfig(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ServiceScansFile)
	assert.Contains(t, err.Error(), dir)
}

func TestLoadScanConfigBadPattern(t *testing.T) {
	dir := writeScanDocs(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, UniversalPatternsFile), []byte(`
[[pattern]]
description = "broken"
pattern = '[unclosed'
`), 0o644))

	_, err := LoadScanConfig(dir)
	assert.Error(t, err)
}

func TestServiceCategoryMatches(t *testing.T) {
	cfg, err := LoadScanConfig(writeScanDocs(t))
	require.NoError(t, err)

	http := cfg.Services[0]
	assert.True(t, http.Matches("http"))
	assert.True(t, http.Matches("HTTP"))
	assert.True(t, http.Matches("https"))
	assert.False(t, http.Matches("ssh"))

	smb := cfg.Services[1]
	assert.True(t, smb.Matches("microsoft-ds"))
	assert.False(t, smb.Matches("http"))
}

func TestScanDefinitionAppliesTo(t *testing.T) {
	unrestricted := ScanDefinition{}
	assert.True(t, unrestricted.AppliesTo(80, "tcp"))
	assert.True(t, unrestricted.AppliesTo(65535, "udp"))

	byPort := ScanDefinition{Ports: []int{80, 443}}
	assert.True(t, byPort.AppliesTo(443, "tcp"))
	assert.False(t, byPort.AppliesTo(8080, "tcp"))

	byProtocol := ScanDefinition{Protocols: []string{"udp"}}
	assert.True(t, byProtocol.AppliesTo(161, "udp"))
	assert.True(t, byProtocol.AppliesTo(161, "UDP"))
	assert.False(t, byProtocol.AppliesTo(161, "tcp"))

	// A port list alone must not leak across protocols when one is given.
	both := ScanDefinition{Ports: []int{161}, Protocols: []string{"udp"}}
	assert.True(t, both.AppliesTo(161, "udp"))
	assert.False(t, both.AppliesTo(161, "tcp"))
	assert.False(t, both.AppliesTo(162, "udp"))
}
