package enum

import (
	"regexp"
	"strconv"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z_]+)\}`)

// RenderCommand substitutes {placeholder} tokens with their values. Unknown
// placeholders are left untouched. Substitution is pure: identical inputs
// always yield the identical command string.
func RenderCommand(template string, values map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(token string) string {
		key := token[1 : len(token)-1]
		if value, ok := values[key]; ok {
			return value
		}
		return token
	})
}

// PortScanContext is the substitution environment shared by every primary
// scan. It deliberately has no port: primary commands sweep the whole
// target.
type PortScanContext struct {
	Address   string
	Ports     string
	NmapExtra string
	ScanDir   string
}

func (c PortScanContext) Values() map[string]string {
	return map[string]string{
		"address":    c.Address,
		"ports":      c.Ports,
		"nmap_extra": c.NmapExtra,
		"scandir":    c.ScanDir,
	}
}

// ServiceContext is the substitution environment for one discovered
// service record. Immutable once built; passed by value into command
// rendering.
type ServiceContext struct {
	Address          string
	Port             string
	Protocol         string
	ServiceName      string
	Scheme           string
	Secure           bool
	NmapExtra        string
	ScanDir          string
	UsernameWordlist string
	PasswordWordlist string
}

func (c ServiceContext) Values() map[string]string {
	return map[string]string{
		"address":           c.Address,
		"port":              c.Port,
		"protocol":          c.Protocol,
		"name":              c.ServiceName,
		"scheme":            c.Scheme,
		"secure":            strconv.FormatBool(c.Secure),
		"nmap_extra":        c.NmapExtra,
		"scandir":           c.ScanDir,
		"username_wordlist": c.UsernameWordlist,
		"password_wordlist": c.PasswordWordlist,
	}
}

// deriveScheme inspects the service name and tunnel attribute and decides
// whether follow-up web scans should speak https.
func deriveScheme(serviceName, tunnel string) (scheme string, secure bool) {
	name := strings.ToLower(serviceName)
	secure = tunnel == "ssl" || strings.Contains(name, "ssl") || strings.Contains(name, "tls")
	if secure || strings.Contains(name, "https") {
		return "https", secure
	}
	return "http", secure
}
