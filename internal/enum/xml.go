package enum

import (
	"encoding/xml"
	"fmt"
	"os"
	"strconv"
)

type nmapRun struct {
	XMLName xml.Name   `xml:"nmaprun"`
	Hosts   []nmapHost `xml:"host"`
}

type nmapHost struct {
	Addresses []nmapAddress `xml:"address"`
	Ports     nmapPorts     `xml:"ports"`
}

type nmapAddress struct {
	Addr     string `xml:"addr,attr"`
	AddrType string `xml:"addrtype,attr"`
}

type nmapPorts struct {
	Ports []nmapPort `xml:"port"`
}

type nmapPort struct {
	Protocol string      `xml:"protocol,attr"`
	PortID   string      `xml:"portid,attr"`
	State    nmapState   `xml:"state"`
	Service  nmapService `xml:"service"`
}

type nmapState struct {
	State string `xml:"state,attr"`
}

type nmapService struct {
	Name    string `xml:"name,attr"`
	Product string `xml:"product,attr"`
	Version string `xml:"version,attr"`
	Tunnel  string `xml:"tunnel,attr"`
}

// DiscoveredService is one port entry pulled out of an nmap XML report.
type DiscoveredService struct {
	Port     int
	Protocol string
	Name     string
	State    string
	Tunnel   string
}

// ParseNmapXML reads an nmap XML report and returns every port entry
// across all hosts. Ports with an unparsable port id are skipped.
func ParseNmapXML(path string) ([]DiscoveredService, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading nmap report %s: %w", path, err)
	}

	var run nmapRun
	if err := xml.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("parsing nmap report %s: %w", path, err)
	}

	var services []DiscoveredService
	for _, host := range run.Hosts {
		for _, port := range host.Ports.Ports {
			portNum, err := strconv.Atoi(port.PortID)
			if err != nil {
				continue
			}
			services = append(services, DiscoveredService{
				Port:     portNum,
				Protocol: port.Protocol,
				Name:     port.Service.Name,
				State:    port.State.State,
				Tunnel:   port.Service.Tunnel,
			})
		}
	}
	return services, nil
}
