package orchestrator

import (
	"strings"
)

// ParseRing reads `nodetool ring` output and reports which of addresses
// are listed as Up. Addresses not present in the output are down.
func ParseRing(out string, addresses []string) map[string]bool {
	up := make(map[string]bool, len(addresses))
	for _, a := range addresses {
		up[a] = false
	}

	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		addr := strings.TrimPrefix(fields[0], "/")
		if _, ok := up[addr]; !ok {
			continue
		}
		for _, f := range fields[1:] {
			if f == "Up" {
				up[addr] = true
				break
			}
		}
	}
	return up
}
