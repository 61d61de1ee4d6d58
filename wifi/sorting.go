package wifi

import "sort"

// SortNetworks sorts networks in place.
// The sorting order is:
// 1. Networks named in preferred, in the order they are listed.
// 2. Other networks by signal strength (strongest first).
// 3. Fallback to SSID alphabetically.
func SortNetworks(networks []Network, preferred []string) {
	rank := make(map[string]int, len(preferred))
	for i, ssid := range preferred {
		if _, ok := rank[ssid]; !ok {
			rank[ssid] = i
		}
	}
	sort.SliceStable(networks, func(i, j int) bool {
		a := networks[i]
		b := networks[j]

		ra, aPreferred := rank[a.SSID]
		rb, bPreferred := rank[b.SSID]
		if aPreferred != bPreferred {
			return aPreferred
		}
		if aPreferred && ra != rb {
			return ra < rb
		}

		if a.Strength != b.Strength {
			return a.Strength > b.Strength
		}
		return a.SSID < b.SSID
	})
}

// Dedupe merges networks with the same SSID, keeping the strongest signal.
func Dedupe(networks []Network) []Network {
	seen := make(map[string]int, len(networks))
	var out []Network
	for _, n := range networks {
		if n.SSID == "" {
			continue
		}
		if i, ok := seen[n.SSID]; ok {
			if n.Strength > out[i].Strength {
				out[i].Strength = n.Strength
			}
			continue
		}
		seen[n.SSID] = len(out)
		out = append(out, n)
	}
	return out
}

// SSIDs returns the names of the networks.
func SSIDs(networks []Network) []string {
	out := make([]string, 0, len(networks))
	for _, n := range networks {
		out = append(out, n.SSID)
	}
	return out
}
