package wifi

import (
	"bufio"
	"errors"
	"io"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"time"
)

// Lease is one entry of a dnsmasq lease file.
type Lease struct {
	Expires  time.Time
	MAC      string
	IP       string
	Hostname string
}

var leaseLine = regexp.MustCompile(`^(\d+)\s+([0-9a-fA-F:]+)\s+(\d+\.\d+\.\d+\.\d+)\s+(\S+)`)

// ParseLeases reads dnsmasq leases from r, skipping entries that expired before now.
// An expiry of 0 means the lease never expires.
func ParseLeases(r io.Reader, now time.Time) ([]Lease, error) {
	var leases []Lease
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		m := leaseLine.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		secs, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		l := Lease{MAC: m[2], IP: m[3], Hostname: m[4]}
		if secs != 0 {
			l.Expires = time.Unix(secs, 0)
			if l.Expires.Before(now) {
				continue
			}
		}
		leases = append(leases, l)
	}
	return leases, scanner.Err()
}

// CountLeases returns the number of active leases in the file at path.
// A missing file counts as zero.
func CountLeases(path string, now time.Time) (int, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	leases, err := ParseLeases(f, now)
	if err != nil {
		return 0, err
	}
	return len(leases), nil
}
