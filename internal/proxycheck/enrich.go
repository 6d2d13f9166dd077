package proxycheck

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/oschwald/geoip2-golang"

	"github.com/xkilldash9x/kleinpost/api/schemas"
)

// GeoIP resolves locations from a MaxMind GeoLite2/GeoIP2 City database.
type GeoIP struct {
	reader *geoip2.Reader
}

// OpenGeoIP opens the database at path; "~" is expanded.
func OpenGeoIP(path string) (*GeoIP, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand geoip database path: %w", err)
	}
	reader, err := geoip2.Open(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to open geoip database %s: %w", expanded, err)
	}
	return &GeoIP{reader: reader}, nil
}

// Lookup implements GeoLocator.
func (g *GeoIP) Lookup(ip string) (*schemas.Location, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, fmt.Errorf("invalid IP address %q", ip)
	}
	record, err := g.reader.City(parsed)
	if err != nil {
		return nil, err
	}
	loc := &schemas.Location{
		Country:  record.Country.IsoCode,
		City:     record.City.Names["en"],
		Timezone: record.Location.TimeZone,
	}
	if len(record.Subdivisions) > 0 {
		loc.Region = record.Subdivisions[0].IsoCode
	}
	return loc, nil
}

// Close releases the database.
func (g *GeoIP) Close() error {
	return g.reader.Close()
}

var pingTimeRe = regexp.MustCompile(`time[=<]\s*([\d.]+)\s*ms`)

// systemPinger shells out to the platform ping binary.
type systemPinger struct{}

func (systemPinger) Ping(ctx context.Context, host string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	args := []string{"-c", "1", "-W", "2", host}
	if runtime.GOOS == "windows" {
		args = []string{"-n", "1", "-w", "2000", host}
	}
	out, err := exec.CommandContext(ctx, "ping", args...).Output()
	if err != nil {
		return 0, fmt.Errorf("ping failed: %w", err)
	}
	return parsePingOutput(string(out))
}

func parsePingOutput(out string) (time.Duration, error) {
	m := pingTimeRe.FindStringSubmatch(out)
	if m == nil {
		return 0, errors.New("no round-trip time in ping output")
	}
	ms, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(ms * float64(time.Millisecond)), nil
}
