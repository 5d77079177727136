package monitor

import (
	"context"
	"errors"
	"net/url"
	"sort"

	v2 "github.com/m-lab/locate/api/v2"
)

// DefaultLocateService is the Locate API service used to find a target.
const DefaultLocateService = "ndt/ndt7"

// ErrNoTargets is returned if the Locate API returned no usable server.
var ErrNoTargets = errors.New("no targets available")

// Locator is an interface used to get a list of available servers to measure.
type Locator interface {
	Nearest(ctx context.Context, service string) ([]v2.Target, error)
}

// NearestTarget returns an https target for the nearest server running
// service, according to locator.
func NearestTarget(ctx context.Context, locator Locator, service string) (string, error) {
	targets, err := locator.Nearest(ctx, service)
	if err != nil {
		return "", err
	}
	for _, t := range targets {
		// URLs is a map: sort the keys so that the result is deterministic.
		keys := make([]string, 0, len(t.URLs))
		for k := range t.URLs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			u, err := url.Parse(t.URLs[k])
			if err != nil || u.Hostname() == "" {
				continue
			}
			return "https://" + u.Hostname(), nil
		}
	}
	return "", ErrNoTargets
}
