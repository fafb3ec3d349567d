package directory

import (
	"context"
	"fmt"
	"log"
	"net"
	"sort"
	"strings"
)

// Controller is one domain controller candidate.
type Controller struct {
	Host string
	Port uint16
}

func (c Controller) Addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprintf("%d", c.Port))
}

// SRVResolver is the DNS lookup used for controller discovery.
// *net.Resolver satisfies it.
type SRVResolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
}

var _ SRVResolver = (*net.Resolver)(nil)

// DiscoverControllers queries DNS for _ldap._tcp.<domain> SRV records
// and returns controllers sorted by ascending priority, then descending
// weight. A failed or empty lookup yields an empty list, not an error:
// discovery failure is handled the same way as an exhausted failover
// loop.
func DiscoverControllers(ctx context.Context, resolver SRVResolver, domain string) []Controller {
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	_, records, err := resolver.LookupSRV(ctx, "ldap", "tcp", domain)
	if err != nil {
		log.Printf("[Directory] SRV lookup for _ldap._tcp.%s failed: %v", domain, err)
		return nil
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Priority != records[j].Priority {
			return records[i].Priority < records[j].Priority
		}
		return records[i].Weight > records[j].Weight
	})

	controllers := make([]Controller, 0, len(records))
	for _, r := range records {
		controllers = append(controllers, Controller{
			Host: strings.TrimSuffix(r.Target, "."),
			Port: r.Port,
		})
	}
	return controllers
}

// ParseControllerList parses a space-separated "host[:port]" list into
// controllers, defaulting the port to 389.
func ParseControllerList(list string) []Controller {
	var controllers []Controller
	for _, entry := range strings.Fields(list) {
		host, portStr, err := net.SplitHostPort(entry)
		if err != nil {
			// No port in the entry; use the default LDAP port.
			controllers = append(controllers, Controller{Host: entry, Port: 389})
			continue
		}
		var port uint16
		if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
			log.Printf("[Directory] ignoring controller %q: bad port %q", entry, portStr)
			continue
		}
		controllers = append(controllers, Controller{Host: host, Port: port})
	}
	return controllers
}
