// Package registry tracks which worker nodes have announced themselves to the coordinator.
package registry

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ServiceInstance is one registered worker: its role name and the address it connected from.
type ServiceInstance struct {
	Name string `json:"name"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// InstanceFromAddr builds an instance for a peer address such as "127.0.0.1:50412".
func InstanceFromAddr(name string, addr net.Addr) (ServiceInstance, error) {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return ServiceInstance{Name: name, Host: tcp.IP.String(), Port: tcp.Port}, nil
	}
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return ServiceInstance{}, err
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return ServiceInstance{}, fmt.Errorf("registry: bad port in %q: %w", addr, err)
	}
	return ServiceInstance{Name: name, Host: host, Port: p}, nil
}

// Addr returns host:port, the key an instance is registered under.
func (s ServiceInstance) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

type Registry interface {
	// Register adds instance, replacing any instance with the same address.
	Register(ctx context.Context, instance ServiceInstance) error
	// Deregister removes the instance at addr. Unknown addresses are not an error.
	Deregister(ctx context.Context, addr string) error
	// Discover lists registered instances in registration order.
	Discover(ctx context.Context) ([]ServiceInstance, error)
}

// FormatListing renders instances as "name\thost\tport\n" lines, the body of a ready reply.
func FormatListing(instances []ServiceInstance) []byte {
	var buf bytes.Buffer
	for _, inst := range instances {
		fmt.Fprintf(&buf, "%s\t%s\t%d\n", inst.Name, inst.Host, inst.Port)
	}
	return buf.Bytes()
}

// ParseListing is the inverse of FormatListing.
func ParseListing(body []byte) ([]ServiceInstance, error) {
	var instances []ServiceInstance
	for _, line := range strings.Split(string(body), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 3 {
			return nil, fmt.Errorf("registry: malformed listing line %q", line)
		}
		port, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("registry: malformed port in %q: %w", line, err)
		}
		instances = append(instances, ServiceInstance{Name: fields[0], Host: fields[1], Port: port})
	}
	return instances, nil
}
