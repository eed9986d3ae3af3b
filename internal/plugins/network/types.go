// Package network is the "net" backend. It manages a collection of network
// interfaces keyed by name and implements the PlugTree extension so single
// interfaces can be queried and converged on their own.
package network

import (
	"fmt"
	"sort"

	"github.com/alexisbeaulieu97/stated/internal/config"
)

// Interface types understood by the backend.
const (
	TypeOVSBridge = "ovs-bridge"
	TypeOVSPort   = "ovs-port"
	TypeEthernet  = "ethernet"
	TypeBridge    = "bridge"
	TypeVLAN      = "vlan"
	TypeDummy     = "dummy"
)

// Interface is one managed network interface.
type Interface struct {
	Name      string   `yaml:"name" validate:"required,max=15"`
	Type      string   `yaml:"type" validate:"required,oneof=ovs-bridge ovs-port ethernet bridge vlan dummy"`
	Bridge    string   `yaml:"bridge,omitempty"`
	Parent    string   `yaml:"parent,omitempty"`
	VLANID    int      `yaml:"vlan_id,omitempty" validate:"omitempty,min=1,max=4094"`
	MTU       int      `yaml:"mtu,omitempty" validate:"omitempty,min=68,max=65535"`
	Addresses []string `yaml:"addresses,omitempty" validate:"omitempty,dive,cidr"`
	State     string   `yaml:"state,omitempty" validate:"omitempty,oneof=up down"`
}

// Validate checks field constraints and type-specific requirements.
func (i Interface) Validate() error {
	if err := config.ValidateStruct(&i); err != nil {
		return err
	}
	switch i.Type {
	case TypeOVSPort:
		if i.Bridge == "" {
			return fmt.Errorf("interface %s: ovs-port requires bridge", i.Name)
		}
	case TypeVLAN:
		if i.Parent == "" || i.VLANID == 0 {
			return fmt.Errorf("interface %s: vlan requires parent and vlan_id", i.Name)
		}
	}
	return nil
}

// Config is the "net" domain document.
type Config struct {
	Interfaces []Interface `yaml:"interfaces"`
	// Prune removes live interfaces that are not listed.
	Prune bool `yaml:"prune,omitempty"`
}

// Validate checks every interface and rejects duplicate names.
func (c Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Interfaces))
	for _, iface := range c.Interfaces {
		if err := iface.Validate(); err != nil {
			return err
		}
		if _, dup := seen[iface.Name]; dup {
			return fmt.Errorf("interface %s listed more than once", iface.Name)
		}
		seen[iface.Name] = struct{}{}
	}
	return nil
}

func sortInterfaces(items []Interface) {
	sort.Slice(items, func(a, b int) bool { return items[a].Name < items[b].Name })
}
