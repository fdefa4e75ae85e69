package config

import (
	"fmt"
	"os"

	"github.com/stackhealer/backend-go/internal/domain"
	"gopkg.in/yaml.v3"
)

// InventoryServer is one server entry of the inventory file
type InventoryServer struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Username   string `yaml:"username"`
	Transport  string `yaml:"transport"`
	Namespace  string `yaml:"namespace"`
	Pod        string `yaml:"pod"`
	InstanceID string `yaml:"instance_id"`
}

// InventoryApplication is one application entry of the inventory file
type InventoryApplication struct {
	ID          string             `yaml:"id"`
	Name        string             `yaml:"name"`
	Server      string             `yaml:"server"`
	TechStack   string             `yaml:"tech_stack"`
	Path        string             `yaml:"path"`
	URL         string             `yaml:"url"`
	HealingMode domain.HealingMode `yaml:"healing_mode"`
	// HealerEnabled defaults to true
	HealerEnabled *bool `yaml:"healer_enabled"`
}

// Inventory is the parsed YAML structure:
// servers: [...], applications: [...]
type Inventory struct {
	Servers      []InventoryServer      `yaml:"servers"`
	Applications []InventoryApplication `yaml:"applications"`
}

// LoadInventory parses an inventory file. Returns nil if path is empty.
func LoadInventory(path string) (*Inventory, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inventory file: %w", err)
	}
	return ParseInventory(data)
}

// ParseInventory decodes and validates inventory YAML
func ParseInventory(data []byte) (*Inventory, error) {
	var inv Inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("parse inventory file: %w", err)
	}
	if err := inv.validate(); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (inv *Inventory) validate() error {
	servers := make(map[string]bool)
	for i, s := range inv.Servers {
		if s.ID == "" {
			return fmt.Errorf("server %d: id is required", i)
		}
		if servers[s.ID] {
			return fmt.Errorf("server %q: duplicate id", s.ID)
		}
		servers[s.ID] = true
		switch s.Transport {
		case "", "ssh", "local":
			if s.Transport == "ssh" && s.Host == "" {
				return fmt.Errorf("server %q: host is required for ssh", s.ID)
			}
		case "k8s":
			if s.Pod == "" {
				return fmt.Errorf("server %q: pod is required for k8s", s.ID)
			}
		default:
			return fmt.Errorf("server %q: unknown transport %q", s.ID, s.Transport)
		}
	}

	apps := make(map[string]bool)
	for i, a := range inv.Applications {
		if a.ID == "" {
			return fmt.Errorf("application %d: id is required", i)
		}
		if apps[a.ID] {
			return fmt.Errorf("application %q: duplicate id", a.ID)
		}
		apps[a.ID] = true
		if !servers[a.Server] {
			return fmt.Errorf("application %q: unknown server %q", a.ID, a.Server)
		}
		if a.TechStack == "" {
			return fmt.Errorf("application %q: tech_stack is required", a.ID)
		}
		if a.HealingMode != "" && !a.HealingMode.Valid() {
			return fmt.Errorf("application %q: invalid healing_mode %q", a.ID, a.HealingMode)
		}
	}
	return nil
}

// DomainServers converts the server entries
func (inv *Inventory) DomainServers() []domain.Server {
	out := make([]domain.Server, 0, len(inv.Servers))
	for _, s := range inv.Servers {
		name := s.Name
		if name == "" {
			name = s.ID
		}
		out = append(out, domain.Server{
			ID:         s.ID,
			Name:       name,
			Host:       s.Host,
			Port:       s.Port,
			Username:   s.Username,
			Transport:  s.Transport,
			Namespace:  s.Namespace,
			Pod:        s.Pod,
			InstanceID: s.InstanceID,
		})
	}
	return out
}

// DomainApplications converts the application entries. New applications start
// MANUAL, UNKNOWN and with a closed circuit.
func (inv *Inventory) DomainApplications() []domain.Application {
	out := make([]domain.Application, 0, len(inv.Applications))
	for _, a := range inv.Applications {
		mode := a.HealingMode
		if mode == "" {
			mode = domain.HealingModeManual
		}
		enabled := true
		if a.HealerEnabled != nil {
			enabled = *a.HealerEnabled
		}
		name := a.Name
		if name == "" {
			name = a.ID
		}
		out = append(out, domain.Application{
			ID:              a.ID,
			Name:            name,
			ServerID:        a.Server,
			TechStack:       a.TechStack,
			Path:            a.Path,
			URL:             a.URL,
			HealingMode:     mode,
			IsHealerEnabled: enabled,
			HealthScore:     100,
			HealthStatus:    domain.HealthUnknown,
			CircuitState:    domain.CircuitClosed,
		})
	}
	return out
}
