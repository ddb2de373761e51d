package workspace

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

func readYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("workspace: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("workspace: parse %s: %w", path, err)
	}
	return nil
}

func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("workspace: marshal %s: %w", path, err)
	}
	return AtomicWriteFile(path, data, 0o644)
}

func (w *Workspace) ReadCompany() (*Company, error) {
	var c Company
	if err := readYAML(w.CompanyYAML(), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (w *Workspace) WriteCompany(c *Company) error {
	return writeYAML(w.CompanyYAML(), c)
}

func (w *Workspace) ReadTeam(teamID string) (*Team, error) {
	var t Team
	if err := readYAML(w.TeamYAML(teamID), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (w *Workspace) WriteTeam(t *Team) error {
	return writeYAML(w.TeamYAML(t.ID), t)
}

func (w *Workspace) ReadAgent(agentID string) (*Agent, error) {
	var a Agent
	if err := readYAML(w.AgentYAML(agentID), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (w *Workspace) WriteAgent(a *Agent) error {
	return writeYAML(w.AgentYAML(a.ID), a)
}

// ListAgentIDs returns every registered agent's ID, in directory order.
func (w *Workspace) ListAgentIDs() ([]string, error) {
	entries, err := os.ReadDir(w.AgentsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

func (w *Workspace) ReadProject(projectID string) (*Project, error) {
	var p Project
	if err := readYAML(w.ProjectYAML(projectID), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (w *Workspace) WriteProject(p *Project) error {
	return writeYAML(w.ProjectYAML(p.ID), p)
}

func (w *Workspace) ReadMachineConfig() (*MachineConfig, error) {
	var m MachineConfig
	if err := readYAML(w.MachineYAML(), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (w *Workspace) WriteMachineConfig(m *MachineConfig) error {
	return writeYAML(w.MachineYAML(), m)
}
