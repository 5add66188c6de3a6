package scenario

import (
	"bytes"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"path"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type scenarioDoc struct {
	Name   string     `yaml:"Name"`
	Clouds []cloudDoc `yaml:"Clouds"`
	Roles  []roleDoc  `yaml:"Roles"`
}

type cloudDoc struct {
	Name      string      `yaml:"Name"`
	CIDRBlock string      `yaml:"CIDR_Block"`
	Subnets   []subnetDoc `yaml:"Subnets"`
}

type subnetDoc struct {
	Name               string        `yaml:"Name"`
	CIDRBlock          string        `yaml:"CIDR_Block"`
	ProviderID         string        `yaml:"Provider_ID"`
	InternetAccessible bool          `yaml:"Internet_Accessible"`
	Instances          []instanceDoc `yaml:"Instances"`
}

type instanceDoc struct {
	Name               string   `yaml:"Name"`
	OS                 string   `yaml:"OS"`
	IPAddress          string   `yaml:"IP_Address"`
	InternetAccessible bool     `yaml:"Internet_Accessible"`
	Roles              []string `yaml:"Roles"`
}

type roleDoc struct {
	Name     string   `yaml:"Name"`
	Packages []string `yaml:"Packages"`
	Recipes  []string `yaml:"Recipes"`
	Scripts  []string `yaml:"Scripts"`
}

// Load reads the scenario file at path. Scripts and recipes are read from the
// "scripts" and "recipes" directories next to it.
func Load(p string) (*Scenario, error) {
	dir := filepath.Dir(p)
	s, err := LoadFS(os.DirFS(dir), filepath.Base(p))
	if err != nil {
		return nil, err
	}
	s.Dir = dir
	return s, nil
}

// LoadFS reads the scenario file name from fsys.
func LoadFS(fsys fs.FS, name string) (*Scenario, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}

	var doc scenarioDoc
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decoding scenario %s: %w", ErrConfiguration, name, err)
	}

	l := &loader{
		fsys:    fsys,
		dir:     path.Dir(name),
		scripts: make(map[string]*Script),
		recipes: make(map[string]*Recipe),
	}
	return l.scenario(doc)
}

type loader struct {
	fsys    fs.FS
	dir     string
	scripts map[string]*Script
	recipes map[string]*Recipe
}

func (l *loader) scenario(doc scenarioDoc) (*Scenario, error) {
	if err := ValidateName("scenario", doc.Name); err != nil {
		return nil, err
	}
	s := &Scenario{Name: doc.Name}

	for _, rd := range doc.Roles {
		if _, ok := s.Role(rd.Name); ok {
			return nil, fmt.Errorf("%w: duplicate role %q", ErrConfiguration, rd.Name)
		}
		r, err := l.role(rd)
		if err != nil {
			return nil, err
		}
		s.Roles = append(s.Roles, r)
	}

	for _, cd := range doc.Clouds {
		c, err := l.cloud(s, cd)
		if err != nil {
			return nil, err
		}
		s.Clouds = append(s.Clouds, c)
	}

	return s, nil
}

func (l *loader) role(doc roleDoc) (*Role, error) {
	packages := make([]Package, 0, len(doc.Packages))
	for _, name := range doc.Packages {
		packages = append(packages, Package{Name: name})
	}

	recipes := make([]*Recipe, 0, len(doc.Recipes))
	for _, name := range doc.Recipes {
		r, err := l.recipe(name)
		if err != nil {
			return nil, err
		}
		recipes = append(recipes, r)
	}

	scripts := make([]*Script, 0, len(doc.Scripts))
	for _, name := range doc.Scripts {
		s, err := l.script(name)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, s)
	}

	return NewRole(doc.Name, packages, recipes, scripts)
}

func (l *loader) script(name string) (*Script, error) {
	if s, ok := l.scripts[name]; ok {
		return s, nil
	}
	contents, err := l.read("scripts", name)
	if err != nil {
		return nil, err
	}
	s := &Script{Name: name, Contents: contents}
	l.scripts[name] = s
	return s, nil
}

func (l *loader) recipe(name string) (*Recipe, error) {
	if r, ok := l.recipes[name]; ok {
		return r, nil
	}
	contents, err := l.read("recipes", name)
	if err != nil {
		return nil, err
	}
	r := &Recipe{Name: name, Contents: contents}
	l.recipes[name] = r
	return r, nil
}

func (l *loader) read(kind, name string) (string, error) {
	if !fs.ValidPath(name) || path.Base(name) != name {
		return "", fmt.Errorf("%w: invalid %s name %q", ErrConfiguration, kind, name)
	}
	data, err := fs.ReadFile(l.fsys, path.Join(l.dir, kind, name))
	if err != nil {
		return "", fmt.Errorf("%w: reading %s %s: %w", ErrConfiguration, kind, name, err)
	}
	return string(data), nil
}

func (l *loader) cloud(s *Scenario, doc cloudDoc) (*Cloud, error) {
	if err := ValidateName("cloud", doc.Name); err != nil {
		return nil, err
	}
	prefix, err := parsePrefix(doc.CIDRBlock)
	if err != nil {
		return nil, fmt.Errorf("cloud %s: %w", doc.Name, err)
	}
	c := &Cloud{Name: doc.Name, CIDRBlock: prefix, Scenario: s}

	for _, sd := range doc.Subnets {
		sn, err := l.subnet(s, c, sd)
		if err != nil {
			return nil, fmt.Errorf("cloud %s: %w", doc.Name, err)
		}
		c.Subnets = append(c.Subnets, sn)
	}
	return c, nil
}

func (l *loader) subnet(s *Scenario, c *Cloud, doc subnetDoc) (*Subnet, error) {
	if err := ValidateName("subnet", doc.Name); err != nil {
		return nil, err
	}
	prefix, err := parsePrefix(doc.CIDRBlock)
	if err != nil {
		return nil, fmt.Errorf("subnet %s: %w", doc.Name, err)
	}
	sn := &Subnet{
		Name:               doc.Name,
		CIDRBlock:          prefix,
		ProviderID:         doc.ProviderID,
		InternetAccessible: doc.InternetAccessible,
		Cloud:              c,
	}

	for _, id := range doc.Instances {
		inst, err := l.instance(s, sn, id)
		if err != nil {
			return nil, fmt.Errorf("subnet %s: %w", doc.Name, err)
		}
		sn.Instances = append(sn.Instances, inst)
	}
	return sn, nil
}

func (l *loader) instance(s *Scenario, sn *Subnet, doc instanceDoc) (*InstanceConfig, error) {
	if err := ValidateName("instance", doc.Name); err != nil {
		return nil, err
	}
	if doc.OS == "" {
		return nil, fmt.Errorf("%w: instance %s has no OS", ErrConfiguration, doc.Name)
	}

	inst := &InstanceConfig{
		Name:               doc.Name,
		OS:                 doc.OS,
		InternetAccessible: doc.InternetAccessible,
		Subnet:             sn,
	}

	if doc.IPAddress != "" {
		addr, err := netip.ParseAddr(doc.IPAddress)
		if err != nil {
			return nil, fmt.Errorf("%w: instance %s: %w", ErrConfiguration, doc.Name, err)
		}
		if sn.CIDRBlock.IsValid() && !sn.CIDRBlock.Contains(addr) {
			return nil, fmt.Errorf("%w: instance %s address %s is outside subnet %s", ErrConfiguration, doc.Name, addr, sn.CIDRBlock)
		}
		inst.IPAddress = addr
	}

	for _, name := range doc.Roles {
		r, ok := s.Role(name)
		if !ok {
			return nil, fmt.Errorf("%w: instance %s references unknown role %q", ErrConfiguration, doc.Name, name)
		}
		inst.Roles = append(inst.Roles, r)
	}
	return inst, nil
}

func parsePrefix(s string) (netip.Prefix, error) {
	if s == "" {
		return netip.Prefix{}, nil
	}
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return p, nil
}
