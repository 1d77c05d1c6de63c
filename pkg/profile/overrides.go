package profile

import (
	"bytes"
	"fmt"
	"net/netip"
	"strings"
	"text/template"

	"vrnode/pkg/defaults"
	"vrnode/pkg/errors"
	"vrnode/pkg/models"
)

const (
	minRAMMB = 256
	maxNICs  = 128
)

// Merge combines two option sets; values set in o2 win.
func Merge(o1, o2 models.Options) models.Options {
	out := o1

	if o2.Hostname != nil {
		out.Hostname = o2.Hostname
	}

	if o2.Username != nil {
		out.Username = o2.Username
	}

	if o2.Password != nil {
		out.Password = o2.Password
	}

	if o2.ConnectionMode != nil {
		out.ConnectionMode = o2.ConnectionMode
	}

	if o2.Variant != nil {
		out.Variant = o2.Variant
	}

	if o2.NICs != nil {
		out.NICs = o2.NICs
	}

	if o2.RAMMB != nil {
		out.RAMMB = o2.RAMMB
	}

	if o2.VCPUs != nil {
		out.VCPUs = o2.VCPUs
	}

	if o2.Install != nil {
		out.Install = o2.Install
	}

	if o2.StartupConfig != nil {
		out.StartupConfig = o2.StartupConfig
	}

	if o2.Licenses != nil {
		out.Licenses = o2.Licenses
	}

	out.Tunables = mergeMaps(o1.Tunables, o2.Tunables)

	return out
}

// ApplyOverrides returns a new profile with options applied on top of
// everything applied to p before. The input profile is not modified.
func ApplyOverrides(p *models.Profile, o models.Options) (*models.Profile, error) {
	base := p.Template
	if base == nil {
		base = p
	}

	return materialize(base, Merge(p.Overrides, o))
}

// materialize renders a template with options into a complete profile.
func materialize(base *models.Profile, o models.Options) (*models.Profile, error) {
	p := clone(base)
	p.Template = base
	p.Overrides = o

	setString(&p.Hostname, o.Hostname)
	setString(&p.Username, o.Username)
	setString(&p.Password, o.Password)
	setString(&p.ConnectionMode, o.ConnectionMode)
	setString(&p.Variant, o.Variant)
	setString(&p.StartupConfigPath, o.StartupConfig)

	if o.Install != nil {
		p.Install = *o.Install
	}

	if o.Licenses != nil {
		p.Licenses = append([]string(nil), o.Licenses...)
	}

	if p.Hostname == "" {
		p.Hostname = defaults.Hostname
	}

	if p.MaxSpins == 0 {
		p.MaxSpins = defaults.MaxSpins
	}

	if p.MaxSidePrompts == 0 {
		p.MaxSidePrompts = defaults.MaxSidePrompts
	}

	if p.StopGrace == 0 {
		p.StopGrace = defaults.StopGrace
	}

	if p.StartupConfigPath == "" {
		p.StartupConfigPath = defaults.StartupConfigFile
	}

	var variantVars map[string]string

	if p.Variant != "" {
		v, ok := base.Variants[p.Variant]
		if !ok {
			return nil, errors.UserInputError{Field: "variant", Reason: fmt.Sprintf("%q is not a variant of %s", p.Variant, p.Family)}
		}

		applyVariant(p, v)
		variantVars = v.Vars
	}

	p.Tunables = mergeMaps(mergeMaps(base.Tunables, variantVars), o.Tunables)

	if err := applySizing(p, o); err != nil {
		return nil, err
	}

	if err := applyMgmt(p); err != nil {
		return nil, err
	}

	if err := render(p); err != nil {
		return nil, errors.ProfileInvalidError{Family: p.Family, Reason: err.Error()}
	}

	return p, nil
}

func applyVariant(p *models.Profile, v models.Variant) {
	if primary := p.Primary(); primary != nil {
		if v.RAMMB > 0 {
			primary.RAMMB = v.RAMMB
		}

		if v.VCPUs > 0 {
			primary.VCPUs = v.VCPUs
			primary.SMP = models.SMPTopology{}
		}
	}

	if traffic := trafficInstance(p); traffic != nil && v.NICs > 0 {
		traffic.NICs = v.NICs
	}
}

func applySizing(p *models.Profile, o models.Options) error {
	primary := p.Primary()
	if primary == nil {
		return errors.ProfileInvalidError{Family: p.Family, Reason: "no instances"}
	}

	if o.RAMMB != nil {
		if *o.RAMMB < minRAMMB {
			return errors.UserInputError{Field: "ram", Reason: fmt.Sprintf("%d MiB is below %d MiB", *o.RAMMB, minRAMMB)}
		}

		primary.RAMMB = *o.RAMMB
	}

	if o.VCPUs != nil {
		if *o.VCPUs < 1 {
			return errors.UserInputError{Field: "vcpu", Reason: "at least one vCPU is required"}
		}

		primary.VCPUs = *o.VCPUs
		primary.SMP = models.SMPTopology{}
	}

	if o.NICs != nil {
		traffic := trafficInstance(p)
		if traffic == nil {
			return errors.UserInputError{Field: "nics", Reason: p.Family + " has no traffic NICs"}
		}

		if *o.NICs < 0 || *o.NICs > maxNICs {
			return errors.UserInputError{Field: "nics", Reason: fmt.Sprintf("%d is outside [0, %d]", *o.NICs, maxNICs)}
		}

		traffic.NICs = *o.NICs
	}

	for i := range p.Instances {
		inst := &p.Instances[i]
		if inst.SMP == (models.SMPTopology{}) {
			inst.SMP = models.SMPTopology{Cores: inst.VCPUs, Threads: 1, Sockets: 1}
		}

		if inst.BusLayout.PerBus == 0 {
			inst.BusLayout.PerBus = 26
		}
	}

	return nil
}

func trafficInstance(p *models.Profile) *models.InstanceSpec {
	for i := range p.Instances {
		if p.Instances[i].Traffic {
			return &p.Instances[i]
		}
	}

	return nil
}

func applyMgmt(p *models.Profile) error {
	if p.MgmtSubnet == "" {
		p.MgmtSubnet = defaults.MgmtSubnet
	}

	prefix, err := netip.ParsePrefix(p.MgmtSubnet)
	if err != nil {
		return errors.ProfileInvalidError{Family: p.Family, Reason: fmt.Sprintf("management subnet: %v", err)}
	}

	if p.MgmtAddress == "" {
		p.MgmtAddress = prefix.Masked().Addr().Next().String()
	}

	return nil
}

// templateData is what bring-up lines, prompts and artifact files can refer to.
type templateData struct {
	Family         string
	Version        string
	Variant        string
	Hostname       string
	Username       string
	Password       string
	ConnectionMode string
	MgmtAddress    string
	MgmtPrefix     int
	MgmtNetmask    string
	MgmtGateway    string
	Image          string
	Tunables       map[string]string
	Licenses       []string
}

func newTemplateData(p *models.Profile) templateData {
	prefix := netip.MustParsePrefix(p.MgmtSubnet)
	network := prefix.Masked().Addr()

	return templateData{
		Family:         p.Family,
		Version:        p.Version,
		Variant:        p.Variant,
		Hostname:       p.Hostname,
		Username:       p.Username,
		Password:       p.Password,
		ConnectionMode: p.ConnectionMode,
		MgmtAddress:    p.MgmtAddress,
		MgmtPrefix:     prefix.Bits(),
		MgmtNetmask:    netmask(prefix.Bits()),
		MgmtGateway:    network.Next().Next().String(),
		Tunables:       p.Tunables,
		Licenses:       p.Licenses,
	}
}

func netmask(bits int) string {
	mask := make([]string, 4)

	for i := 0; i < 4; i++ {
		n := bits - i*8

		switch {
		case n >= 8:
			mask[i] = "255"
		case n <= 0:
			mask[i] = "0"
		default:
			mask[i] = fmt.Sprint(256 - (1 << (8 - n)))
		}
	}

	return strings.Join(mask, ".")
}

// render expands every templated string of the profile.
func render(p *models.Profile) error {
	data := newTemplateData(p)

	var err error

	if p.BringUp, err = renderSteps(p.BringUp, data); err != nil {
		return err
	}

	if p.PostReady, err = renderSteps(p.PostReady, data); err != nil {
		return err
	}

	prompts := []*[]string{
		&p.Prompts.Login, &p.Prompts.Password, &p.Prompts.Ready, &p.Prompts.Error,
		&p.Prompts.Busy, &p.Prompts.NewPass, &p.Prompts.Config,
	}

	for _, list := range prompts {
		if *list, err = renderAll(*list, data); err != nil {
			return err
		}
	}

	for i := range p.Instances {
		inst := &p.Instances[i]
		data.Image = inst.Image

		if inst.ExtraArgs, err = renderAll(inst.ExtraArgs, data); err != nil {
			return err
		}

		artifacts := make([]models.Artifact, 0, len(inst.Artifacts))

		for _, a := range inst.Artifacts {
			if a.Backing, err = renderString(a.Backing, data); err != nil {
				return err
			}

			files := make(map[string]string, len(a.Files))

			for name, content := range a.Files {
				if files[name], err = renderString(content, data); err != nil {
					return fmt.Errorf("artifact %s file %s: %w", a.Path, name, err)
				}
			}

			if len(files) > 0 {
				a.Files = files
			}

			artifacts = append(artifacts, a)
		}

		if len(artifacts) > 0 {
			inst.Artifacts = artifacts
		}
	}

	return nil
}

func renderSteps(steps []models.Step, data templateData) ([]models.Step, error) {
	if steps == nil {
		return nil, nil
	}

	out := make([]models.Step, len(steps))

	for i, s := range steps {
		var err error

		if s.Line, err = renderString(s.Line, data); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}

		if s.ShowCmd, err = renderString(s.ShowCmd, data); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}

		if s.Expect, err = renderString(s.Expect, data); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}

		if s.Patterns, err = renderAll(s.Patterns, data); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}

		out[i] = s
	}

	return out, nil
}

func renderAll(in []string, data templateData) ([]string, error) {
	if in == nil {
		return nil, nil
	}

	out := make([]string, len(in))

	for i, s := range in {
		var err error
		if out[i], err = renderString(s, data); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func renderString(s string, data templateData) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}

	t, err := template.New("").Option("missingkey=zero").Parse(s)
	if err != nil {
		return "", fmt.Errorf("parsing %q: %w", s, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering %q: %w", s, err)
	}

	return buf.String(), nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func mergeMaps(a, b map[string]string) map[string]string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}

	out := make(map[string]string, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}

	for k, v := range b {
		out[k] = v
	}

	return out
}

// clone copies the parts of a profile materialize rewrites.
func clone(p *models.Profile) *models.Profile {
	c := *p
	c.Instances = append([]models.InstanceSpec(nil), p.Instances...)

	for i := range c.Instances {
		c.Instances[i].Artifacts = append([]models.Artifact(nil), p.Instances[i].Artifacts...)
		c.Instances[i].ExtraArgs = append([]string(nil), p.Instances[i].ExtraArgs...)
	}

	c.Licenses = append([]string(nil), p.Licenses...)
	c.Template = nil
	c.Overrides = models.Options{}

	return &c
}
