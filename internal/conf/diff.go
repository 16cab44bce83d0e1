package conf

import "reflect"

// ChangeKind categorises how much of a running engine a config change
// requires tearing down.
type ChangeKind int

const (
	// ChangeNone means the configs are identical.
	ChangeNone ChangeKind = iota
	// ChangeFilterParameters means only parameters of existing filters or
	// processors changed; the pipeline updates in place.
	ChangeFilterParameters
	// ChangeMixerParameters means mixer routing changed; the pipeline is
	// rebuilt without touching devices.
	ChangeMixerParameters
	// ChangePipeline means the step list changed; the pipeline is rebuilt
	// without touching devices.
	ChangePipeline
	// ChangeDevices requires a full restart with device reopen.
	ChangeDevices
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeNone:
		return "None"
	case ChangeFilterParameters:
		return "FilterParameters"
	case ChangeMixerParameters:
		return "MixerParameters"
	case ChangePipeline:
		return "Pipeline"
	case ChangeDevices:
		return "Devices"
	default:
		return "Unknown"
	}
}

// Change is the result of diffing two configurations. Filters and
// Processors are set only for ChangeFilterParameters, Mixers only for
// ChangeMixerParameters.
type Change struct {
	Kind       ChangeKind
	Filters    []string
	Mixers     []string
	Processors []string
}

// Diff compares two configurations and returns the least disruptive change
// category that covers all differences.
func Diff(old, new *Config) Change {
	if old == nil {
		return Change{Kind: ChangeDevices}
	}
	if !reflect.DeepEqual(old.Devices, new.Devices) {
		return Change{Kind: ChangeDevices}
	}
	if !reflect.DeepEqual(old.Pipeline, new.Pipeline) {
		return Change{Kind: ChangePipeline}
	}
	// A filter appearing or disappearing changes the graph even when the
	// step list text is unchanged.
	if !sameKeys(keysOfFilters(old.Filters), keysOfFilters(new.Filters)) ||
		!sameKeys(keysOfMixers(old.Mixers), keysOfMixers(new.Mixers)) ||
		!sameKeys(keysOfProcessors(old.Processors), keysOfProcessors(new.Processors)) {
		return Change{Kind: ChangePipeline}
	}
	var mixers []string
	for name, oldMixer := range old.Mixers {
		if !reflect.DeepEqual(oldMixer, new.Mixers[name]) {
			mixers = append(mixers, name)
		}
	}
	// Mixer routing affects channel masks, so any mixer change forces a
	// rebuild rather than an in-place update.
	if len(mixers) > 0 {
		return Change{Kind: ChangeMixerParameters, Mixers: mixers}
	}
	var filters []string
	for name, oldFilter := range old.Filters {
		if !reflect.DeepEqual(oldFilter, new.Filters[name]) {
			filters = append(filters, name)
		}
	}
	var processors []string
	for name, oldProc := range old.Processors {
		if !reflect.DeepEqual(oldProc, new.Processors[name]) {
			processors = append(processors, name)
		}
	}
	if len(filters) > 0 || len(processors) > 0 {
		return Change{
			Kind:       ChangeFilterParameters,
			Filters:    filters,
			Processors: processors,
		}
	}
	return Change{Kind: ChangeNone}
}

func keysOfFilters(m map[string]FilterConfig) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func keysOfMixers(m map[string]MixerConfig) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func keysOfProcessors(m map[string]ProcessorConfig) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func sameKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, k := range a {
		set[k] = struct{}{}
	}
	for _, k := range b {
		if _, ok := set[k]; !ok {
			return false
		}
	}
	return true
}
