package policyconfig

import (
	"fmt"
	"io"
	"strings"

	"audiod/internal/core/domain"
	"audiod/pkg/validation"

	"github.com/spf13/viper"
)

const (
	SinkDocument   = "audiod_sink_volume_policy_config.json"
	SourceDocument = "audiod_source_volume_policy_config.json"

	detailsKey = "streamDetails"
)

// record mirrors one entry of the streamDetails array. Sink documents name
// streams with streamType, source documents with sourceType.
type record struct {
	StreamType       string `mapstructure:"streamType"`
	SourceType       string `mapstructure:"sourceType"`
	Category         string `mapstructure:"category"`
	Priority         int    `mapstructure:"priority"`
	DefaultVolume    int    `mapstructure:"defaultVolume"`
	MinVolume        int    `mapstructure:"minVolume"`
	MaxVolume        *int   `mapstructure:"maxVolume"`
	VolumeAdjustable *bool  `mapstructure:"volumeAdjustable"`
	PolicyVolume     int    `mapstructure:"policyVolume"`
	Ramp             bool   `mapstructure:"ramp"`
	MixerType        string `mapstructure:"mixerType"`
	CurrentVolume    *int   `mapstructure:"currentVolume"`
}

// LoadFile reads one policy document from disk.
func LoadFile(path string, kind domain.StreamKind) ([]domain.StreamPolicy, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read policy document %s: %w", path, err)
	}
	policies, err := decode(v, kind)
	if err != nil {
		return nil, fmt.Errorf("policy document %s: %w", path, err)
	}
	return policies, nil
}

// Load reads one policy document from r.
func Load(r io.Reader, kind domain.StreamKind) ([]domain.StreamPolicy, error) {
	v := viper.New()
	v.SetConfigType("json")
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("failed to parse policy document: %w", err)
	}
	return decode(v, kind)
}

func decode(v *viper.Viper, kind domain.StreamKind) ([]domain.StreamPolicy, error) {
	if !v.IsSet(detailsKey) {
		return nil, fmt.Errorf("missing %q array", detailsKey)
	}

	var records []record
	if err := v.UnmarshalKey(detailsKey, &records); err != nil {
		return nil, fmt.Errorf("failed to decode %q: %w", detailsKey, err)
	}

	policies := make([]domain.StreamPolicy, 0, len(records))
	seen := make(map[domain.StreamID]struct{}, len(records))
	for i, rec := range records {
		p, err := rec.toPolicy(kind)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", detailsKey, i, err)
		}
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("%s[%d]: duplicate stream %q", detailsKey, i, p.ID)
		}
		seen[p.ID] = struct{}{}
		policies = append(policies, p)
	}
	return policies, nil
}

func (r record) toPolicy(kind domain.StreamKind) (domain.StreamPolicy, error) {
	name := r.StreamType
	if name == "" {
		name = r.SourceType
	}
	if err := validation.ValidateStreamType(name); err != nil {
		return domain.StreamPolicy{}, err
	}
	if err := validation.ValidateNonEmptyString(r.Category, "category"); err != nil {
		return domain.StreamPolicy{}, fmt.Errorf("%s: %w", name, err)
	}

	maxVolume := domain.VolumeCeiling
	if r.MaxVolume != nil {
		maxVolume = *r.MaxVolume
	}
	if err := validation.ValidateVolumeBounds(r.MinVolume, r.DefaultVolume, maxVolume, r.PolicyVolume); err != nil {
		return domain.StreamPolicy{}, fmt.Errorf("%s: %w", name, err)
	}

	seed := r.DefaultVolume
	if r.CurrentVolume != nil {
		seed = *r.CurrentVolume
		if seed < r.MinVolume || seed > maxVolume {
			return domain.StreamPolicy{}, fmt.Errorf("%s: currentVolume %d is outside [%d,%d]", name, seed, r.MinVolume, maxVolume)
		}
	}

	backend, err := parseMixerType(r.MixerType)
	if err != nil {
		return domain.StreamPolicy{}, fmt.Errorf("%s: %w", name, err)
	}

	adjustable := true
	if r.VolumeAdjustable != nil {
		adjustable = *r.VolumeAdjustable
	}

	return domain.StreamPolicy{
		ID:                 domain.StreamID(name),
		Kind:               kind,
		Category:           r.Category,
		Priority:           r.Priority,
		DefaultVolume:      r.DefaultVolume,
		MinVolume:          r.MinVolume,
		MaxVolume:          maxVolume,
		VolumeAdjustable:   adjustable,
		PolicyVolume:       r.PolicyVolume,
		RampOnPolicyChange: r.Ramp,
		Backend:            backend,
		SeedVolume:         seed,
	}, nil
}

func parseMixerType(s string) (domain.MixerBackend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "primary":
		return domain.BackendPrimary, nil
	case "legacy":
		return domain.BackendLegacy, nil
	default:
		return "", fmt.Errorf("unknown mixerType %q", s)
	}
}
