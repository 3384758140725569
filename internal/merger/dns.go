package merger

import (
	"regexp"
	"slices"

	"seedemu/internal/emulator"
	"seedemu/internal/layers"
)

// DNSMerger merges zone trees and zone hostings
type DNSMerger struct{}

func (DNSMerger) Name() string        { return "DomainNameServiceMerger" }
func (DNSMerger) TargetLayer() string { return layers.DNSLayer }

func (m DNSMerger) Merge(a, b emulator.Layer) (emulator.Layer, error) {
	da, db, err := cast[*layers.DomainNameService](m, a, b)
	if err != nil {
		return nil, err
	}
	root, err := MergeZones(da.Root, db.Root)
	if err != nil {
		return nil, err
	}
	out := &layers.DomainNameService{Root: root}
	for _, h := range slices.Concat(da.Hostings, db.Hostings) {
		if !slices.Contains(out.Hostings, h) {
			out.Hostings = append(out.Hostings, h)
		}
	}
	return out, nil
}

// MergeZones merges two zone trees depth first. Records and glue records
// are unioned by value and children by label, a first, then b. A child
// label that names a record of the merged parent is a conflict. A nil zone
// merges as an empty one.
func MergeZones(a, b *layers.Zone) (*layers.Zone, error) {
	if a == nil && b == nil {
		return nil, nil
	}
	ref := a
	if ref == nil {
		ref = b
	}
	out := &layers.Zone{Label: ref.Label, Name: ref.Name}
	if err := mergeZone(out, a, b); err != nil {
		return nil, err
	}
	return out, nil
}

func mergeZone(out, a, b *layers.Zone) error {
	var labels []string
	for _, z := range []*layers.Zone{a, b} {
		if z == nil {
			continue
		}
		for _, r := range z.Records {
			out.AddRecord(r)
		}
		for _, r := range z.Gules {
			out.AddGuleRecord(r)
		}
		for _, l := range z.Labels() {
			if !slices.Contains(labels, l) {
				labels = append(labels, l)
			}
		}
	}

	for _, label := range labels {
		ca, cb := childOf(a, label), childOf(b, label)
		ref := ca
		if ref == nil {
			ref = cb
		}
		if record := namedRecord(out.Records, label, ref.Name); record != "" {
			return conflict(zonePath(ref), "ambiguous: %q is both a record and a delegated zone", record)
		}
		child := &layers.Zone{Label: ref.Label, Name: ref.Name}
		if err := mergeZone(child, ca, cb); err != nil {
			return err
		}
		if err := out.AttachChild(child); err != nil {
			return err
		}
	}
	return nil
}

func childOf(z *layers.Zone, label string) *layers.Zone {
	if z == nil {
		return nil
	}
	return z.Child(label)
}

// namedRecord returns the first record whose owner name is label or the fqdn
// of the child zone
func namedRecord(records []string, label, fqdn string) string {
	re := regexp.MustCompile(`^(` + regexp.QuoteMeta(label) + `|` + regexp.QuoteMeta(fqdn) + `)\s+`)
	for _, r := range records {
		if re.MatchString(r) {
			return r
		}
	}
	return ""
}

func zonePath(z *layers.Zone) string {
	return "DomainNameService/zone/" + z.Name
}
