package xref

import (
	"regexp"

	"golang.org/x/sync/errgroup"

	"github.com/lookbusy1344/dexlab/dex"
)

// SearchRegex runs re over every pool entry of the requested kinds across
// dexes, returning an EvidenceStringMatch per hit with a confidence
// level derived from how much of the candidate string the match covers.
// Parallelized across DEX files, mirroring FindReferences.
func (x *Index) SearchRegex(re *regexp.Regexp, kinds []ObjectKind, dexes *dex.MultiDex) []Evidence {
	want := make(map[ObjectKind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}

	sink := &resultSink{}
	var g errgroup.Group
	for _, f := range dexes.Files() {
		f := f
		g.Go(func() error {
			sink.add(searchFile(re, want, f)...)
			return nil
		})
	}
	_ = g.Wait()
	return sink.out
}

func searchFile(re *regexp.Regexp, want map[ObjectKind]bool, f *dex.File) []Evidence {
	var out []Evidence

	if want[KindString] {
		for i := 0; i < f.Strings.Len(); i++ {
			s := f.Strings.Get(uint32(i))
			if ev, ok := matchCandidate(re, s, Context{Kind: KindString, StringValue: s},
				Location{Kind: LocationStringSlot, DexID: f.ID()}); ok {
				out = append(out, ev)
			}
		}
	}

	if want[KindType] || want[KindClass] {
		for i := 0; i < f.Types.Len(); i++ {
			name := f.Types.Name(uint32(i))
			candidate := stripDescriptor(name)
			kind := KindType
			if want[KindClass] && !want[KindType] {
				kind = KindClass
			}
			if ev, ok := matchCandidate(re, candidate, Context{Kind: kind, ClassName: name},
				Location{Kind: LocationFieldDef, DexID: f.ID(), ClassName: name}); ok {
				out = append(out, ev)
			}
		}
	}

	if want[KindMethod] {
		for i := 0; i < f.Methods.Len(); i++ {
			m := f.Methods.Get(uint32(i))
			name := f.Methods.Name(uint32(i))
			className := f.Types.Name(m.ClassType)
			if ev, ok := matchCandidate(re, name, Context{Kind: KindMethod, ClassName: className, MethodName: name},
				Location{Kind: LocationFieldDef, DexID: f.ID(), ClassName: className}); ok {
				out = append(out, ev)
			}
		}
	}

	if want[KindField] || want[KindStaticField] {
		for i := 0; i < f.Fields.Len(); i++ {
			fd := f.Fields.Get(uint32(i))
			name := f.Fields.Name(uint32(i))
			className := f.Types.Name(fd.ClassType)
			if ev, ok := matchCandidate(re, name, Context{Kind: KindField, ClassName: className, FieldName: name},
				Location{Kind: LocationFieldDef, DexID: f.ID(), ClassName: className}); ok {
				out = append(out, ev)
			}
		}
	}

	if want[KindProto] {
		for i := 0; i < f.Protos.Len(); i++ {
			name := f.Protos.Name(uint32(i))
			if ev, ok := matchCandidate(re, name, Context{Kind: KindProto, ProtoName: name},
				Location{Kind: LocationFieldDef, DexID: f.ID()}); ok {
				out = append(out, ev)
			}
		}
	}

	if want[KindStaticField] {
		for _, cd := range f.Classes.All() {
			for _, v := range cd.StaticValues {
				if v.Str == 0 {
					continue
				}
				s := f.Strings.Get(v.Str)
				if ev, ok := matchCandidate(re, s, Context{Kind: KindStaticField, ClassName: cd.Name, StringValue: s},
					Location{Kind: LocationFieldDef, DexID: f.ID(), ClassName: cd.Name}); ok {
					out = append(out, ev)
				}
			}
		}
	}

	return out
}

func matchCandidate(re *regexp.Regexp, candidate string, ctx Context, loc Location) (Evidence, bool) {
	m := re.FindString(candidate)
	if m == "" {
		return Evidence{}, false
	}
	return Evidence{
		Kind:       EvidenceStringMatch,
		Context:    ctx,
		Location:   loc,
		Confidence: confidenceFor(m, candidate),
		Detail:     m,
	}, true
}

// confidenceFor grades a match by how much of the candidate it covers: an
// exact whole-string match is the strongest signal a surface search can
// give; a short fragment inside a long identifier is the weakest.
func confidenceFor(match, candidate string) ConfidenceLevel {
	if len(candidate) == 0 {
		return ConfidenceVeryLow
	}
	if match == candidate {
		return ConfidenceVeryHigh
	}
	ratio := float64(len(match)) / float64(len(candidate))
	switch {
	case ratio >= 0.75:
		return ConfidenceHigh
	case ratio >= 0.4:
		return ConfidenceMedium
	case ratio >= 0.15:
		return ConfidenceLow
	default:
		return ConfidenceVeryLow
	}
}
