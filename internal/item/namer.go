package item

import (
	"regexp"
	"strconv"
)

// Namer is the pluggable naming convention used to group raw file paths
// into logical items. Resolve reports the identity key shared by every
// part of the same item, the parts sequence number, and whether the
// path matched a multi-part convention at all. Unmatched paths are
// their own singleton identity.
type Namer interface {
	Resolve(path string) (key string, sequence int, matched bool)
}

// PartNamer resolves item identity by stripping trailing part/volume
// suffixes from file names. The default convention recognizes
// '.partNNN' and numeric split-volume suffixes like '.001'; anything
// else is a singleton. Conventions whose lead volume carries no number
// (rar-style 'x.rar' + 'x.r00' sets) are deliberately not recognized:
// the unnumbered lead cannot be folded into the sequence, and grouping
// the numbered tail alone would assemble the set without its head.
type PartNamer struct {
	patterns []*regexp.Regexp
}

func DefaultNamer() *PartNamer {
	return &PartNamer{
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)^(.+)\.part0*(\d+)$`),
			regexp.MustCompile(`^(.+)\.(\d{3})$`),
		},
	}
}

func (namer *PartNamer) Resolve(path string) (string, int, bool) {
	for _, pattern := range namer.patterns {
		groups := pattern.FindStringSubmatch(path)
		if groups == nil {
			continue
		}

		sequence, err := strconv.Atoi(groups[2])
		if err != nil {
			continue
		}

		return groups[1], sequence, true
	}

	return path, 1, false
}
