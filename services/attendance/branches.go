package attendance

import (
	"fmt"
	"regexp"

	"attendance-backend/lib/scrapers/pesu"
)

// Mappings is the branch-to-parameter table loaded from mappings.json5.
// The protocol constants and batch class ids are opaque values observed
// on the portal, they change across terms and are maintained by hand.
type Mappings struct {
	ControllerMode int               `json:"controller_mode"`
	ActionType     int               `json:"action_type"`
	MenuId         int               `json:"menu_id"`
	BatchClassIds  map[string][]int  `json:"batch_class_ids"`
	SubjectNames   map[string]string `json:"subject_names"`
}

// srn pattern, per campus/year/department combinations known to exist:
// PES1UG23: CS, AM
// PES1UG24: CS, AM, BT, ME, EC
// PES2UG23: CS, AM, EC
// PES2UG24: CS, AM, EC
var srnRegex = regexp.MustCompile(
	`^PES(1UG23(CS|AM)|1UG24(CS|AM|BT|ME|EC)|2UG23(CS|AM|EC)|2UG24(CS|AM|EC))\d{3}$`,
)

type ResolutionKind int

const (
	// the srn matched a cohort with configured batch class ids
	ResolutionResolved ResolutionKind = iota
	// the srn matched no known cohort pattern
	ResolutionUnmatched
	// the srn matched but no batch class ids are configured, batch
	// resolution is deferred to runtime discovery
	ResolutionPermissivelyEmpty
)

// BranchConfig is everything the scraper needs to know about one
// student's cohort. Read-only after resolution.
type BranchConfig struct {
	Kind         ResolutionKind
	BranchPrefix string
	Report       pesu.ReportParams
	// ordered candidates, may be empty in permissive mode
	BatchClassIds []int
	SubjectNames  map[string]string
}

// Resolve maps a student srn to its cohort's request parameters. In
// strict mode an unknown srn or a cohort without a batch mapping is a
// ConfigurationError; permissive mode returns an empty candidate list
// instead and lets runtime discovery take over. No network access.
func (m Mappings) Resolve(srn string, permissive bool) (BranchConfig, error) {
	config := BranchConfig{
		Report: pesu.ReportParams{
			ControllerMode: m.ControllerMode,
			ActionType:     m.ActionType,
			MenuId:         m.MenuId,
		},
		SubjectNames: m.SubjectNames,
	}

	groups := srnRegex.FindStringSubmatch(srn)
	if groups == nil {
		if !permissive {
			return config, &ConfigurationError{
				cause: fmt.Errorf("invalid srn format: %q", srn),
			}
		}
		config.Kind = ResolutionUnmatched
		config.BranchPrefix = logSafeSrn(srn)
		return config, nil
	}

	config.BranchPrefix = "PES" + groups[1]
	ids := m.BatchClassIds[config.BranchPrefix]
	if len(ids) == 0 {
		if !permissive {
			return config, &ConfigurationError{
				cause: fmt.Errorf("missing batch class id mapping for branch %q", config.BranchPrefix),
			}
		}
		config.Kind = ResolutionPermissivelyEmpty
		return config, nil
	}

	config.Kind = ResolutionResolved
	config.BatchClassIds = ids
	return config, nil
}

// credentials never appear in logs, only the branch-identifying prefix
func logSafeSrn(srn string) string {
	if len(srn) > 10 {
		return srn[:10]
	}
	return srn
}
