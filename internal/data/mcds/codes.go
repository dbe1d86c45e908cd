package mcds

import "strconv"

// Fixed PhysiCell code tables, from PhysiCell/core/PhysiCell_constants.h.
// These are process-wide constant data; unknown codes pass through unchanged.

var cycleModels = map[int]string{
	0: "advanced_Ki67_cycle_model",
	1: "basic_Ki67_cycle_model",
	2: "flow_cytometry_cycle_model",
	3: "live_apoptotic_cycle_model",
	4: "total_cells_cycle_model",
	5: "live_cells_cycle_model",
	6: "flow_cytometry_separated_cycle_model",
	7: "cycling_quiescent_model",
}

var deathModels = map[int]string{
	100:  "apoptosis_death_model",
	101:  "necrosis_death_model",
	102:  "autophagy_death_model",
	9999: "custom_cycle_model",
}

var cyclePhases = map[int]string{
	0:    "Ki67_positive_premitotic",
	1:    "Ki67_positive_postmitotic",
	2:    "Ki67_positive",
	3:    "Ki67_negative",
	4:    "G0G1_phase",
	5:    "G0_phase",
	6:    "G1_phase",
	7:    "G1a_phase",
	8:    "G1b_phase",
	9:    "G1c_phase",
	10:   "S_phase",
	11:   "G2M_phase",
	12:   "G2_phase",
	13:   "M_phase",
	14:   "live",
	15:   "G1pm_phase",
	16:   "G1ps_phase",
	17:   "cycling",
	18:   "quiescent",
	9999: "custom_phase",
}

var deathPhases = map[int]string{
	100: "apoptotic",
	101: "necrotic_swelling",
	102: "necrotic_lysed",
	103: "necrotic",
	104: "debris",
}

// Variable taxonomy: how a declared cell variable expands into columns.

var perSubstrateVars = map[string]bool{
	"chemotactic_sensitivities":          true,
	"fraction_released_at_death":         true,
	"fraction_transferred_when_ingested": true,
	"internalized_total_substrates":      true,
	"net_export_rates":                   true,
	"saturation_densities":               true,
	"secretion_rates":                    true,
	"uptake_rates":                       true,
}

var perDeathModelVars = map[string]bool{
	"death_rates": true,
}

var perCellTypeVars = map[string]bool{
	"attack_rates":              true,
	"cell_adhesion_affinities":  true,
	"fusion_rates":              true,
	"live_phagocytosis_rates":   true,
	"transformation_rates":      true,
}

var spatialVars = map[string]bool{
	"migration_bias_direction": true,
	"motility_vector":          true,
	"orientation":              true,
	"position":                 true,
	"velocity":                 true,
}

// declaredTypes is the fixed variable→type table for known simulator fields.
var declaredTypes = map[string]ColumnKind{
	// integer
	"cell_count_voxel":              KindInt,
	"chemotaxis_index":              KindInt,
	"maximum_number_of_attachments": KindInt,
	"number_of_nuclei":              KindInt,
	// boolean
	"contact_with_basement_membrane": KindBool,
	"dead":                           KindBool,
	"is_motile":                      KindBool,
	// categorical
	"cell_type":           KindLabel,
	"current_death_model": KindLabel,
	"current_phase":       KindLabel,
	"cycle_model":         KindLabel,
}

// translateCode resolves an integer code against the given tables in order.
// An unmapped code passes through as its decimal representation.
func translateCode(code int, tables ...map[int]string) string {
	for _, t := range tables {
		if label, ok := t[code]; ok {
			return label
		}
	}
	return strconv.Itoa(code)
}
