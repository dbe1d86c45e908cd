package mcds

import (
	"encoding/xml"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Param is a scalar physical parameter with its unit string.
type Param struct {
	Value float64
	Units string
}

// SubstrateSpec describes one declared microenvironment variable.
type SubstrateSpec struct {
	ID        int
	Name      string
	Units     string
	Diffusion Param
	Decay     Param
}

// VariableSpec describes one declared per-cell variable label.
type VariableSpec struct {
	Name  string
	Size  int
	Units string
}

// Manifest is the decoded snapshot manifest: everything the output XML
// declares about the snapshot, including the payload file references.
type Manifest struct {
	MultiCellDSVersion string
	PhysiCellVersion   string
	Created            string
	CurrentTime        float64
	TimeUnits          string
	CurrentRuntime     float64
	RuntimeUnits       string
	SpatialUnits       string

	XCoordinates []float64
	YCoordinates []float64
	ZCoordinates []float64
	BoundingBox  [6]float64

	Substrates    []SubstrateSpec
	CellVariables []VariableSpec

	MeshFile          string
	MicroenvFile      string
	CellFile          string
	NeighborGraphFile string
	AttachedGraphFile string
}

// Settings holds the id→name label mappings and custom-attribute names read
// from the optional settings document.
type Settings struct {
	Substrates map[int]string
	CellTypes  map[int]string
	CustomData []string
}

// SubstrateNames returns the substrate labels in id order.
func (s *Settings) SubstrateNames() []string { return namesByID(s.Substrates) }

// CellTypeNames returns the cell type labels in id order.
func (s *Settings) CellTypeNames() []string { return namesByID(s.CellTypes) }

func namesByID(m map[int]string) []string {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = m[id]
	}
	return names
}

// --- output XML schema ---

type xmlCoordinates struct {
	Delimiter string `xml:"delimiter,attr"`
	Text      string `xml:",chardata"`
}

type xmlFileRef struct {
	Filename string `xml:"filename"`
}

type xmlOutput struct {
	XMLName  xml.Name `xml:"MultiCellDS"`
	Version  string   `xml:"version,attr"`
	Metadata struct {
		Software struct {
			Name    string `xml:"name"`
			Version string `xml:"version"`
		} `xml:"software"`
		Created     string `xml:"created"`
		CurrentTime struct {
			Units string `xml:"units,attr"`
			Text  string `xml:",chardata"`
		} `xml:"current_time"`
		CurrentRuntime struct {
			Units string `xml:"units,attr"`
			Text  string `xml:",chardata"`
		} `xml:"current_runtime"`
	} `xml:"metadata"`
	Microenvironment struct {
		Domain struct {
			Mesh struct {
				Units        string         `xml:"units,attr"`
				BoundingBox  xmlCoordinates `xml:"bounding_box"`
				XCoordinates xmlCoordinates `xml:"x_coordinates"`
				YCoordinates xmlCoordinates `xml:"y_coordinates"`
				ZCoordinates xmlCoordinates `xml:"z_coordinates"`
				Voxels       xmlFileRef     `xml:"voxels"`
			} `xml:"mesh"`
			Variables struct {
				Variable []struct {
					Name     string `xml:"name,attr"`
					Units    string `xml:"units,attr"`
					ID       string `xml:"ID,attr"`
					ParamSet struct {
						Diffusion struct {
							Units string `xml:"units,attr"`
							Text  string `xml:",chardata"`
						} `xml:"diffusion_coefficient"`
						Decay struct {
							Units string `xml:"units,attr"`
							Text  string `xml:",chardata"`
						} `xml:"decay_rate"`
					} `xml:"physical_parameter_set"`
				} `xml:"variable"`
			} `xml:"variables"`
			Data xmlFileRef `xml:"data"`
		} `xml:"domain"`
	} `xml:"microenvironment"`
	CellularInformation struct {
		CellPopulations struct {
			CellPopulation struct {
				Custom struct {
					SimplifiedData []struct {
						Source string `xml:"source,attr"`
						Labels struct {
							Label []struct {
								Size  string `xml:"size,attr"`
								Units string `xml:"units,attr"`
								Text  string `xml:",chardata"`
							} `xml:"label"`
						} `xml:"labels"`
						Filename      string     `xml:"filename"`
						NeighborGraph xmlFileRef `xml:"neighbor_graph"`
						AttachedGraph xmlFileRef `xml:"attached_cells_graph"`
					} `xml:"simplified_data"`
				} `xml:"custom"`
			} `xml:"cell_population"`
		} `xml:"cell_populations"`
	} `xml:"cellular_information"`
}

// ParseManifest decodes the snapshot output XML at path.
func ParseManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc xmlOutput
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, &ParseError{File: path, Reason: err.Error()}
	}

	man := &Manifest{
		MultiCellDSVersion: "MultiCellDS_" + doc.Version,
		Created:            doc.Metadata.Created,
		TimeUnits:          doc.Metadata.CurrentTime.Units,
		RuntimeUnits:       doc.Metadata.CurrentRuntime.Units,
		SpatialUnits:       doc.Microenvironment.Domain.Mesh.Units,
	}

	sw := doc.Metadata.Software
	if sw.Name == "" || sw.Version == "" {
		return nil, &ParseError{File: path, Reason: "missing metadata/software name or version"}
	}
	man.PhysiCellVersion = sw.Name + "_" + sw.Version

	if man.CurrentTime, err = parseFloatNode(doc.Metadata.CurrentTime.Text); err != nil {
		return nil, &ParseError{File: path, Reason: "invalid metadata/current_time: " + err.Error()}
	}
	if man.CurrentRuntime, err = parseFloatNode(doc.Metadata.CurrentRuntime.Text); err != nil {
		return nil, &ParseError{File: path, Reason: "invalid metadata/current_runtime: " + err.Error()}
	}

	mesh := doc.Microenvironment.Domain.Mesh
	if man.XCoordinates, err = parseDelimited(mesh.XCoordinates); err != nil {
		return nil, &ParseError{File: path, Reason: "invalid mesh/x_coordinates: " + err.Error()}
	}
	if man.YCoordinates, err = parseDelimited(mesh.YCoordinates); err != nil {
		return nil, &ParseError{File: path, Reason: "invalid mesh/y_coordinates: " + err.Error()}
	}
	if man.ZCoordinates, err = parseDelimited(mesh.ZCoordinates); err != nil {
		return nil, &ParseError{File: path, Reason: "invalid mesh/z_coordinates: " + err.Error()}
	}
	bbox, err := parseDelimited(mesh.BoundingBox)
	if err != nil {
		return nil, &ParseError{File: path, Reason: "invalid mesh/bounding_box: " + err.Error()}
	}
	if len(bbox) != 6 {
		return nil, &ParseError{File: path, Reason: fmt.Sprintf("bounding_box has %d values, expected 6", len(bbox))}
	}
	copy(man.BoundingBox[:], bbox)
	if man.MeshFile = mesh.Voxels.Filename; man.MeshFile == "" {
		return nil, &ParseError{File: path, Reason: "missing mesh/voxels/filename"}
	}
	man.MicroenvFile = doc.Microenvironment.Domain.Data.Filename

	for _, v := range doc.Microenvironment.Domain.Variables.Variable {
		spec := SubstrateSpec{
			Name:  strings.ReplaceAll(v.Name, " ", "_"),
			Units: v.Units,
		}
		if spec.ID, err = strconv.Atoi(strings.TrimSpace(v.ID)); err != nil {
			return nil, &ParseError{File: path, Reason: "invalid substrate ID: " + err.Error()}
		}
		if spec.Diffusion.Value, err = parseFloatNode(v.ParamSet.Diffusion.Text); err != nil {
			return nil, &ParseError{File: path, Reason: fmt.Sprintf("substrate %q: invalid diffusion_coefficient: %v", spec.Name, err)}
		}
		spec.Diffusion.Units = v.ParamSet.Diffusion.Units
		if spec.Decay.Value, err = parseFloatNode(v.ParamSet.Decay.Text); err != nil {
			return nil, &ParseError{File: path, Reason: fmt.Sprintf("substrate %q: invalid decay_rate: %v", spec.Name, err)}
		}
		spec.Decay.Units = v.ParamSet.Decay.Units
		man.Substrates = append(man.Substrates, spec)
	}

	// The cell population carries several simplified_data blocks; the
	// PhysiCell-sourced one holds the full variable set.
	var found bool
	for _, sd := range doc.CellularInformation.CellPopulations.CellPopulation.Custom.SimplifiedData {
		if sd.Source != "PhysiCell" {
			continue
		}
		found = true
		for _, label := range sd.Labels.Label {
			spec := VariableSpec{
				Name:  strings.ReplaceAll(strings.TrimSpace(label.Text), " ", "_"),
				Units: label.Units,
			}
			if spec.Size, err = strconv.Atoi(strings.TrimSpace(label.Size)); err != nil {
				return nil, &ParseError{File: path, Reason: fmt.Sprintf("cell label %q: invalid size: %v", spec.Name, err)}
			}
			man.CellVariables = append(man.CellVariables, spec)
		}
		man.CellFile = sd.Filename
		man.NeighborGraphFile = sd.NeighborGraph.Filename
		man.AttachedGraphFile = sd.AttachedGraph.Filename
		break
	}
	if !found {
		return nil, &ParseError{File: path, Reason: "no PhysiCell simplified_data block in cellular_information"}
	}
	if man.CellFile == "" {
		return nil, &ParseError{File: path, Reason: "missing cell payload filename"}
	}
	if len(man.CellVariables) == 0 {
		return nil, &ParseError{File: path, Reason: "empty cell variable label list"}
	}

	return man, nil
}

// --- settings XML schema ---

type xmlSettings struct {
	XMLName              xml.Name `xml:"PhysiCell_settings"`
	MicroenvironmentSetup struct {
		Variable []struct {
			Name string `xml:"name,attr"`
			ID   string `xml:"ID,attr"`
		} `xml:"variable"`
	} `xml:"microenvironment_setup"`
	CellDefinitions struct {
		CellDefinition []struct {
			Name       string `xml:"name,attr"`
			ID         string `xml:"ID,attr"`
			CustomData struct {
				Inner []xmlAnyElement `xml:",any"`
			} `xml:"custom_data"`
		} `xml:"cell_definition"`
	} `xml:"cell_definitions"`
}

type xmlAnyElement struct {
	XMLName xml.Name
}

// ParseSettings decodes the optional settings document that provides the
// substrate and cell type id→name mappings. Custom per-cell attributes that
// carry no declared scalar type are reported as a warning; callers may
// supply type overrides for them.
func ParseSettings(path string) (*Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc xmlSettings
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, &ParseError{File: path, Reason: err.Error()}
	}

	set := &Settings{
		Substrates: make(map[int]string),
		CellTypes:  make(map[int]string),
	}
	for _, v := range doc.MicroenvironmentSetup.Variable {
		id, err := strconv.Atoi(strings.TrimSpace(v.ID))
		if err != nil {
			return nil, &ParseError{File: path, Reason: "invalid substrate ID: " + err.Error()}
		}
		set.Substrates[id] = strings.ReplaceAll(v.Name, " ", "_")
	}

	custom := make(map[string]bool)
	for _, cd := range doc.CellDefinitions.CellDefinition {
		id, err := strconv.Atoi(strings.TrimSpace(cd.ID))
		if err != nil {
			return nil, &ParseError{File: path, Reason: "invalid cell_definition ID: " + err.Error()}
		}
		set.CellTypes[id] = strings.ReplaceAll(cd.Name, " ", "_")
		for _, el := range cd.CustomData.Inner {
			custom[el.XMLName.Local] = true
		}
	}
	for name := range custom {
		set.CustomData = append(set.CustomData, name)
	}
	sort.Strings(set.CustomData)
	if len(set.CustomData) > 0 {
		log.Printf("mcds: custom_data without variable type setting detected: %v", set.CustomData)
	}

	return set, nil
}

func parseFloatNode(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// parseDelimited splits a delimited coordinate string into floats. The
// delimiter attribute defaults to a single space; stray whitespace around
// tokens is tolerated.
func parseDelimited(node xmlCoordinates) ([]float64, error) {
	text := strings.TrimSpace(node.Text)
	if text == "" {
		return nil, fmt.Errorf("empty coordinate list")
	}
	delim := node.Delimiter
	if delim == "" {
		delim = " "
	}
	var out []float64
	for _, tok := range strings.Split(text, delim) {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
