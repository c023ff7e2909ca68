package ingest

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/atlasmirror/atlas/internal/store"
)

// RefID decodes a cross-reference field that upstream encodes either as a
// bare identifier string or as an inline object carrying an "id" key
// (anchors resolved to full objects). Both normalize to the bare ID here,
// at parse time, so nothing downstream ever branches on the encoding.
type RefID string

func (r *RefID) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*r = RefID(node.Value)
		return nil
	case yaml.MappingNode:
		var obj struct {
			ID string `yaml:"id"`
		}
		if err := node.Decode(&obj); err != nil {
			return fmt.Errorf("decode reference object: %w", err)
		}
		*r = RefID(obj.ID)
		return nil
	default:
		return fmt.Errorf("reference: unsupported YAML node kind %d", node.Kind)
	}
}

// FlexString decodes a scalar or a sequence of scalars into one string,
// joining sequences with ", " (dates and category lists both appear in the
// published snapshot).
type FlexString string

func (f *FlexString) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*f = FlexString(node.Value)
		return nil
	case yaml.SequenceNode:
		var parts []string
		if err := node.Decode(&parts); err != nil {
			return fmt.Errorf("decode list value: %w", err)
		}
		*f = FlexString(strings.Join(parts, ", "))
		return nil
	default:
		return fmt.Errorf("flex string: unsupported YAML node kind %d", node.Kind)
	}
}

// techniqueUse decodes a mitigation→technique mapping that may be a bare ID
// or an object with id plus usage text ("use" in current releases, "usage"
// in older ones).
type techniqueUse struct {
	ID  string
	Use string
}

func (t *techniqueUse) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		t.ID = node.Value
		return nil
	}
	var obj struct {
		ID    string `yaml:"id"`
		Use   string `yaml:"use"`
		Usage string `yaml:"usage"`
	}
	if err := node.Decode(&obj); err != nil {
		return fmt.Errorf("decode technique mapping: %w", err)
	}
	t.ID = obj.ID
	t.Use = obj.Use
	if t.Use == "" {
		t.Use = obj.Usage
	}
	return nil
}

type attckRef struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`
}

type rawTactic struct {
	ID           string     `yaml:"id"`
	Name         string     `yaml:"name"`
	Description  string     `yaml:"description"`
	AttckRef     attckRef   `yaml:"ATT&CK-reference"`
	CreatedDate  FlexString `yaml:"created_date"`
	ModifiedDate FlexString `yaml:"modified_date"`
}

type rawTechnique struct {
	ID             string     `yaml:"id"`
	Name           string     `yaml:"name"`
	Description    string     `yaml:"description"`
	SubtechniqueOf RefID      `yaml:"subtechnique-of"`
	Tactics        []RefID    `yaml:"tactics"`
	Maturity       string     `yaml:"maturity"`
	AttckRef       attckRef   `yaml:"ATT&CK-reference"`
	CreatedDate    FlexString `yaml:"created_date"`
	ModifiedDate   FlexString `yaml:"modified_date"`
}

type rawMitigation struct {
	ID           string         `yaml:"id"`
	Name         string         `yaml:"name"`
	Description  string         `yaml:"description"`
	Category     FlexString     `yaml:"category"`
	Techniques   []techniqueUse `yaml:"techniques"`
	Lifecycle    []string       `yaml:"ml-lifecycle"`
	AttckRef     attckRef       `yaml:"ATT&CK-reference"`
	CreatedDate  FlexString     `yaml:"created_date"`
	ModifiedDate FlexString     `yaml:"modified_date"`
}

type rawProcedureStep struct {
	Tactic      RefID  `yaml:"tactic"`
	Technique   RefID  `yaml:"technique"`
	Description string `yaml:"description"`
}

type rawReference struct {
	Title string `yaml:"title"`
	URL   string `yaml:"url"`
}

type rawCaseStudy struct {
	ID              string             `yaml:"id"`
	Name            string             `yaml:"name"`
	Summary         string             `yaml:"summary"`
	IncidentDate    FlexString         `yaml:"incident-date"`
	DateGranularity string             `yaml:"incident-date-granularity"`
	Reporter        string             `yaml:"reporter"`
	Target          string             `yaml:"target"`
	Actor           string             `yaml:"actor"`
	Type            string             `yaml:"case-study-type"`
	Procedure       []rawProcedureStep `yaml:"procedure"`
	References      []rawReference     `yaml:"references"`
}

type rawMatrix struct {
	Tactics     []rawTactic     `yaml:"tactics"`
	Techniques  []rawTechnique  `yaml:"techniques"`
	Mitigations []rawMitigation `yaml:"mitigations"`
}

// Snapshot is a parsed corpus release.
type Snapshot struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name"`
	Version     FlexString     `yaml:"version"`
	Matrices    []rawMatrix    `yaml:"matrices"`
	CaseStudies []rawCaseStudy `yaml:"case-studies"`
}

// Parse decodes raw snapshot bytes into normalized store records with all
// cross references reduced to bare identifiers.
func Parse(raw []byte) (*store.CorpusData, *Snapshot, error) {
	var snap Snapshot
	if err := yaml.Unmarshal(raw, &snap); err != nil {
		return nil, nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.ID == "" {
		snap.ID = "ATLAS"
	}
	if snap.Name == "" {
		snap.Name = snap.ID
	}
	if snap.Version == "" {
		snap.Version = "unknown"
	}

	var matrix rawMatrix
	if len(snap.Matrices) > 0 {
		matrix = snap.Matrices[0]
	}
	if len(matrix.Tactics) == 0 && len(matrix.Techniques) == 0 {
		return nil, nil, fmt.Errorf("snapshot has no matrix entities")
	}

	data := &store.CorpusData{}

	for order, t := range matrix.Tactics {
		data.Tactics = append(data.Tactics, &store.Tactic{
			ID:           t.ID,
			Name:         t.Name,
			Description:  t.Description,
			MatrixOrder:  order,
			AttckID:      t.AttckRef.ID,
			AttckURL:     t.AttckRef.URL,
			CreatedDate:  string(t.CreatedDate),
			ModifiedDate: string(t.ModifiedDate),
		})
	}

	for _, t := range matrix.Techniques {
		parent := string(t.SubtechniqueOf)
		var tacticIDs []string
		for _, ref := range t.Tactics {
			if ref != "" {
				tacticIDs = append(tacticIDs, string(ref))
			}
		}
		data.Techniques = append(data.Techniques, &store.Technique{
			ID:             t.ID,
			Name:           t.Name,
			Description:    t.Description,
			IsSubtechnique: parent != "",
			ParentID:       parent,
			Maturity:       t.Maturity,
			AttckID:        t.AttckRef.ID,
			AttckURL:       t.AttckRef.URL,
			CreatedDate:    string(t.CreatedDate),
			ModifiedDate:   string(t.ModifiedDate),
			TacticIDs:      tacticIDs,
		})
	}

	for _, m := range matrix.Mitigations {
		var uses []store.TechniqueUse
		for _, tu := range m.Techniques {
			if tu.ID != "" {
				uses = append(uses, store.TechniqueUse{TechniqueID: tu.ID, Use: tu.Use})
			}
		}
		data.Mitigations = append(data.Mitigations, &store.Mitigation{
			ID:           m.ID,
			Name:         m.Name,
			Description:  m.Description,
			Category:     string(m.Category),
			AttckID:      m.AttckRef.ID,
			AttckURL:     m.AttckRef.URL,
			CreatedDate:  string(m.CreatedDate),
			ModifiedDate: string(m.ModifiedDate),
			Techniques:   uses,
			Lifecycle:    m.Lifecycle,
		})
	}

	for _, cs := range snap.CaseStudies {
		var steps []store.ProcedureStep
		for order, step := range cs.Procedure {
			steps = append(steps, store.ProcedureStep{
				StepOrder:   order,
				TacticID:    string(step.Tactic),
				TechniqueID: string(step.Technique),
				Description: step.Description,
			})
		}
		var refs []store.Reference
		for _, r := range cs.References {
			refs = append(refs, store.Reference{Title: r.Title, URL: r.URL})
		}
		data.CaseStudies = append(data.CaseStudies, &store.CaseStudy{
			ID:              cs.ID,
			Name:            cs.Name,
			Summary:         cs.Summary,
			IncidentDate:    string(cs.IncidentDate),
			DateGranularity: cs.DateGranularity,
			Reporter:        cs.Reporter,
			Target:          cs.Target,
			Actor:           cs.Actor,
			Type:            cs.Type,
			Procedure:       steps,
			References:      refs,
		})
	}

	return data, &snap, nil
}
