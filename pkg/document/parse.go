package document

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Label is a document string value that remembers the line/column it was
// declared at, so duplicate-label and unresolved-label errors can carry a
// Span back to the source (spec §4.5: "every error is a Spanned<DocError>").
type Label struct {
	Value  string
	Line   int
	Column int
}

func (l Label) Span() Span { return Span{Line: l.Line, Column: l.Column} }

// UnmarshalYAML captures the node's position alongside its scalar value.
func (l *Label) UnmarshalYAML(node *yaml.Node) error {
	if err := node.Decode(&l.Value); err != nil {
		return err
	}
	l.Line, l.Column = node.Line, node.Column
	return nil
}

// Document is the parsed shape of one YAML document source (spec §4.5:
// "local-settings overrides; entity, group, and service declarations;
// namespaces and domains; entity-/resource-properties and their
// attributes; entity-attribute assignments; policies; policy bindings").
type Document struct {
	Settings              map[string]string `yaml:"settings,omitempty"`
	Personas              []PersonaDecl     `yaml:"personas,omitempty"`
	Services              []ServiceDecl     `yaml:"services,omitempty"`
	Domains               []DomainDecl      `yaml:"domains,omitempty"`
	EntityProperties      []PropertyDecl    `yaml:"entity-properties,omitempty"`
	ResourceProperties    []PropertyDecl    `yaml:"resource-properties,omitempty"`
	EntityAttrAssignments []AssignmentDecl  `yaml:"entity-attr-assignments,omitempty"`
	Policies              []PolicyDecl      `yaml:"policies,omitempty"`
	PolicyBindings        []BindingDecl     `yaml:"policy-bindings,omitempty"`
}

// PersonaDecl declares a human entity (spec glossary: Persona).
type PersonaDecl struct {
	Label        Label  `yaml:"label"`
	Username     string `yaml:"username,omitempty"`
	Email        string `yaml:"email,omitempty"`
	PasswordHash string `yaml:"password-hash,omitempty"`
}

// ServiceDecl declares a machine entity (spec glossary: Service).
type ServiceDecl struct {
	Label Label    `yaml:"label"`
	Hosts []string `yaml:"hosts,omitempty"`
	// K8sServiceAccount binds this service to a Kubernetes service account
	// ("namespace/name"), looked up by pkg/k8sauth when a pod presents its
	// projected SA token to exchange for a client certificate.
	K8sServiceAccount string `yaml:"k8s-service-account,omitempty"`
}

// DomainDecl declares a label grouping shareable across services (spec
// glossary: Domain).
type DomainDecl struct {
	Label Label `yaml:"label"`
}

// PropertyDecl declares a property scoped to a previously declared service
// or domain label. Attributes are declared inline.
type PropertyDecl struct {
	Scope      Label   `yaml:"scope"`
	Label      Label   `yaml:"label"`
	Attributes []Label `yaml:"attributes,omitempty"`
}

// AssignmentDecl attaches attributes (each written "ns:prop:attr") to an
// entity label.
type AssignmentDecl struct {
	Entity     Label   `yaml:"entity"`
	Attributes []Label `yaml:"attributes"`
}

// PolicyDecl declares one policy body. Exactly one of Allow/Deny must be
// set (spec §4.5: ambiguous or missing outcome is a DocError). Each term in
// the body is separately namespace-qualified ("ns:prop" / "ns:prop:attr"),
// so the policy declaration itself carries no scope of its own.
type PolicyDecl struct {
	Label Label `yaml:"label"`
	Allow Label `yaml:"allow,omitempty"`
	Deny  Label `yaml:"deny,omitempty"`
}

// BindingDecl links an attribute-matcher set (each "ns:prop:attr") to a set
// of policy labels.
type BindingDecl struct {
	Attributes []Label `yaml:"attributes"`
	Policies   []Label `yaml:"policies"`
}

// ParseDocument decodes one YAML document source.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("document: parse: %w", err)
	}
	return &doc, nil
}
