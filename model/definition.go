package model

// DefinitionFile is the root structure of a form definition file. Each file
// declares one or more forms.
type DefinitionFile struct {
	Version string           `yaml:"version" json:"version"`
	Forms   []FormDefinition `yaml:"forms"   json:"forms"`

	// Checksum is computed at load time and not part of the YAML.
	Checksum string `yaml:"-" json:"-"`
	// SourceFile records the originating file path.
	SourceFile string `yaml:"-" json:"-"`
}
