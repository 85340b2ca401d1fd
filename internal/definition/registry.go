package definition

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/pitabwire/formengine/model"
)

// snapshot is an immutable collection of all forms indexed by ID.
type snapshot struct {
	forms    map[string]model.FormDefinition
	files    int
	checksum string
}

// Registry is a read-optimized, thread-safe store of all loaded forms.
// It uses atomic pointer swap for lock-free concurrent reads.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given definition files.
func NewRegistry(files []model.DefinitionFile) *Registry {
	r := &Registry{}
	r.Replace(files)
	return r
}

// Replace atomically swaps the registry contents with a new snapshot built
// from the given files. Sessions already holding a form keep their copy.
func (r *Registry) Replace(files []model.DefinitionFile) {
	s := &snapshot{
		forms: make(map[string]model.FormDefinition),
		files: len(files),
	}

	checksumParts := make([]string, 0, len(files))
	for _, file := range files {
		checksumParts = append(checksumParts, file.Checksum)
		for _, f := range file.Forms {
			s.forms[f.ID] = f
		}
	}

	sort.Strings(checksumParts)
	combined := strings.Join(checksumParts, ":")
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(combined)))

	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// GetForm returns the form definition with the given ID.
func (r *Registry) GetForm(formID string) (model.FormDefinition, bool) {
	f, ok := r.current().forms[formID]
	return f, ok
}

// AllForms returns every form sorted by ID.
func (r *Registry) AllForms() []model.FormDefinition {
	s := r.current()
	forms := make([]model.FormDefinition, 0, len(s.forms))
	for _, f := range s.forms {
		forms = append(forms, f)
	}
	sort.Slice(forms, func(i, j int) bool { return forms[i].ID < forms[j].ID })
	return forms
}

// Len returns the number of forms.
func (r *Registry) Len() int {
	return len(r.current().forms)
}

// Checksum returns the combined checksum of all loaded files.
func (r *Registry) Checksum() string {
	return r.current().checksum
}
