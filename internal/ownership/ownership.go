// Package ownership answers whether two news sources are independent of each
// other. The registry is built once at startup and does no I/O afterwards.
package ownership

import (
	"errors"
	"fmt"
	"sort"

	"github.com/abelbrown/jtfnews/internal/model"
)

// ErrOwnershipAmbiguous means ownership data is missing for a source. Callers
// treat it as related: no verification credit is granted.
var ErrOwnershipAmbiguous = errors.New("ownership ambiguous")

// topHolderCount is how many of each source's largest holders are compared.
const topHolderCount = 3

// Registry is a read-only lookup of sources by id.
type Registry struct {
	sources   map[string]model.Source
	threshold float64
}

// NewRegistry indexes sources. threshold is the holder percentage at or
// above which a shared holder makes two sources related.
func NewRegistry(sources []model.Source, threshold float64) *Registry {
	r := &Registry{
		sources:   make(map[string]model.Source, len(sources)),
		threshold: threshold,
	}
	for _, s := range sources {
		r.sources[s.ID] = s
	}
	return r
}

// Source returns the registered source.
func (r *Registry) Source(id string) (model.Source, bool) {
	s, ok := r.sources[id]
	return s, ok
}

// Sources returns all registered sources ordered by id.
func (r *Registry) Sources() []model.Source {
	out := make([]model.Source, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered sources.
func (r *Registry) Len() int {
	return len(r.sources)
}

// Independent reports whether a and b are unrelated: different owner group,
// no common holder above the threshold, and no overlap between their
// top three holders. Unknown sources or missing owner groups yield
// ErrOwnershipAmbiguous with a false result.
func (r *Registry) Independent(a, b string) (bool, error) {
	sa, err := r.lookup(a)
	if err != nil {
		return false, err
	}
	sb, err := r.lookup(b)
	if err != nil {
		return false, err
	}
	if sa.ID == sb.ID {
		return false, nil
	}
	if model.NormalizeName(sa.OwnerGroup) == model.NormalizeName(sb.OwnerGroup) {
		return false, nil
	}

	pa := holderPercents(sa.InstitutionalHolders)
	pb := holderPercents(sb.InstitutionalHolders)
	for name, pctA := range pa {
		pctB, shared := pb[name]
		if shared && (pctA > r.threshold || pctB > r.threshold) {
			return false, nil
		}
	}

	topA := make(map[string]bool, topHolderCount)
	for _, h := range sa.TopHolders(topHolderCount) {
		topA[model.NormalizeName(h.Name)] = true
	}
	for _, h := range sb.TopHolders(topHolderCount) {
		if topA[model.NormalizeName(h.Name)] {
			return false, nil
		}
	}
	return true, nil
}

func (r *Registry) lookup(id string) (model.Source, error) {
	s, ok := r.sources[id]
	if !ok {
		return model.Source{}, fmt.Errorf("source %q not registered: %w", id, ErrOwnershipAmbiguous)
	}
	if model.NormalizeName(s.OwnerGroup) == "" {
		return model.Source{}, fmt.Errorf("source %q has no owner group: %w", id, ErrOwnershipAmbiguous)
	}
	return s, nil
}

func holderPercents(holders []model.Holder) map[string]float64 {
	m := make(map[string]float64, len(holders))
	for _, h := range holders {
		name := model.NormalizeName(h.Name)
		if h.Percent > m[name] {
			m[name] = h.Percent
		}
	}
	return m
}
