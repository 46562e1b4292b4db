package batch

import (
	"context"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/portal-resolver/internal/model"
	"github.com/sells-group/portal-resolver/internal/store"
)

// DefaultTemplates seed one job per template per jurisdiction. {name} is
// the display name and {level} is "city" or "county".
var DefaultTemplates = []string{
	"{name} building permits",
	"{name} permit portal",
	"{name} {level} building department",
	"{name} accela citizen access",
	"{name} energov self service",
	"{name} etrakit",
}

const seedPageSize = 1000

// LoadTemplates reads a YAML file with a top-level templates list.
func LoadTemplates(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "batch: read templates %s", path)
	}
	var doc struct {
		Templates []string `yaml:"templates"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "batch: parse templates")
	}
	var out []string
	for _, t := range doc.Templates {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil, eris.Errorf("batch: %s defines no templates", path)
	}
	return out, nil
}

// Seed expands every template for every jurisdiction into pending jobs.
// Existing (jurisdiction, query) pairs are left alone. It returns the
// number of new jobs.
func (p *Pipeline) Seed(ctx context.Context) (int64, error) {
	var total int64
	offset := 0
	for {
		js, err := p.deps.Store.ListJurisdictions(ctx, store.JurisdictionFilter{Limit: seedPageSize, Offset: offset})
		if err != nil {
			return total, eris.Wrap(err, "batch: seed list jurisdictions")
		}
		if len(js) == 0 {
			break
		}

		jobs := make([]model.DiscoveryJob, 0, len(js)*len(p.opts.Templates))
		for _, j := range js {
			if j.Level == model.LevelState {
				continue
			}
			for _, q := range Queries(j, p.opts.Templates) {
				jobs = append(jobs, model.DiscoveryJob{JurisdictionID: j.GeoID, Level: j.Level, Query: q})
			}
		}
		n, err := p.deps.Store.InsertJobs(ctx, jobs)
		if err != nil {
			return total, eris.Wrap(err, "batch: seed insert jobs")
		}
		total += n

		if len(js) < seedPageSize {
			break
		}
		offset += len(js)
	}

	zap.L().Info("batch: seeded jobs", zap.Int64("inserted", total), zap.Int("templates", len(p.opts.Templates)))
	return total, nil
}

// Queries renders templates for one jurisdiction, dropping duplicates.
func Queries(j model.Jurisdiction, templates []string) []string {
	name := DisplayName(j.Name)
	level := "city"
	if j.Level == model.LevelCounty {
		level = "county"
	}
	// "Marin County county building department" reads badly.
	if strings.Contains(strings.ToLower(name), level) {
		level = ""
	}
	r := strings.NewReplacer("{name}", name, "{level}", level)

	seen := make(map[string]bool, len(templates))
	var out []string
	for _, t := range templates {
		q := strings.Join(strings.Fields(r.Replace(t)), " ")
		if q == "" || seen[q] {
			continue
		}
		seen[q] = true
		out = append(out, q)
	}
	return out
}

// DisplayName title-cases all-caps census names and leaves mixed case
// (McAllen, DeKalb) untouched.
func DisplayName(name string) string {
	name = strings.TrimSpace(name)
	if name != strings.ToUpper(name) {
		return name
	}
	return cases.Title(language.English).String(strings.ToLower(name))
}
