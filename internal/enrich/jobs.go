package enrich

import (
	"context"
	"strings"

	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/dataharvest/reaper/internal/extract"
	"github.com/dataharvest/reaper/internal/types"
)

// JobProfile is the structured reading of a job posting's free text.
type JobProfile struct {
	Salary           string   `json:"salary" jsonschema_description:"Salary or salary range exactly as stated, empty if not stated"`
	Benefits         []string `json:"benefits" jsonschema_description:"Benefits offered, one entry each"`
	Requirements     []string `json:"requirements" jsonschema_description:"Candidate requirements, one entry each"`
	Responsibilities []string `json:"responsibilities" jsonschema_description:"Day-to-day responsibilities, one entry each"`
	Industry         string   `json:"industry" jsonschema:"enum=consulting,enum=finance,enum=technology"`
	Seniority        string   `json:"seniority" jsonschema:"enum=intern,enum=analyst,enum=associate,enum=manager"`
	Locations        []string `json:"locations" jsonschema_description:"Cities or regions the role can be based in"`
}

var jobProfileTask = func() Task {
	schema, err := jsonschema.GenerateSchemaForType(JobProfile{})
	if err != nil {
		panic(err)
	}
	return Task{
		Name:        "classify_job_posting",
		Description: "Extract structured fields from a job posting description.",
		Instructions: "You read job postings and extract structured data. " +
			"Use only facts stated in the posting. Leave fields empty when the posting does not state them.",
		Schema: schema,
	}
}()

// JobEnricher appends profile columns to job records on the write path.
type JobEnricher struct {
	enricher *Enricher
	catalog  *LocationCatalog
}

func NewJobEnricher(e *Enricher, catalog *LocationCatalog) *JobEnricher {
	return &JobEnricher{enricher: e, catalog: catalog}
}

// Enrich classifies the record's description and merges the profile in.
// Records without a description pass through untouched.
func (je *JobEnricher) Enrich(ctx context.Context, rec *types.Record) error {
	desc := rec.GetString("Description")
	if desc == "" || desc == types.NotAvailable {
		return nil
	}

	var profile JobProfile
	if err := je.enricher.Run(ctx, jobProfileTask, desc, &profile); err != nil {
		return err
	}

	setOrNA(rec, "Salary (Parsed)", strings.TrimSpace(profile.Salary))
	setOrNA(rec, "Benefits", extract.JoinList(profile.Benefits, "; "))
	setOrNA(rec, "Requirements", extract.JoinList(profile.Requirements, "; "))
	setOrNA(rec, "Responsibilities", extract.JoinList(profile.Responsibilities, "; "))
	setOrNA(rec, "Industry", profile.Industry)
	setOrNA(rec, "Seniority", profile.Seniority)

	locations := profile.Locations
	if stated := rec.GetString("Location"); stated != "" && stated != types.NotAvailable {
		if je.catalog.Known(stated) {
			// A catalogued reading of the posting's own location line
			// wins over whatever the model inferred.
			locations = je.catalog.Resolve(stated)
		} else {
			if len(locations) == 0 {
				locations = SplitCityList(stated)
			}
			je.catalog.Learn(stated, locations)
		}
	}
	setOrNA(rec, "Locations", extract.JoinList(locations, "; "))
	setOrNA(rec, "Location List (Flattened)", je.flattenLocations(ctx, locations))
	return nil
}

// flattenLocations standardizes each location and returns the
// insertion-ordered unique union of cities, countries and regions. A
// location the model cannot standardize contributes itself verbatim.
func (je *JobEnricher) flattenLocations(ctx context.Context, locations []string) string {
	var out []string
	seen := map[string]bool{}
	add := func(v string) {
		v = strings.TrimSpace(v)
		if v == "" || seen[strings.ToLower(v)] {
			return
		}
		seen[strings.ToLower(v)] = true
		out = append(out, v)
	}
	for _, loc := range locations {
		std, err := je.enricher.StandardizeCity(ctx, loc)
		if err != nil || std.City == "" {
			add(loc)
			continue
		}
		add(std.City)
		add(std.Country)
		add(std.Region)
	}
	return extract.JoinList(out, "; ")
}

func setOrNA(rec *types.Record, column, value string) {
	if value == "" {
		rec.SetNA(column)
		return
	}
	rec.Set(column, value)
}
