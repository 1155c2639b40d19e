package enrich

import (
	"context"

	"github.com/sashabaranov/go-openai/jsonschema"
)

// CityStandard is the canonical reading of one city string.
type CityStandard struct {
	City    string `json:"city" jsonschema_description:"Standardized city name, or Remote for remote work"`
	Country string `json:"country" jsonschema_description:"Country the city is in, or Worldwide for remote work"`
	Region  string `json:"region" jsonschema_description:"State, province or wider region, empty when none applies"`
}

var cityStandardTask = func() Task {
	schema, err := jsonschema.GenerateSchemaForType(CityStandard{})
	if err != nil {
		panic(err)
	}
	return Task{
		Name:        "standardize_city",
		Description: "Standardize a single city or location string.",
		Instructions: "You standardize location strings from job postings into a canonical " +
			"city, country and region. For remote work return city Remote and country " +
			"Worldwide. Preserve state or region qualifiers when they disambiguate the city.",
		Schema: schema,
	}
}()

// StandardizeCity resolves one raw city string to its canonical form.
// The answer cache guarantees at most one model call per distinct input.
func (e *Enricher) StandardizeCity(ctx context.Context, city string) (CityStandard, error) {
	var std CityStandard
	err := e.Run(ctx, cityStandardTask, city, &std)
	return std, err
}
