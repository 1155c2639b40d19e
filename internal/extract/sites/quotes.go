package sites

import (
	"fmt"
	"math"
	"net/url"

	"github.com/dataharvest/reaper/internal/extract"
	"github.com/dataharvest/reaper/internal/types"
)

// Quotes scrapes an insurance quoting portal. Partitions are
// {zip_code, effective_date, subtype}; the portal requires a browser-
// acquired session before its JSON API answers.
type Quotes struct {
	BaseURL string
}

func init() {
	extract.Register(&Quotes{BaseURL: "https://quoting.covercompass.com"})
}

func (q *Quotes) Site() string { return "quotes" }

func (q *Quotes) RequiresSession() bool { return true }

// InitialRequest encodes the partition into the plan-search filter.
func (q *Quotes) InitialRequest(p *types.Partition) (*types.FetchRequest, error) {
	u, err := url.Parse(q.BaseURL + "/api/v2/plans")
	if err != nil {
		return nil, err
	}
	qs := u.Query()
	qs.Set("zip", p.Get("zip_code"))
	qs.Set("effectiveDate", p.Get("effective_date"))
	qs.Set("propertySubtype", p.Get("subtype"))
	u.RawQuery = qs.Encode()
	return types.NewFetchRequest(u.String(), types.StageListing, p), nil
}

// planCategories maps the portal's category codes to plan type names.
var planCategories = map[string]string{
	"HO3": "Homeowners",
	"HO6": "Condominium Unit-Owners",
	"DP3": "Dwelling Fire",
	"BOP": "Business Owners",
}

type quotesPayload struct {
	Plans []struct {
		Name          string    `json:"name"`
		CategoryCode  string    `json:"categoryCode"`
		EmployeeRates []float64 `json:"employeeRates"`
	} `json:"plans"`
}

// Parse emits one record per returned plan. Premium Per Employee is the
// ceiling of the mean employee rate.
func (q *Quotes) Parse(resp *types.Response) (*extract.ParseResult, error) {
	var payload quotesPayload
	if err := resp.DecodeJSON(&payload); err != nil {
		return nil, &types.ParseError{
			URL:         resp.FinalURL,
			PartitionID: resp.Request.PartitionID(),
			Err:         err,
		}
	}

	p := resp.Request.Partition
	result := &extract.ParseResult{}
	for _, plan := range payload.Plans {
		rec := types.NewRecord(resp.FinalURL)
		rec.Set("Zip Code", p.Get("zip_code"))
		rec.Set("Effective Date", p.Get("effective_date"))
		rec.Set("Property Subtype", p.Get("subtype"))
		rec.Set("Plan Name", plan.Name)

		if name, ok := planCategories[plan.CategoryCode]; ok {
			rec.Set("Plan type", name)
		} else if plan.CategoryCode != "" {
			rec.Set("Plan type", plan.CategoryCode)
		} else {
			rec.SetNA("Plan type")
		}

		if len(plan.EmployeeRates) > 0 {
			var sum float64
			for _, r := range plan.EmployeeRates {
				sum += r
			}
			rec.Set("Premium Per Employee", fmt.Sprintf("%d", int64(math.Ceil(sum/float64(len(plan.EmployeeRates))))))
		} else {
			rec.SetNA("Premium Per Employee")
		}

		rec.PartitionID = p.ID
		rec.Fingerprint = types.MakeFingerprint(plan.Name, p.Get("zip_code"), p.Get("effective_date"))
		result.Records = append(result.Records, rec)
	}
	return result, nil
}
