package sites

import (
	"fmt"
	"net/url"

	"github.com/dataharvest/reaper/internal/extract"
	"github.com/dataharvest/reaper/internal/types"
)

// Materials scrapes a materials-property database. A partition is a
// {material_type, group, standard} search; the search listing fans
// out into one detail fetch per material, and the detail page carries
// the property tables the record is built from.
type Materials struct {
	BaseURL string
}

func init() {
	extract.Register(&Materials{BaseURL: "https://www.matdatahub.com"})
}

func (m *Materials) Site() string { return "materials" }

func (m *Materials) InitialRequest(p *types.Partition) (*types.FetchRequest, error) {
	u, err := url.Parse(m.BaseURL + "/api/search")
	if err != nil {
		return nil, err
	}
	qs := u.Query()
	qs.Set("type", p.Get("material_type"))
	qs.Set("group", p.Get("group"))
	qs.Set("standard", p.Get("standard"))
	u.RawQuery = qs.Encode()
	return types.NewFetchRequest(u.String(), types.StageListing, p), nil
}

func (m *Materials) Parse(resp *types.Response) (*extract.ParseResult, error) {
	switch resp.Request.Stage {
	case types.StageListing:
		return m.parseSearch(resp)
	default:
		return m.parseDetail(resp)
	}
}

type materialSearchPayload struct {
	Results []struct {
		ID int64 `json:"id"`
	} `json:"results"`
}

func (m *Materials) parseSearch(resp *types.Response) (*extract.ParseResult, error) {
	var payload materialSearchPayload
	if err := resp.DecodeJSON(&payload); err != nil {
		return nil, &types.ParseError{
			URL:         resp.FinalURL,
			PartitionID: resp.Request.PartitionID(),
			Err:         err,
		}
	}

	result := &extract.ParseResult{}
	for _, hit := range payload.Results {
		child := types.NewFetchRequest(
			fmt.Sprintf("%s/api/materials/%d", m.BaseURL, hit.ID),
			types.StageDetail, resp.Request.Partition)
		result.Children = append(result.Children, child)
	}
	return result, nil
}

type materialProperty struct {
	Name string `json:"name"`
	Unit string `json:"unit"`
	Min  string `json:"min"`
	Max  string `json:"max"`
}

type materialDetailPayload struct {
	Name            string `json:"name"`
	Standard        string `json:"standard"`
	CrossRefCount   int    `json:"crossRefCount"`
	MechanicalProps []materialProperty `json:"mechanicalProperties"`
	PhysicalProps   []materialProperty `json:"physicalProperties"`
}

// parseDetail flattens the property tables into columns. Property
// columns are dynamic: "<Group>-<Name>-<Unit>" with the unit's HTML
// exponents folded into Unicode super/subscripts, so the set of
// columns grows with whatever properties the material reports.
func (m *Materials) parseDetail(resp *types.Response) (*extract.ParseResult, error) {
	var payload materialDetailPayload
	if err := resp.DecodeJSON(&payload); err != nil {
		return nil, &types.ParseError{
			URL:         resp.FinalURL,
			PartitionID: resp.Request.PartitionID(),
			Err:         err,
		}
	}

	rec := types.NewRecord(resp.FinalURL)
	rec.Set("Material", payload.Name)
	rec.Set("Standard", payload.Standard)
	rec.Set("Cross Referencing", fmt.Sprintf("%d", payload.CrossRefCount))
	setProperties(rec, "Mechanical", payload.MechanicalProps)
	setProperties(rec, "Physical", payload.PhysicalProps)

	rec.PartitionID = resp.Request.PartitionID()
	rec.Fingerprint = types.MakeFingerprint(payload.Name, payload.Standard)
	return &extract.ParseResult{Records: []*types.Record{rec}}, nil
}

func setProperties(rec *types.Record, group string, props []materialProperty) {
	for _, pr := range props {
		col := group + "-" + pr.Name
		if unit := extract.SupSub(pr.Unit); unit != "" {
			col += "-" + unit
		}
		rec.Set(col, extract.RangeValue(pr.Min, pr.Max))
	}
}
