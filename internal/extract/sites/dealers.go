package sites

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/dataharvest/reaper/internal/extract"
	"github.com/dataharvest/reaper/internal/types"
)

// Dealers walks the AutoTrader dealer directory one postcode partition
// at a time. The directory is a paginated JSON API; each page links to
// the next until totalPages is exhausted.
type Dealers struct {
	BaseURL string
}

func init() {
	extract.Register(&Dealers{BaseURL: "https://www.autotrader.co.uk"})
}

func (d *Dealers) Site() string { return "dealers" }

func (d *Dealers) InitialRequest(p *types.Partition) (*types.FetchRequest, error) {
	return types.NewFetchRequest(d.pageURL(p.Get("postcode"), 1), types.StageListing, p), nil
}

func (d *Dealers) pageURL(postcode string, page int) string {
	return fmt.Sprintf("%s/api/dealers?postcode=%s&page=%d",
		d.BaseURL, url.QueryEscape(postcode), page)
}

type dealersPayload struct {
	Dealers []struct {
		Name       string `json:"name"`
		AddressOne string `json:"addressOne"`
		Town       string `json:"town"`
		County     string `json:"county"`
		Postcode   string `json:"postcode"`
		StockCount int    `json:"stockCount"`
		Slug       string `json:"slug"`
	} `json:"dealers"`
	Pagination struct {
		Page       int `json:"page"`
		TotalPages int `json:"totalPages"`
	} `json:"pagination"`
}

func (d *Dealers) Parse(resp *types.Response) (*extract.ParseResult, error) {
	var payload dealersPayload
	if err := resp.DecodeJSON(&payload); err != nil {
		return nil, &types.ParseError{
			URL:         resp.FinalURL,
			PartitionID: resp.Request.PartitionID(),
			Err:         err,
		}
	}

	p := resp.Request.Partition
	result := &extract.ParseResult{}
	for _, dl := range payload.Dealers {
		pageURL := d.BaseURL + "/dealers/" + dl.Slug

		rec := types.NewRecord(resp.FinalURL)
		rec.Set("Dealer Name", dl.Name)
		rec.Set("Direct AutoTrader Dealer Page URL", pageURL)
		rec.Set("Address", extract.JoinList([]string{dl.AddressOne, dl.Town, dl.County, dl.Postcode}, "\n"))
		// Zero stock renders as an empty cell, not "0".
		if dl.StockCount > 0 {
			rec.Set("Number of Cars in Stock", strconv.Itoa(dl.StockCount))
		} else {
			rec.Set("Number of Cars in Stock", "")
		}
		rec.PartitionID = p.ID
		rec.Fingerprint = types.MakeFingerprint(pageURL)
		result.Records = append(result.Records, rec)
	}

	if payload.Pagination.Page < payload.Pagination.TotalPages {
		next := types.NewFetchRequest(d.pageURL(p.Get("postcode"), payload.Pagination.Page+1), types.StageListing, p)
		result.Children = append(result.Children, next)
	}
	return result, nil
}
