package sites

import (
	"fmt"
	"net/url"

	"github.com/PuerkitoBio/goquery"

	"github.com/dataharvest/reaper/internal/extract"
	"github.com/dataharvest/reaper/internal/types"
)

// Crowdfund scrapes a crowdfunding discovery feed by category. Cards
// on the listing carry everything the record needs, so there is no
// detail stage; pagination follows the rel=next link.
type Crowdfund struct {
	BaseURL string
}

func init() {
	extract.Register(&Crowdfund{BaseURL: "https://www.backerhive.com"})
}

func (c *Crowdfund) Site() string { return "crowdfund" }

func (c *Crowdfund) InitialRequest(p *types.Partition) (*types.FetchRequest, error) {
	u := fmt.Sprintf("%s/discover/%s?page=1", c.BaseURL, url.PathEscape(p.Get("category")))
	return types.NewFetchRequest(u, types.StageListing, p), nil
}

var crowdfundFields = []extract.Field{
	{Column: "Project", Selectors: []string{"h3.project-card__title"}},
	{Column: "Creator", Selectors: []string{"div.project-card__byline a"}},
	{Column: "Pledged", Selectors: []string{"span.project-card__pledged"}},
	{Column: "Backers", Selectors: []string{"span.project-card__backers"}},
	{Column: "Deadline", Selectors: []string{"time.project-card__deadline"}, Attr: "datetime"},
}

func (c *Crowdfund) Parse(resp *types.Response) (*extract.ParseResult, error) {
	doc, err := resp.Document()
	if err != nil {
		return nil, &types.ParseError{
			URL:         resp.FinalURL,
			PartitionID: resp.Request.PartitionID(),
			Err:         err,
		}
	}

	base, err := url.Parse(resp.FinalURL)
	if err != nil {
		return nil, &types.ParseError{URL: resp.FinalURL, PartitionID: resp.Request.PartitionID(), Err: err}
	}

	result := &extract.ParseResult{}
	doc.Find("div.project-card").Each(func(_ int, card *goquery.Selection) {
		href, ok := card.Find("a.project-card__link").First().Attr("href")
		if !ok {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		projectURL := canonicalProjectURL(base.ResolveReference(ref))

		rec := types.NewRecord(resp.FinalURL)
		for _, f := range crowdfundFields {
			f.ExtractFrom(rec, card)
		}
		rec.Set("Project URL", projectURL)
		rec.PartitionID = resp.Request.PartitionID()
		rec.Fingerprint = types.MakeFingerprint(projectURL)
		result.Records = append(result.Records, rec)
	})

	if href, ok := doc.Find("a[rel=next]").First().Attr("href"); ok && href != "" {
		if ref, err := url.Parse(href); err == nil {
			next := types.NewFetchRequest(base.ResolveReference(ref).String(), types.StageListing, resp.Request.Partition)
			result.Children = append(result.Children, next)
		}
	}
	return result, nil
}

// canonicalProjectURL strips tracking query parameters and fragments
// so the same project fingerprints identically across feed pages.
func canonicalProjectURL(u *url.URL) string {
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
