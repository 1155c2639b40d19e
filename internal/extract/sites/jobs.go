package sites

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/dataharvest/reaper/internal/extract"
	"github.com/dataharvest/reaper/internal/types"
)

// Jobs scrapes a graduate job board, one {category, page} partition at
// a time. The listing page is plain HTML; every posting card links to
// a detail page that holds the full description fed to enrichment.
type Jobs struct {
	BaseURL string
}

func init() {
	extract.Register(&Jobs{BaseURL: "https://www.gradroles.co.uk"})
}

func (j *Jobs) Site() string { return "jobs" }

func (j *Jobs) InitialRequest(p *types.Partition) (*types.FetchRequest, error) {
	u := fmt.Sprintf("%s/jobs/%s?page=%s",
		j.BaseURL, url.PathEscape(p.Get("category")), url.QueryEscape(p.Get("page")))
	return types.NewFetchRequest(u, types.StageListing, p), nil
}

func (j *Jobs) Parse(resp *types.Response) (*extract.ParseResult, error) {
	switch resp.Request.Stage {
	case types.StageListing:
		return j.parseListing(resp)
	default:
		return j.parseDetail(resp)
	}
}

// parseListing only fans out: every record on this site is assembled
// from its detail page.
func (j *Jobs) parseListing(resp *types.Response) (*extract.ParseResult, error) {
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
	doc.Find("div.job-card a.job-card__link").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		child := types.NewFetchRequest(base.ResolveReference(ref).String(), types.StageDetail, resp.Request.Partition)
		result.Children = append(result.Children, child)
	})
	return result, nil
}

var jobDetailFields = []extract.Field{
	{Column: "Company", Selectors: []string{"a.job-header__company", "span.company-name"}},
	{Column: "Location", Selectors: []string{"span.job-header__location"}},
	{Column: "Salary", Selectors: []string{"span.job-header__salary"}},
	{Column: "Posted", Selectors: []string{"time.job-header__posted"}, Attr: "datetime"},
}

func (j *Jobs) parseDetail(resp *types.Response) (*extract.ParseResult, error) {
	doc, err := resp.Document()
	if err != nil {
		return nil, &types.ParseError{
			URL:         resp.FinalURL,
			PartitionID: resp.Request.PartitionID(),
			Err:         err,
		}
	}

	title := strings.TrimSpace(doc.Find("h1.job-title").First().Text())
	if title == "" {
		return nil, &types.ParseError{
			URL:         resp.FinalURL,
			PartitionID: resp.Request.PartitionID(),
			Err:         errors.New("posting title missing"),
		}
	}

	rec := types.NewRecord(resp.FinalURL)
	rec.Set("Title", title)
	for _, f := range jobDetailFields {
		f.ExtractInto(rec, doc, nil)
	}
	desc := extract.NormalizeLineBreaks(doc.Find("div.job-description").First().Text())
	if desc == "" {
		rec.SetNA("Description")
	} else {
		rec.Set("Description", desc)
	}

	rec.PartitionID = resp.Request.PartitionID()
	rec.Fingerprint = types.MakeFingerprint(title, postingID(resp.FinalURL))
	return &extract.ParseResult{Records: []*types.Record{rec}}, nil
}

// postingID is the last path segment of the detail URL.
func postingID(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	return segs[len(segs)-1]
}
