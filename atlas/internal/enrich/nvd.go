package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	nvdSource     = "nvd"
	nvdTTL        = 12 * time.Hour
	nvdMaxTerms   = 2
	nvdMaxItems   = 15
	nvdPerTerm    = 10
	nvdDefaultAPI = "https://services.nvd.nist.gov/rest/json/cves/2.0"
)

// NVD searches the vulnerability database by keyword. Relevance is the CVSS
// base score normalized to (0,1]; entries without a score get 0.5.
type NVD struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewNVD(apiKey string, client *http.Client) *NVD {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &NVD{BaseURL: nvdDefaultAPI, APIKey: apiKey, Client: client}
}

func (n *NVD) Name() string       { return nvdSource }
func (n *NVD) TTL() time.Duration { return nvdTTL }

type nvdPage struct {
	Vulnerabilities []struct {
		CVE nvdCVE `json:"cve"`
	} `json:"vulnerabilities"`
}

type nvdCVE struct {
	ID           string `json:"id"`
	Descriptions []struct {
		Lang  string `json:"lang"`
		Value string `json:"value"`
	} `json:"descriptions"`
	Metrics struct {
		CVSSV31 []nvdMetric `json:"cvssMetricV31"`
		CVSSV30 []nvdMetric `json:"cvssMetricV30"`
		CVSSV2  []nvdMetric `json:"cvssMetricV2"`
	} `json:"metrics"`
}

type nvdMetric struct {
	CVSSData struct {
		BaseScore float64 `json:"baseScore"`
	} `json:"cvssData"`
}

func (c nvdCVE) description() string {
	for _, d := range c.Descriptions {
		if d.Lang == "en" {
			return d.Value
		}
	}
	if len(c.Descriptions) > 0 {
		return c.Descriptions[0].Value
	}
	return ""
}

// score returns the CVSS base score on a 0-1 scale, newest metric version
// first, or 0.5 when none is recorded.
func (c nvdCVE) score() float64 {
	for _, ms := range [][]nvdMetric{c.Metrics.CVSSV31, c.Metrics.CVSSV30, c.Metrics.CVSSV2} {
		if len(ms) > 0 {
			return ms[0].CVSSData.BaseScore / 10.0
		}
	}
	return 0.5
}

func (n *NVD) Search(ctx context.Context, terms []string) ([]Item, error) {
	if len(terms) > nvdMaxTerms {
		terms = terms[:nvdMaxTerms]
	}
	seen := make(map[string]bool)
	var items []Item
	for _, term := range terms {
		cves, err := n.searchTerm(ctx, term)
		if err != nil {
			return topK(items, nvdMaxItems), err
		}
		for _, c := range cves {
			if c.ID == "" || seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			items = append(items, Item{
				Title:   c.ID,
				URL:     "https://nvd.nist.gov/vuln/detail/" + c.ID,
				Summary: c.description(),
				Score:   c.score(),
			})
		}
	}
	return topK(items, nvdMaxItems), nil
}

func (n *NVD) searchTerm(ctx context.Context, term string) ([]nvdCVE, error) {
	q := url.Values{}
	q.Set("keywordSearch", term)
	q.Set("resultsPerPage", strconv.Itoa(nvdPerTerm))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("nvd request: %w", err)
	}
	if n.APIKey != "" {
		req.Header.Set("apiKey", n.APIKey)
	}

	resp, err := n.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nvd fetch: %w", err)
	}
	defer resp.Body.Close()
	if err := statusFromResponse(resp, nvdSource); err != nil {
		return nil, err
	}

	var page nvdPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("nvd decode: %w", err)
	}
	cves := make([]nvdCVE, 0, len(page.Vulnerabilities))
	for _, v := range page.Vulnerabilities {
		cves = append(cves, v.CVE)
	}
	return cves, nil
}
