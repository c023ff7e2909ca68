package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"
)

const (
	githubSource     = "github"
	githubTTL        = 6 * time.Hour
	githubMaxTerms   = 3
	githubMaxItems   = 20
	githubPerPage    = 10
	githubK          = 50 // stars saturation constant for relevance
	githubDefaultAPI = "https://api.github.com"
)

// GitHub searches the code-host repository index. Relevance is star count
// normalized to (0,1) with diminishing returns: stars/(stars+50).
type GitHub struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewGitHub(token string, client *http.Client) *GitHub {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &GitHub{BaseURL: githubDefaultAPI, Token: token, Client: client}
}

func (g *GitHub) Name() string       { return githubSource }
func (g *GitHub) TTL() time.Duration { return githubTTL }

type githubRepo struct {
	FullName    string `json:"full_name"`
	HTMLURL     string `json:"html_url"`
	Description string `json:"description"`
	Stars       int    `json:"stargazers_count"`
}

type githubSearchPage struct {
	Items []githubRepo `json:"items"`
}

// Search queries the repository index once per term, newest-starred first,
// and merges the pages keeping the best-starred hit per repository.
func (g *GitHub) Search(ctx context.Context, terms []string) ([]Item, error) {
	if len(terms) > githubMaxTerms {
		terms = terms[:githubMaxTerms]
	}
	seen := make(map[string]bool)
	var items []Item
	for _, term := range terms {
		page, err := g.searchTerm(ctx, term)
		if err != nil {
			// A quota refusal stops querying but keeps what prior
			// terms already produced.
			return topK(items, githubMaxItems), err
		}
		for _, repo := range page {
			if seen[repo.FullName] {
				continue
			}
			seen[repo.FullName] = true
			items = append(items, Item{
				Title:   repo.FullName,
				URL:     repo.HTMLURL,
				Summary: repo.Description,
				Score:   float64(repo.Stars) / float64(repo.Stars+githubK),
			})
		}
	}
	return topK(items, githubMaxItems), nil
}

func (g *GitHub) searchTerm(ctx context.Context, term string) ([]githubRepo, error) {
	q := url.Values{}
	q.Set("q", fmt.Sprintf("%q in:name,description,topics", term))
	q.Set("sort", "stars")
	q.Set("order", "desc")
	q.Set("per_page", strconv.Itoa(githubPerPage))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		g.BaseURL+"/search/repositories?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("github request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if g.Token != "" {
		req.Header.Set("Authorization", "token "+g.Token)
	}

	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github fetch: %w", err)
	}
	defer resp.Body.Close()
	if err := statusFromResponse(resp, githubSource); err != nil {
		return nil, err
	}

	var page githubSearchPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("github decode: %w", err)
	}
	return page.Items, nil
}

// topK sorts by score descending, stable on input order, and truncates.
func topK(items []Item, k int) []Item {
	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })
	if len(items) > k {
		items = items[:k]
	}
	return items
}
