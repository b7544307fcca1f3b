// Package refdata is the REST client for the venue's reference-data
// catalogue: sports, leagues, fixtures and markets. It backs the
// position-creation flow only; the trading core never touches it.
package refdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/oddslab/makerbot/internal/domain"
)

// Client implements domain.ReferenceData.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a reference-data client.
//
// baseURL is the API root, e.g. "https://api.prophetx.co".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ListSports returns all sports offered by the venue.
func (c *Client) ListSports(ctx context.Context) ([]domain.Sport, error) {
	var payload struct {
		Sports []domain.Sport `json:"sports"`
	}
	if err := c.doGet(ctx, "/v1/sports", &payload); err != nil {
		return nil, fmt.Errorf("refdata: list sports: %w", err)
	}
	return payload.Sports, nil
}

// ListLeagues returns the leagues of a sport.
func (c *Client) ListLeagues(ctx context.Context, sportID string) ([]domain.League, error) {
	var payload struct {
		Leagues []domain.League `json:"leagues"`
	}
	path := "/v1/leagues?sport_id=" + url.QueryEscape(sportID)
	if err := c.doGet(ctx, path, &payload); err != nil {
		return nil, fmt.Errorf("refdata: list leagues %s: %w", sportID, err)
	}
	return payload.Leagues, nil
}

// ListFixtures returns the fixtures of a league.
func (c *Client) ListFixtures(ctx context.Context, leagueID string) ([]domain.Fixture, error) {
	var payload struct {
		Fixtures []domain.Fixture `json:"fixtures"`
	}
	path := "/v1/fixtures?league_id=" + url.QueryEscape(leagueID)
	if err := c.doGet(ctx, path, &payload); err != nil {
		return nil, fmt.Errorf("refdata: list fixtures %s: %w", leagueID, err)
	}
	return payload.Fixtures, nil
}

// ListMarkets returns the markets of a fixture.
func (c *Client) ListMarkets(ctx context.Context, fixtureID string) ([]domain.Market, error) {
	var payload struct {
		Markets []domain.Market `json:"markets"`
	}
	path := "/v1/markets?fixture_id=" + url.QueryEscape(fixtureID)
	if err := c.doGet(ctx, path, &payload); err != nil {
		return nil, fmt.Errorf("refdata: list markets %s: %w", fixtureID, err)
	}
	return payload.Markets, nil
}

// GetMarket returns a single market by id.
func (c *Client) GetMarket(ctx context.Context, marketID string) (domain.Market, error) {
	var market domain.Market
	path := "/v1/markets/" + url.PathEscape(marketID)
	if err := c.doGet(ctx, path, &market); err != nil {
		return domain.Market{}, fmt.Errorf("refdata: get market %s: %w", marketID, err)
	}
	return market, nil
}

func (c *Client) doGet(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%v: %w", err, domain.ErrTransport)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", domain.ErrTransport)
	}
	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %d: %w", resp.StatusCode, domain.ErrTransport)
	}
	return json.Unmarshal(body, out)
}
