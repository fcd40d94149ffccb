/*
scenarios_test.go - Tests for demo scenarios

PURPOSE:
	Tests that each scenario sets up the expected state:
	- Businesses, items and users are created
	- Balances come from real engine operations
	- The ledger of every client explains its balance

These tests double as integration tests of the engine over SQLite.
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/warp/loyalty-engine/points"
)

func loadScenario(t *testing.T, s *testServer, id string) LoadScenarioResponse {
	t.Helper()
	rec := s.do(http.MethodPost, "/api/scenarios/load", s.admin, LoadScenarioRequest{ScenarioID: id})
	if rec.Code != http.StatusOK {
		t.Fatalf("Failed to load %s: %d %s", id, rec.Code, rec.Body.String())
	}
	return decode[LoadScenarioResponse](t, rec)
}

func TestScenario_CoffeeShop(t *testing.T) {
	// GIVEN: An empty server
	// WHEN: Loading coffee-shop
	// THEN: Ana has 90 points from nine coffees, two cards wait to be claimed
	s := newTestServer(t)
	ctx := context.Background()

	resp := loadScenario(t, s, "coffee-shop")
	if resp.Scenario != "coffee-shop" {
		t.Errorf("Expected scenario 'coffee-shop', got '%s'", resp.Scenario)
	}
	if len(resp.Tokens) != 2 {
		t.Fatalf("Expected 2 tokens, got %d", len(resp.Tokens))
	}
	barista, ok := resp.Tokens["barista@coffee.demo"]
	if !ok {
		t.Fatal("No token for barista@coffee.demo")
	}

	shop, err := s.h.Store.GetBusinessBySlug(ctx, "coffee-shop")
	if err != nil || shop == nil {
		t.Fatalf("Business coffee-shop not found: %v", err)
	}
	if shop.AllowNegativePoints {
		t.Error("Coffee shop should not allow overdraft")
	}
	if err := points.CheckActivationCode(*shop, "BREW"); err != nil {
		t.Errorf("Activation code BREW rejected: %v", err)
	}

	clients, total, err := s.h.Store.ListClients(ctx, shop.ID, "", points.Page{})
	if err != nil {
		t.Fatalf("Failed to list clients: %v", err)
	}
	if total != 4 {
		t.Errorf("Expected 4 clients, got %d", total)
	}

	byName := make(map[string]points.Client)
	inactive := 0
	for _, c := range clients {
		byName[c.Name] = c
		if !c.Active {
			inactive++
		}
	}
	if inactive != 2 {
		t.Errorf("Expected 2 inactive cards, got %d", inactive)
	}
	ana, ok := byName["Ana"]
	if !ok {
		t.Fatal("Ana not found")
	}
	if ana.Points != 90 {
		t.Errorf("Expected Ana at 90 points, got %d", ana.Points)
	}
	if byName["Ben"].Points != 0 {
		t.Errorf("Expected Ben at 0 points, got %d", byName["Ben"].Points)
	}

	// The barista token works and redeeming 100 from 90 is refused.
	items, err := s.h.Store.ListItems(ctx, shop.ID, false)
	if err != nil {
		t.Fatalf("Failed to list items: %v", err)
	}
	var freeCoffee points.Item
	for _, i := range items {
		if i.Name == "Free Coffee" {
			freeCoffee = i
		}
	}
	if freeCoffee.ID == "" {
		t.Fatal("Free Coffee item not found")
	}
	rec := s.applyItem(barista, ClientRefRequest{CardID: ana.CardID}, string(freeCoffee.ID))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 redeeming without enough points, got %d", rec.Code)
	}

	report, err := s.h.Auditor.RunNow(ctx)
	if err != nil {
		t.Fatalf("Audit failed: %v", err)
	}
	if len(report.Drifts) != 0 {
		t.Errorf("Expected clean ledger, got %d drifts", len(report.Drifts))
	}
	if report.Entries != 9 {
		t.Errorf("Expected 9 entries, got %d", report.Entries)
	}
}

func TestScenario_BarTab(t *testing.T) {
	// GIVEN: An empty server
	// WHEN: Loading bar-tab
	// THEN: Carla runs a -14 tab
	s := newTestServer(t)
	ctx := context.Background()

	loadScenario(t, s, "bar-tab")

	bar, err := s.h.Store.GetBusinessBySlug(ctx, "bar-tab")
	if err != nil || bar == nil {
		t.Fatalf("Business bar-tab not found: %v", err)
	}
	if !bar.AllowNegativePoints {
		t.Error("Bar tab should allow overdraft")
	}

	clients, _, err := s.h.Store.ListClients(ctx, bar.ID, "carla", points.Page{})
	if err != nil || len(clients) != 1 {
		t.Fatalf("Expected Carla, got %d clients (%v)", len(clients), err)
	}
	if clients[0].Points != -14 {
		t.Errorf("Expected Carla at -14, got %d", clients[0].Points)
	}

	latest, err := s.h.Store.LatestEntry(ctx, clients[0].ID)
	if err != nil || latest == nil {
		t.Fatalf("No latest entry: %v", err)
	}
	if latest.BeforePoints != 6 || latest.AfterPoints != -14 {
		t.Errorf("Expected 6 -> -14, got %d -> %d", latest.BeforePoints, latest.AfterPoints)
	}
}

func TestScenario_ReloadReplacesData(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	loadScenario(t, s, "coffee-shop")
	loadScenario(t, s, "bar-tab")

	businesses, err := s.h.Store.ListBusinesses(ctx)
	if err != nil {
		t.Fatalf("Failed to list businesses: %v", err)
	}
	if len(businesses) != 1 || businesses[0].Slug != "bar-tab" {
		t.Errorf("Expected only bar-tab after reload, got %d businesses", len(businesses))
	}

	rec := s.do(http.MethodGet, "/api/scenarios/current", s.admin, nil)
	if got := decode[ScenarioDTO](t, rec); got.ID != "bar-tab" {
		t.Errorf("Expected current scenario bar-tab, got '%s'", got.ID)
	}
}

func TestScenario_ListUnknownAndReset(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/scenarios", s.admin, nil)
	if list := decode[[]ScenarioDTO](t, rec); len(list) != 2 {
		t.Errorf("Expected 2 scenarios, got %d", len(list))
	}

	rec = s.do(http.MethodPost, "/api/scenarios/load", s.admin, LoadScenarioRequest{ScenarioID: "casino"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown scenario, got %d", rec.Code)
	}

	loadScenario(t, s, "coffee-shop")
	rec = s.do(http.MethodPost, "/api/scenarios/reset", s.admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Reset failed: %d", rec.Code)
	}
	businesses, err := s.h.Store.ListBusinesses(context.Background())
	if err != nil {
		t.Fatalf("Failed to list businesses: %v", err)
	}
	if len(businesses) != 0 {
		t.Errorf("Expected no businesses after reset, got %d", len(businesses))
	}

	rec = s.do(http.MethodGet, "/api/scenarios/current", s.admin, nil)
	if rec.Body.String() != "null\n" {
		t.Errorf("Expected no current scenario, got %s", rec.Body.String())
	}
}

func TestScenario_RoutesOnlyInDevelopment(t *testing.T) {
	// GIVEN: A server with data, routed with production options
	// WHEN: An admin calls the scenario endpoints
	// THEN: They do not exist and nothing is wiped
	s := newTestServer(t)
	loadScenario(t, s, "coffee-shop")

	prod := *s
	prod.router = NewRouter(s.h, RouterOptions{})

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/scenarios"},
		{http.MethodPost, "/api/scenarios/load"},
		{http.MethodPost, "/api/scenarios/reset"},
	} {
		rec := prod.do(tc.method, tc.path, s.admin, LoadScenarioRequest{ScenarioID: "bar-tab"})
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s: expected 404, got %d", tc.method, tc.path, rec.Code)
		}
	}

	businesses, err := s.h.Store.ListBusinesses(context.Background())
	if err != nil {
		t.Fatalf("Failed to list businesses: %v", err)
	}
	if len(businesses) != 1 || businesses[0].Slug != "coffee-shop" {
		t.Errorf("Expected coffee-shop to survive, got %d businesses", len(businesses))
	}
}
