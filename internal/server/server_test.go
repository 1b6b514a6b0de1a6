package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"innkeep/internal/config"
	"innkeep/internal/db"
	"innkeep/internal/domain"
	"innkeep/internal/engine"
	"innkeep/internal/inventory"
	"innkeep/internal/migrate"
	"innkeep/internal/repo"
)

const testSecret = "test-secret"

var (
	adminHeaders = map[string]string{"X-Guest-Id": "staff-1", "X-Roles": "admin"}
	aliceHeaders = map[string]string{"X-Guest-Id": "alice", "X-Roles": "guest"}
	bobHeaders   = map[string]string{"X-Guest-Id": "bob", "X-Roles": "guest"}
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, dialect, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	e, err := engine.New(repo.New(conn, dialect), cfg)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	e.Now = func() time.Time { return now }
	e.Rooms.Now = e.Now
	log := logrus.New()
	log.SetOutput(io.Discard)
	e.Log = log
	if _, err := e.Rooms.Create(context.Background(), inventory.RoomInput{ID: "R1", Name: "Garden", NightlyRate: "2000", Capacity: 2}); err != nil {
		t.Fatalf("seed room: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowDevHeaders: true},
		Log:      log,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env
}

func book(t *testing.T, srv *testServer, headers map[string]string, checkIn, checkOut string) (*http.Response, []byte) {
	t.Helper()
	return doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/reservations", map[string]any{
		"room_id":     "R1",
		"check_in":    checkIn,
		"check_out":   checkOut,
		"guest_count": 1,
	}, headers)
}

func TestBookingFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := book(t, srv, aliceHeaders, "2024-05-10", "2024-05-13")
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var created ReservationResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal reservation: %v", err)
	}
	if created.Status != "pending" || created.TotalPrice != "6000.00" || created.GuestID != "alice" || created.Nights != 3 {
		t.Fatalf("unexpected reservation %+v", created)
	}

	res, data = book(t, srv, bobHeaders, "2024-05-12", "2024-05-14")
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict, got %d %s", res.StatusCode, string(data))
	}
	env := decodeError(t, data)
	if env.Error.Code != "room_unavailable" {
		t.Fatalf("unexpected error code %q", env.Error.Code)
	}

	res, data = book(t, srv, bobHeaders, "2024-05-13", "2024-05-14")
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("back-to-back booking: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/rooms/R1/availability?check_in=2024-05-11&check_out=2024-05-12", nil, bobHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("availability: %d %s", res.StatusCode, string(data))
	}
	var avail AvailabilityResponse
	_ = json.Unmarshal(data, &avail)
	if avail.Available || len(avail.Conflicts) != 1 || avail.Conflicts[0] != created.ID {
		t.Fatalf("unexpected availability %+v", avail)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reservations/"+created.ID+"/status", map[string]any{"status": "cancelled"}, aliceHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("cancel own: %d %s", res.StatusCode, string(data))
	}
	res, data = book(t, srv, bobHeaders, "2024-05-12", "2024-05-13")
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("rebook after cancel: %d %s", res.StatusCode, string(data))
	}
}

func TestGuestPermissions(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := book(t, srv, aliceHeaders, "2024-05-10", "2024-05-12")
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, string(data))
	}
	var created ReservationResponse
	_ = json.Unmarshal(data, &created)

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/reservations/"+created.ID, nil, bobHeaders)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("other guest should not see reservation, got %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reservations/"+created.ID+"/status", map[string]any{"status": "confirmed"}, aliceHeaders)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("guest confirm: expected 403, got %d %s", res.StatusCode, string(data))
	}
	if env := decodeError(t, data); env.Error.Details["permission"] != "reservations.confirm" {
		t.Fatalf("unexpected details %+v", env.Error.Details)
	}
	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/rooms", map[string]any{
		"id": "R2", "name": "Attic", "nightly_rate": "900", "capacity": 1,
	}, aliceHeaders)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("guest room create: expected 403, got %d", res.StatusCode)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/reservations", nil, bobHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("guest search: %d %s", res.StatusCode, string(data))
	}
	var page paginatedReservations
	_ = json.Unmarshal(data, &page)
	if len(page.Items) != 0 {
		t.Fatalf("bob must only see his own reservations, got %d", len(page.Items))
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous /me: expected 401, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health must be public, got %d", res.StatusCode)
	}
}

func TestAdminLifecycleAndSearch(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := book(t, srv, aliceHeaders, "2024-05-01", "2024-05-03")
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, string(data))
	}
	var created ReservationResponse
	_ = json.Unmarshal(data, &created)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/reservations/"+created.ID+"/transitions", nil, adminHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("transitions: %d %s", res.StatusCode, string(data))
	}
	var tr TransitionsResponse
	_ = json.Unmarshal(data, &tr)
	if len(tr.Allowed) != 2 || tr.Allowed[0] != "confirmed" || tr.Allowed[1] != "cancelled" {
		t.Fatalf("unexpected transitions %+v", tr)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reservations/"+created.ID+"/status", map[string]any{
		"status": "confirmed", "expected_version": 1,
	}, adminHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("confirm: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reservations/"+created.ID+"/status", map[string]any{
		"status": "cancelled", "expected_version": 1,
	}, adminHeaders)
	if res.StatusCode != http.StatusConflict || decodeError(t, data).Error.Code != "version_conflict" {
		t.Fatalf("stale version: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reservations/"+created.ID+"/status", map[string]any{
		"status": "completed",
	}, adminHeaders)
	if res.StatusCode != http.StatusConflict || decodeError(t, data).Error.Code != "premature_completion" {
		t.Fatalf("early completion: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/reservations?status=confirmed&room_id=R1", nil, adminHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("search: %d %s", res.StatusCode, string(data))
	}
	var page paginatedReservations
	_ = json.Unmarshal(data, &page)
	if len(page.Items) != 1 || page.Items[0].ID != created.ID || page.Items[0].Status != "confirmed" {
		t.Fatalf("unexpected search page %+v", page)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/reservations?status=bogus", nil, adminHeaders)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad status filter: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/stats", nil, adminHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stats: %d %s", res.StatusCode, string(data))
	}
	var stats StatsResponse
	_ = json.Unmarshal(data, &stats)
	if stats.ByStatus["confirmed"] != 1 || stats.IndexedEntries != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/admin/index/rebuild", nil, adminHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("rebuild: %d %s", res.StatusCode, string(data))
	}
	var rebuilt RebuildResponse
	_ = json.Unmarshal(data, &rebuilt)
	if rebuilt.Entries != 1 {
		t.Fatalf("unexpected rebuild result %+v", rebuilt)
	}
}

func TestSearchPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	for _, day := range []string{"2024-06-01", "2024-06-03", "2024-06-05"} {
		d, _ := domain.ParseDate(day)
		res, data := book(t, srv, aliceHeaders, day, domain.FormatDate(d.AddDate(0, 0, 1)))
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create %s: %d %s", day, res.StatusCode, string(data))
		}
	}
	seen := map[string]bool{}
	cursor := ""
	for pages := 0; pages < 5; pages++ {
		url := srv.URL + "/v0/reservations?limit=2"
		if cursor != "" {
			url += "&cursor=" + cursor
		}
		res, data := doJSON(t, client, http.MethodGet, url, nil, adminHeaders)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("page: %d %s", res.StatusCode, string(data))
		}
		var page paginatedReservations
		_ = json.Unmarshal(data, &page)
		for _, it := range page.Items {
			if seen[it.ID] {
				t.Fatalf("reservation %s returned twice", it.ID)
			}
			seen[it.ID] = true
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 reservations across pages, got %d", len(seen))
	}
}

func TestValidationErrors(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := book(t, srv, aliceHeaders, "2024-05-10", "2024-05-10")
	if res.StatusCode != http.StatusBadRequest || decodeError(t, data).Error.Code != "invalid_range" {
		t.Fatalf("zero-night stay: %d %s", res.StatusCode, string(data))
	}
	res, data = book(t, srv, aliceHeaders, "2024-04-20", "2024-04-22")
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("past check-in: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reservations", map[string]any{
		"room_id": "R1", "check_in": "2024-05-10", "check_out": "2024-05-12", "guest_count": 3,
	}, aliceHeaders)
	if res.StatusCode != http.StatusUnprocessableEntity || decodeError(t, data).Error.Code != "capacity_exceeded" {
		t.Fatalf("over capacity: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reservations", map[string]any{
		"room_id": "nope", "check_in": "2024-05-10", "check_out": "2024-05-12", "guest_count": 1,
	}, aliceHeaders)
	if res.StatusCode != http.StatusNotFound || decodeError(t, data).Error.Code != "room_not_found" {
		t.Fatalf("unknown room: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/rooms/R1/quote?check_in=2024-05-10&check_out=2024-05-11&guests=1", nil, aliceHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("quote: %d %s", res.StatusCode, string(data))
	}
	var quote QuoteResponse
	_ = json.Unmarshal(data, &quote)
	if quote.TotalPrice != "2000.00" || quote.Nights != 1 {
		t.Fatalf("unexpected quote %+v", quote)
	}
}

func TestRoomAdmin(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/rooms", map[string]any{
		"id": "R2", "name": "Attic", "nightly_rate": "1500", "capacity": 1,
	}, adminHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create room: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/rooms/R2", map[string]any{"active": false}, adminHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("deactivate: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reservations", map[string]any{
		"room_id": "R2", "check_in": "2024-05-10", "check_out": "2024-05-11", "guest_count": 1,
	}, aliceHeaders)
	if res.StatusCode != http.StatusConflict || decodeError(t, data).Error.Code != "room_inactive" {
		t.Fatalf("inactive room booking: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/rooms", nil, aliceHeaders)
	var rooms []RoomResponse
	_ = json.Unmarshal(data, &rooms)
	if res.StatusCode != http.StatusOK || len(rooms) != 1 {
		t.Fatalf("active rooms: %d %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/rooms?include_inactive=true", nil, aliceHeaders)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("guest include_inactive: expected 403, got %d", res.StatusCode)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/rooms/R1/free?from=2024-05-01&to=2024-05-31", nil, aliceHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("free ranges: %d %s", res.StatusCode, string(data))
	}
	var free []DateRangeResponse
	_ = json.Unmarshal(data, &free)
	if len(free) != 1 || free[0].Nights != 30 {
		t.Fatalf("unexpected free ranges %+v", free)
	}
}

func TestBearerAndAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	token, err := signToken(testSecret, "carol", []string{"guest"}, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me with jwt: %d %s", res.StatusCode, string(data))
	}
	var who WhoAmIResponse
	_ = json.Unmarshal(data, &who)
	if who.GuestID != "carol" || who.Source != "jwt" {
		t.Fatalf("unexpected principal %+v", who)
	}

	bad, _ := signToken("other-secret", "carol", nil, time.Hour, time.Now())
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + bad})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("foreign token: expected 401, got %d", res.StatusCode)
	}

	key := "ik_test_key"
	if err := srv.Engine.Repo.InsertAPIKey(context.Background(), domain.APIKey{
		ID: "k1", Subject: "frontdesk", Role: "admin", KeyHash: repo.HashAPIKey(key), CreatedAt: domain.FormatTimestamp(time.Now()),
	}); err != nil {
		t.Fatalf("insert api key: %v", err)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/stats", nil, map[string]string{"X-Api-Key": key})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stats with api key: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"guest_id": "dave", "roles": []string{"guest"}}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	_ = json.Unmarshal(data, &login)
	if _, err := authenticateJWT(login.Token, testSecret); err != nil {
		t.Fatalf("dev token rejected: %v", err)
	}
}
