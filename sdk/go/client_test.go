package innkeepsdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBookSendsCredentialsAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v0/reservations" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "k" {
			t.Errorf("missing api key header")
		}
		var b Booking
		_ = json.NewDecoder(r.Body).Decode(&b)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Reservation{ID: "res-1", RoomID: b.RoomID, CheckIn: b.CheckIn, CheckOut: b.CheckOut, Status: "pending"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.APIKey = "k"
	res, err := c.Book(context.Background(), Booking{RoomID: "R1", CheckIn: "2024-05-10", CheckOut: "2024-05-13", GuestCount: 1})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if res.ID != "res-1" || res.RoomID != "R1" || res.Status != "pending" {
		t.Fatalf("unexpected reservation %+v", res)
	}
}

func TestErrorEnvelopeDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"room_unavailable","message":"room R1 is not available"}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Availability(context.Background(), "R1", "2024-05-10", "2024-05-13")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Code != "room_unavailable" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}
