package server

import (
	"innkeep/internal/domain"
	"innkeep/internal/engine"
	"innkeep/internal/lifecycle"
)

// Request payloads

type CreateRoomRequest struct {
	ID          string `json:"id" maxLength:"64"`
	Name        string `json:"name" maxLength:"120"`
	NightlyRate string `json:"nightly_rate" example:"2000.00"`
	Capacity    int    `json:"capacity" minimum:"1"`
	Active      *bool  `json:"active,omitempty"`
}

type UpdateRoomRequest struct {
	Name        *string `json:"name,omitempty"`
	NightlyRate *string `json:"nightly_rate,omitempty"`
	Capacity    *int    `json:"capacity,omitempty"`
	Active      *bool   `json:"active,omitempty"`
}

type CreateReservationRequest struct {
	RoomID     string `json:"room_id"`
	GuestID    string `json:"guest_id,omitempty" doc:"Defaults to the caller; staff may book for another guest"`
	GuestName  string `json:"guest_name,omitempty"`
	CheckIn    string `json:"check_in" format:"date" example:"2024-05-10"`
	CheckOut   string `json:"check_out" format:"date" example:"2024-05-13"`
	GuestCount int    `json:"guest_count" minimum:"1"`
	Notes      string `json:"notes,omitempty"`
}

type SetStatusRequest struct {
	Status          string `json:"status" enum:"confirmed,cancelled,completed"`
	ExpectedVersion int    `json:"expected_version,omitempty" doc:"Reject the change when the reservation moved past this version"`
}

type DevLoginRequest struct {
	GuestID string   `json:"guest_id"`
	Roles   []string `json:"roles,omitempty"`
}

// Response payloads

type RoomResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	NightlyRate string `json:"nightly_rate"`
	Capacity    int    `json:"capacity"`
	Active      bool   `json:"active"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type ReservationResponse struct {
	ID         string `json:"id"`
	RoomID     string `json:"room_id"`
	GuestID    string `json:"guest_id"`
	GuestName  string `json:"guest_name,omitempty"`
	CheckIn    string `json:"check_in" format:"date"`
	CheckOut   string `json:"check_out" format:"date"`
	Nights     int    `json:"nights"`
	GuestCount int    `json:"guest_count"`
	TotalPrice string `json:"total_price"`
	Status     string `json:"status" enum:"pending,confirmed,cancelled,completed"`
	Notes      string `json:"notes,omitempty"`
	Version    int    `json:"version"`
	CreatedAt  string `json:"created_at" format:"date-time"`
	UpdatedAt  string `json:"updated_at" format:"date-time"`
}

type paginatedReservations struct {
	Items      []ReservationResponse `json:"items"`
	NextCursor string                `json:"next_cursor,omitempty"`
}

type AvailabilityResponse struct {
	RoomID    string   `json:"room_id"`
	CheckIn   string   `json:"check_in" format:"date"`
	CheckOut  string   `json:"check_out" format:"date"`
	Available bool     `json:"available"`
	Conflicts []string `json:"conflicts"`
}

type DateRangeResponse struct {
	CheckIn  string `json:"check_in" format:"date"`
	CheckOut string `json:"check_out" format:"date"`
	Nights   int    `json:"nights"`
}

type QuoteResponse struct {
	RoomID     string `json:"room_id"`
	CheckIn    string `json:"check_in" format:"date"`
	CheckOut   string `json:"check_out" format:"date"`
	Nights     int    `json:"nights"`
	GuestCount int    `json:"guest_count"`
	TotalPrice string `json:"total_price"`
}

type TransitionsResponse struct {
	ID      string   `json:"id"`
	Status  string   `json:"status"`
	Allowed []string `json:"allowed"`
}

type StatsResponse struct {
	ByStatus       map[string]int `json:"by_status"`
	IndexedEntries int            `json:"indexed_entries"`
}

type RebuildResponse struct {
	RoomID  string `json:"room_id,omitempty"`
	Entries int    `json:"entries"`
}

type WhoAmIResponse struct {
	GuestID     string   `json:"guest_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Source      string   `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Mappers

func roomResponse(r domain.Room) RoomResponse {
	return RoomResponse{
		ID:          r.ID,
		Name:        r.Name,
		NightlyRate: r.NightlyRate.StringFixed(2),
		Capacity:    r.Capacity,
		Active:      r.Active,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func mapRooms(items []domain.Room) []RoomResponse {
	res := make([]RoomResponse, 0, len(items))
	for _, r := range items {
		res = append(res, roomResponse(r))
	}
	return res
}

func reservationResponse(r domain.Reservation) ReservationResponse {
	return ReservationResponse{
		ID:         r.ID,
		RoomID:     r.RoomID,
		GuestID:    r.GuestID,
		GuestName:  r.GuestName,
		CheckIn:    domain.FormatDate(r.Range.CheckIn),
		CheckOut:   domain.FormatDate(r.Range.CheckOut),
		Nights:     r.Range.Nights(),
		GuestCount: r.GuestCount,
		TotalPrice: r.TotalPrice.StringFixed(2),
		Status:     string(r.Status),
		Notes:      r.Notes,
		Version:    r.Version,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func mapReservations(items []domain.Reservation) []ReservationResponse {
	res := make([]ReservationResponse, 0, len(items))
	for _, r := range items {
		res = append(res, reservationResponse(r))
	}
	return res
}

func availabilityResponse(a engine.Availability) AvailabilityResponse {
	return AvailabilityResponse{
		RoomID:    a.RoomID,
		CheckIn:   domain.FormatDate(a.Range.CheckIn),
		CheckOut:  domain.FormatDate(a.Range.CheckOut),
		Available: a.Available,
		Conflicts: nonNilSlice(a.Conflicts),
	}
}

func mapRanges(items []domain.DateRange) []DateRangeResponse {
	res := make([]DateRangeResponse, 0, len(items))
	for _, r := range items {
		res = append(res, DateRangeResponse{
			CheckIn:  domain.FormatDate(r.CheckIn),
			CheckOut: domain.FormatDate(r.CheckOut),
			Nights:   r.Nights(),
		})
	}
	return res
}

func transitionsResponse(r domain.Reservation) TransitionsResponse {
	next := lifecycle.Next(r.Status)
	allowed := make([]string, 0, len(next))
	for _, s := range next {
		allowed = append(allowed, string(s))
	}
	return TransitionsResponse{ID: r.ID, Status: string(r.Status), Allowed: allowed}
}

func statsResponse(s engine.Stats) StatsResponse {
	res := StatsResponse{ByStatus: map[string]int{}, IndexedEntries: s.IndexedEntries}
	for _, st := range domain.Statuses {
		res.ByStatus[string(st)] = s.ByStatus[st]
	}
	return res
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
