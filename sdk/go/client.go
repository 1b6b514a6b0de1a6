package innkeepsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal innkeep HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Room is the API room model.
type Room struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	NightlyRate string `json:"nightly_rate"`
	Capacity    int    `json:"capacity"`
	Active      bool   `json:"active"`
}

// Reservation is the API reservation model. Dates are YYYY-MM-DD, prices decimal strings.
type Reservation struct {
	ID         string `json:"id"`
	RoomID     string `json:"room_id"`
	GuestID    string `json:"guest_id"`
	GuestName  string `json:"guest_name,omitempty"`
	CheckIn    string `json:"check_in"`
	CheckOut   string `json:"check_out"`
	Nights     int    `json:"nights"`
	GuestCount int    `json:"guest_count"`
	TotalPrice string `json:"total_price"`
	Status     string `json:"status"`
	Notes      string `json:"notes,omitempty"`
	Version    int    `json:"version"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

type Booking struct {
	RoomID     string `json:"room_id"`
	GuestID    string `json:"guest_id,omitempty"`
	GuestName  string `json:"guest_name,omitempty"`
	CheckIn    string `json:"check_in"`
	CheckOut   string `json:"check_out"`
	GuestCount int    `json:"guest_count"`
	Notes      string `json:"notes,omitempty"`
}

type Availability struct {
	RoomID    string   `json:"room_id"`
	CheckIn   string   `json:"check_in"`
	CheckOut  string   `json:"check_out"`
	Available bool     `json:"available"`
	Conflicts []string `json:"conflicts"`
}

type Quote struct {
	RoomID     string `json:"room_id"`
	Nights     int    `json:"nights"`
	GuestCount int    `json:"guest_count"`
	TotalPrice string `json:"total_price"`
}

// SearchParams filters the reservation search. Zero values are omitted.
type SearchParams struct {
	Statuses []string
	RoomID   string
	GuestID  string
	From     string
	To       string
	Query    string
	Limit    int
	Cursor   string
}

// PaginatedReservations wraps search results with a cursor.
type PaginatedReservations struct {
	Items      []Reservation `json:"items"`
	NextCursor string        `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code is the server's machine-readable
// error code when the body is the standard error envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Book creates a pending reservation.
func (c *Client) Book(ctx context.Context, b Booking) (Reservation, error) {
	var resp Reservation
	err := c.do(ctx, http.MethodPost, "reservations", b, &resp)
	return resp, err
}

// Reservation fetches one reservation.
func (c *Client) Reservation(ctx context.Context, id string) (Reservation, error) {
	var resp Reservation
	err := c.do(ctx, http.MethodGet, "reservations/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// SetStatus moves a reservation to confirmed, cancelled or completed.
// expectedVersion 0 skips the version check.
func (c *Client) SetStatus(ctx context.Context, id, status string, expectedVersion int) (Reservation, error) {
	body := map[string]any{"status": status}
	if expectedVersion > 0 {
		body["expected_version"] = expectedVersion
	}
	var resp Reservation
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("reservations/%s/status", url.PathEscape(id)), body, &resp)
	return resp, err
}

func (c *Client) Confirm(ctx context.Context, id string) (Reservation, error) {
	return c.SetStatus(ctx, id, "confirmed", 0)
}

func (c *Client) Cancel(ctx context.Context, id string) (Reservation, error) {
	return c.SetStatus(ctx, id, "cancelled", 0)
}

func (c *Client) Complete(ctx context.Context, id string) (Reservation, error) {
	return c.SetStatus(ctx, id, "completed", 0)
}

// Search returns one page of reservations, newest first.
func (c *Client) Search(ctx context.Context, p SearchParams) (PaginatedReservations, error) {
	q := url.Values{}
	if len(p.Statuses) > 0 {
		q.Set("status", strings.Join(p.Statuses, ","))
	}
	for k, v := range map[string]string{"room_id": p.RoomID, "guest_id": p.GuestID, "from": p.From, "to": p.To, "q": p.Query, "cursor": p.Cursor} {
		if v != "" {
			q.Set(k, v)
		}
	}
	if p.Limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", p.Limit))
	}
	endpoint := "reservations"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedReservations
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Availability checks a room for a stay.
func (c *Client) Availability(ctx context.Context, roomID, checkIn, checkOut string) (Availability, error) {
	q := url.Values{"check_in": {checkIn}, "check_out": {checkOut}}
	var resp Availability
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("rooms/%s/availability?%s", url.PathEscape(roomID), q.Encode()), nil, &resp)
	return resp, err
}

// Quote prices a stay without booking it.
func (c *Client) Quote(ctx context.Context, roomID, checkIn, checkOut string, guests int) (Quote, error) {
	q := url.Values{"check_in": {checkIn}, "check_out": {checkOut}, "guests": {fmt.Sprintf("%d", guests)}}
	var resp Quote
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("rooms/%s/quote?%s", url.PathEscape(roomID), q.Encode()), nil, &resp)
	return resp, err
}

// Rooms lists bookable rooms.
func (c *Client) Rooms(ctx context.Context) ([]Room, error) {
	var resp []Room
	err := c.do(ctx, http.MethodGet, "rooms", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
