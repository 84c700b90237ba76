// README: Handler tests with stubbed services.
package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"unipool/internal/http/handlers"
	"unipool/internal/modules/entryrequest"
	"unipool/internal/modules/matching"
	"unipool/internal/modules/ride"
	"unipool/internal/modules/riderequest"
	"unipool/internal/types"
)

type stubMatcher struct {
	entry *entryrequest.EntryRequest
	err   error
	got   matching.MatchRequest
}

func (s *stubMatcher) MatchAndAssign(_ context.Context, req matching.MatchRequest) (*entryrequest.EntryRequest, error) {
	s.got = req
	return s.entry, s.err
}

type stubGeocoder struct {
	places map[string][]types.Place
}

func (s *stubGeocoder) Search(_ context.Context, address string) ([]types.Place, error) {
	return s.places[address], nil
}

type stubRequests struct {
	byID map[types.ID]*riderequest.RideRequest
}

func (s *stubRequests) Get(_ context.Context, id types.ID) (*riderequest.RideRequest, error) {
	r, ok := s.byID[id]
	if !ok {
		return nil, riderequest.ErrNotFound
	}
	return r, nil
}

func (s *stubRequests) Cancel(_ context.Context, id types.ID) (bool, error) {
	r, ok := s.byID[id]
	if !ok || r.Status != riderequest.StatusPending {
		return false, nil
	}
	r.Status = riderequest.StatusCancelled
	return true, nil
}

type stubLedger struct {
	entry *entryrequest.EntryRequest
	err   error
}

func (s *stubLedger) Get(_ context.Context, _ types.ID) (*entryrequest.EntryRequest, error) {
	return s.entry, s.err
}
func (s *stubLedger) Approve(_ context.Context, _ types.ID) (*entryrequest.EntryRequest, error) {
	return s.entry, s.err
}
func (s *stubLedger) Reject(_ context.Context, _ types.ID) (*entryrequest.EntryRequest, error) {
	return s.entry, s.err
}
func (s *stubLedger) Cancel(_ context.Context, _, _ types.ID) (*entryrequest.EntryRequest, error) {
	return s.entry, s.err
}

func doJSON(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func rideRequestRouter(m *stubMatcher, g *stubGeocoder, reqs *stubRequests) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := handlers.NewRideRequestHandler(m, g, reqs)
	r := gin.New()
	r.POST("/api/ride-requests", h.Create)
	r.GET("/api/ride-requests/:id", h.Get)
	r.POST("/api/ride-requests/:id/cancel", h.Cancel)
	return r
}

func TestCreateRideRequest_Matched(t *testing.T) {
	m := &stubMatcher{entry: &entryrequest.EntryRequest{
		ID: "e1", RideID: "r1", RideRequestID: "q1", StudentID: "alice",
		Status: entryrequest.StatusPending,
	}}
	r := rideRequestRouter(m, &stubGeocoder{}, &stubRequests{})

	w := doJSON(r, http.MethodPost, "/api/ride-requests", map[string]any{
		"student_id":      "alice",
		"origin":          map[string]any{"label": "dorm", "lat": 25.0, "lng": 121.5},
		"destination":     map[string]any{"label": "campus", "lat": 25.1, "lng": 121.6},
		"desired_arrival": time.Now().Add(2 * time.Hour).Format(time.RFC3339),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["ride_id"] != "r1" || resp["status"] != "pending" {
		t.Fatalf("unexpected body: %v", resp)
	}
	if m.got.Origin.Point.Lat != 25.0 {
		t.Fatalf("origin not passed through: %+v", m.got.Origin)
	}
}

func TestCreateRideRequest_GeocodesAddress(t *testing.T) {
	m := &stubMatcher{entry: &entryrequest.EntryRequest{ID: "e1", Status: entryrequest.StatusPending}}
	g := &stubGeocoder{places: map[string][]types.Place{
		"main library": {{Label: "Main Library", Point: types.Point{Lat: 25.3, Lng: 121.7}}},
	}}
	r := rideRequestRouter(m, g, &stubRequests{})

	w := doJSON(r, http.MethodPost, "/api/ride-requests", map[string]any{
		"student_id":      "alice",
		"origin_address":  "main library",
		"destination":     map[string]any{"label": "campus", "lat": 25.1, "lng": 121.6},
		"desired_arrival": time.Now().Add(2 * time.Hour).Format(time.RFC3339),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if m.got.Origin.Label != "Main Library" || m.got.Origin.Point.Lat != 25.3 {
		t.Fatalf("address not geocoded: %+v", m.got.Origin)
	}
}

func TestCreateRideRequest_NoCompatibleRide(t *testing.T) {
	m := &stubMatcher{err: matching.ErrNoCompatibleRide}
	r := rideRequestRouter(m, &stubGeocoder{}, &stubRequests{})

	w := doJSON(r, http.MethodPost, "/api/ride-requests", map[string]any{
		"student_id":      "alice",
		"origin":          map[string]any{"lat": 25.0, "lng": 121.5},
		"destination":     map[string]any{"lat": 25.1, "lng": 121.6},
		"desired_arrival": time.Now().Add(time.Hour).Format(time.RFC3339),
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
}

func TestCreateRideRequest_MissingFields(t *testing.T) {
	r := rideRequestRouter(&stubMatcher{}, &stubGeocoder{}, &stubRequests{})

	w := doJSON(r, http.MethodPost, "/api/ride-requests", map[string]any{
		"student_id": "alice",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestCancelRideRequest_WrongStudent(t *testing.T) {
	reqs := &stubRequests{byID: map[types.ID]*riderequest.RideRequest{
		"q1": {ID: "q1", StudentID: "alice", Status: riderequest.StatusPending},
	}}
	r := rideRequestRouter(&stubMatcher{}, &stubGeocoder{}, reqs)

	w := doJSON(r, http.MethodPost, "/api/ride-requests/q1/cancel", map[string]any{"student_id": "bob"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}

	w = doJSON(r, http.MethodPost, "/api/ride-requests/q1/cancel", map[string]any{"student_id": "alice"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", w.Code, w.Body.String())
	}
}

func entryRouter(l *stubLedger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := handlers.NewEntryRequestHandler(l)
	r := gin.New()
	r.POST("/api/entry-requests/:id/approve", h.Approve)
	r.POST("/api/entry-requests/:id/reject", h.Reject)
	r.POST("/api/entry-requests/:id/cancel", h.Cancel)
	return r
}

func TestApproveEntry_SeatConflict(t *testing.T) {
	r := entryRouter(&stubLedger{err: entryrequest.ErrSeatConflict})

	w := doJSON(r, http.MethodPost, "/api/entry-requests/e1/approve", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
}

func TestApproveEntry_OK(t *testing.T) {
	r := entryRouter(&stubLedger{entry: &entryrequest.EntryRequest{
		ID: "e1", RideID: "r1", Status: entryrequest.StatusApproved,
	}})

	w := doJSON(r, http.MethodPost, "/api/entry-requests/e1/approve", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["status"] != "approved" {
		t.Fatalf("unexpected body: %v", resp)
	}
}

func TestCancelEntry_PermissionDenied(t *testing.T) {
	r := entryRouter(&stubLedger{err: entryrequest.ErrPermissionDenied})

	w := doJSON(r, http.MethodPost, "/api/entry-requests/e1/cancel", map[string]any{"actor_id": "mallory"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestCancelEntry_MissingActor(t *testing.T) {
	r := entryRouter(&stubLedger{})

	w := doJSON(r, http.MethodPost, "/api/entry-requests/e1/cancel", map[string]any{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

type stubRideService struct {
	ride *ride.Ride
	err  error
}

func (s *stubRideService) Create(_ context.Context, _ ride.CreateCommand) (*ride.Ride, error) {
	return s.ride, s.err
}
func (s *stubRideService) Get(_ context.Context, _ types.ID) (*ride.Ride, error) {
	return s.ride, s.err
}
func (s *stubRideService) Start(_ context.Context, _, _ types.ID) error  { return s.err }
func (s *stubRideService) Finish(_ context.Context, _, _ types.ID) error { return s.err }
func (s *stubRideService) Cancel(_ context.Context, _, _ types.ID) error { return s.err }
func (s *stubRideService) PublishLocation(_ context.Context, _, _ types.ID, _ types.Point) error {
	return s.err
}

func rideRouter(svc *stubRideService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := handlers.NewRideHandler(svc)
	r := gin.New()
	r.POST("/api/rides", h.Create)
	r.POST("/api/rides/:id/start", h.Start)
	r.POST("/api/rides/:id/location", h.PublishLocation)
	return r
}

func TestStartRide_WrongDriver(t *testing.T) {
	r := rideRouter(&stubRideService{err: ride.ErrPermissionDenied})

	w := doJSON(r, http.MethodPost, "/api/rides/r1/start", map[string]any{"driver_id": "mallory"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestPublishLocation_NotInProgress(t *testing.T) {
	r := rideRouter(&stubRideService{err: ride.ErrInvalidState})

	w := doJSON(r, http.MethodPost, "/api/rides/r1/location", map[string]any{
		"driver_id": "driver1", "lat": 25.0, "lng": 121.5,
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
}

func TestCreateRide_OK(t *testing.T) {
	r := rideRouter(&stubRideService{ride: &ride.Ride{
		ID: "r1", Status: ride.StatusScheduled, SeatsAvailable: 3,
	}})

	w := doJSON(r, http.MethodPost, "/api/rides", map[string]any{
		"driver_id":    "driver1",
		"origin":       map[string]any{"label": "campus", "lat": 25.0, "lng": 121.5},
		"destination":  map[string]any{"label": "dorms", "lat": 25.1, "lng": 121.6},
		"departure_at": time.Now().Add(time.Hour).Format(time.RFC3339),
		"arrival_at":   time.Now().Add(2 * time.Hour).Format(time.RFC3339),
		"capacity":     3,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
}
