package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/babl-app/babl/internal/auth"
	"github.com/babl-app/babl/internal/config"
	"github.com/babl-app/babl/internal/events"
	"github.com/babl-app/babl/internal/imageproc"
	"github.com/babl-app/babl/internal/images"
	"github.com/babl-app/babl/internal/storage"
	"github.com/babl-app/babl/internal/testutil"
	"github.com/babl-app/babl/internal/users"
	"github.com/babl-app/babl/models"
)

type testServer struct {
	t      *testing.T
	db     *gorm.DB
	tokens *auth.Tokens
	events *events.Recorder
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db := testutil.NewDB(t)
	store, err := storage.NewLocal(t.TempDir(), "/media")
	if err != nil {
		t.Fatal(err)
	}
	logger := zap.NewNop()
	rec := &events.Recorder{}
	imgs := images.NewService(db, store, imageproc.NewImaging(imageproc.DefaultOptions()), rec, logger)
	tokens := auth.NewTokens("test-secret", time.Hour)

	h := &Handler{
		DB:             db,
		Images:         imgs,
		Users:          users.NewService(db, imgs, rec, logger),
		Store:          store,
		Tokens:         tokens,
		Events:         rec,
		Validate:       validator.New(),
		Logger:         logger,
		MaxUploadBytes: 1 << 20,
	}
	router := NewRouter(h, config.RateLimitConfig{Requests: 1000, Window: time.Minute})
	return &testServer{t: t, db: db, tokens: tokens, events: rec, router: router}
}

func (s *testServer) user(name string) (uint, string) {
	s.t.Helper()
	u := testutil.CreateUser(s.t, s.db, name)
	token, err := s.tokens.Issue(u.ID)
	if err != nil {
		s.t.Fatal(err)
	}
	return u.ID, token
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			s.t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) upload(token string, data []byte) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", "photo.png")
	if err != nil {
		s.t.Fatal(err)
	}
	fw.Write(data)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/profile-images/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status = %d, want %d; body %s", rr.Code, want, rr.Body.String())
	}
}

func pngData(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, imaging.New(60, 30, color.NRGBA{R: 200, G: 20, B: 90, A: 255})); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestRegisterLoginAndMe(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(http.MethodPost, "/users/", "", map[string]string{
		"username": "alice",
		"email":    "Alice@Example.com",
		"name":     "Alice",
		"password": "correct horse",
	})
	expectStatus(t, rr, http.StatusCreated)
	created := decodeBody[models.User](t, rr)
	if created.Email != "alice@example.com" {
		t.Errorf("email = %q, want lowercased", created.Email)
	}

	rr = s.do(http.MethodPost, "/users", "", map[string]string{
		"username": "alice",
		"email":    "other@example.com",
		"name":     "Alice",
		"password": "correct horse",
	})
	expectStatus(t, rr, http.StatusBadRequest)

	rr = s.do(http.MethodPost, "/login/", "", map[string]string{"username": "alice", "password": "wrong password"})
	expectStatus(t, rr, http.StatusBadRequest)

	rr = s.do(http.MethodPost, "/login/", "", map[string]string{"username": "alice", "password": "correct horse"})
	expectStatus(t, rr, http.StatusOK)
	token := decodeBody[map[string]string](t, rr)["token"]
	if token == "" {
		t.Fatal("login returned no token")
	}

	rr = s.do(http.MethodGet, "/users/me/", token, nil)
	expectStatus(t, rr, http.StatusOK)
	if me := decodeBody[models.User](t, rr); me.ID != created.ID {
		t.Errorf("me.ID = %d, want %d", me.ID, created.ID)
	}
}

func TestRequiresAuthentication(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/users/", "/profile-images/", "/messages/", "/locations/", "/languages/"} {
		rr := s.do(http.MethodGet, path, "", nil)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("GET %s = %d, want 401", path, rr.Code)
		}
	}
	rr := s.do(http.MethodGet, "/users/", "not-a-token", nil)
	expectStatus(t, rr, http.StatusUnauthorized)
}

func TestValidationErrors(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(http.MethodPost, "/users/", "", map[string]string{"username": "bob"})
	expectStatus(t, rr, http.StatusBadRequest)
	if code := decodeBody[map[string]any](t, rr)["code"]; code != "invalid" {
		t.Errorf("code = %v, want invalid", code)
	}

	rr = s.do(http.MethodPost, "/users/", "", map[string]any{"username": "bob", "unknown": true})
	expectStatus(t, rr, http.StatusBadRequest)
}

func TestUserUpdateAndDeleteAreSelfOnly(t *testing.T) {
	s := newTestServer(t)
	aliceID, alice := s.user("alice")
	bobID, bob := s.user("bob")

	rr := s.do(http.MethodPatch, fmt.Sprintf("/users/%d/", aliceID), bob, map[string]string{"bio": "hijacked"})
	expectStatus(t, rr, http.StatusForbidden)

	rr = s.do(http.MethodPatch, fmt.Sprintf("/users/%d/", aliceID), alice, map[string]string{"bio": "hello"})
	expectStatus(t, rr, http.StatusOK)
	if u := decodeBody[models.User](t, rr); u.Bio != "hello" {
		t.Errorf("bio = %q, want hello", u.Bio)
	}

	rr = s.do(http.MethodDelete, fmt.Sprintf("/users/%d/", aliceID), bob, nil)
	expectStatus(t, rr, http.StatusForbidden)

	rr = s.do(http.MethodDelete, fmt.Sprintf("/users/%d/", bobID), bob, nil)
	expectStatus(t, rr, http.StatusNoContent)

	rr = s.do(http.MethodGet, fmt.Sprintf("/users/%d/", bobID), alice, nil)
	expectStatus(t, rr, http.StatusNotFound)
}

func TestProfileImageFlow(t *testing.T) {
	s := newTestServer(t)
	_, token := s.user("carol")
	data := pngData(t)

	var ids []uint
	for i := 0; i < models.MaxProfileImages; i++ {
		rr := s.upload(token, data)
		expectStatus(t, rr, http.StatusCreated)
		img := decodeBody[models.ProfileImage](t, rr)
		if img.Width != 40 || img.Height != 20 {
			t.Errorf("size = %dx%d, want 40x20", img.Width, img.Height)
		}
		ids = append(ids, img.ID)
	}

	rr := s.upload(token, data)
	expectStatus(t, rr, http.StatusUnauthorized)
	if code := decodeBody[map[string]string](t, rr)["code"]; code != "profile_pic_max_exceeded" {
		t.Errorf("code = %q, want profile_pic_max_exceeded", code)
	}

	rr = s.do(http.MethodPost, fmt.Sprintf("/profile-images/%d/move/", ids[5]), token, map[string]int{"position": 0})
	expectStatus(t, rr, http.StatusOK)
	order := decodeBody[models.ProfileImageOrder](t, rr)
	if order.Order[0] != ids[5] || len(order.Order) != 6 {
		t.Fatalf("order after move = %v", order.Order)
	}

	rr = s.do(http.MethodGet, "/profile-images/", token, nil)
	expectStatus(t, rr, http.StatusOK)
	listed := decodeBody[[]models.ProfileImage](t, rr)
	if len(listed) != 6 || listed[0].ID != ids[5] {
		t.Fatalf("listed images not in order: %+v", listed)
	}

	rr = s.do(http.MethodGet, listed[0].URL, "", nil)
	expectStatus(t, rr, http.StatusOK)
	if ct := rr.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("media content type = %q", ct)
	}

	rr = s.do(http.MethodDelete, fmt.Sprintf("/profile-images/%d/", ids[5]), token, nil)
	expectStatus(t, rr, http.StatusNoContent)

	rr = s.do(http.MethodGet, listed[0].URL, "", nil)
	expectStatus(t, rr, http.StatusNotFound)

	rr = s.do(http.MethodGet, "/profile-images/order/", token, nil)
	expectStatus(t, rr, http.StatusOK)
	order = decodeBody[models.ProfileImageOrder](t, rr)
	if order.Contains(ids[5]) || len(order.Order) != 5 {
		t.Errorf("order after delete = %v", order.Order)
	}

	rr = s.do(http.MethodPost, fmt.Sprintf("/profile-images/%d/move/", ids[5]), token, map[string]int{"position": 1})
	expectStatus(t, rr, http.StatusBadRequest)
	if code := decodeBody[map[string]string](t, rr)["code"]; code != "image_not_available" {
		t.Errorf("code = %q, want image_not_available", code)
	}

	rr = s.upload(token, data)
	expectStatus(t, rr, http.StatusCreated)
}

func TestProfileImageRejectsBadUploads(t *testing.T) {
	s := newTestServer(t)
	_, token := s.user("dave")

	rr := s.upload(token, []byte("plain text"))
	expectStatus(t, rr, http.StatusBadRequest)
	if code := decodeBody[map[string]string](t, rr)["code"]; code != "invalid_image" {
		t.Errorf("code = %q, want invalid_image", code)
	}

	rr = s.do(http.MethodPost, "/profile-images/", token, map[string]string{"image": "nope"})
	expectStatus(t, rr, http.StatusBadRequest)
}

func TestCannotDeleteOthersImage(t *testing.T) {
	s := newTestServer(t)
	_, owner := s.user("erin")
	_, other := s.user("frank")

	rr := s.upload(owner, pngData(t))
	expectStatus(t, rr, http.StatusCreated)
	img := decodeBody[models.ProfileImage](t, rr)

	rr = s.do(http.MethodDelete, fmt.Sprintf("/profile-images/%d/", img.ID), other, nil)
	expectStatus(t, rr, http.StatusNotFound)

	rr = s.do(http.MethodGet, fmt.Sprintf("/profile-images/%d/", img.ID), other, nil)
	expectStatus(t, rr, http.StatusOK)
}

func TestMessages(t *testing.T) {
	s := newTestServer(t)
	aliceID, alice := s.user("alice")
	bobID, bob := s.user("bob")
	_, eve := s.user("eve")

	rr := s.do(http.MethodPost, "/messages/", alice, map[string]any{"recipient_id": aliceID, "body": "me"})
	expectStatus(t, rr, http.StatusBadRequest)

	rr = s.do(http.MethodPost, "/messages/", alice, map[string]any{"recipient_id": 9999, "body": "ghost"})
	expectStatus(t, rr, http.StatusBadRequest)

	rr = s.do(http.MethodPost, "/messages/", alice, map[string]any{"recipient_id": bobID, "body": "hi bob"})
	expectStatus(t, rr, http.StatusCreated)
	msg := decodeBody[models.Message](t, rr)
	path := fmt.Sprintf("/messages/%d/", msg.ID)

	rr = s.do(http.MethodGet, path, eve, nil)
	expectStatus(t, rr, http.StatusNotFound)

	rr = s.do(http.MethodGet, fmt.Sprintf("/messages/?with=%d", aliceID), bob, nil)
	expectStatus(t, rr, http.StatusOK)
	if list := decodeBody[[]models.Message](t, rr); len(list) != 1 {
		t.Fatalf("bob sees %d messages, want 1", len(list))
	}

	rr = s.do(http.MethodPost, path+"read/", alice, nil)
	expectStatus(t, rr, http.StatusForbidden)

	rr = s.do(http.MethodPost, path+"read/", bob, nil)
	expectStatus(t, rr, http.StatusOK)
	if read := decodeBody[models.Message](t, rr); read.ReadAt == nil {
		t.Error("read_at not set")
	}

	rr = s.do(http.MethodDelete, path, bob, nil)
	expectStatus(t, rr, http.StatusForbidden)

	rr = s.do(http.MethodDelete, path, alice, nil)
	expectStatus(t, rr, http.StatusNoContent)

	types := strings.Join(s.events.Types(), ",")
	if !strings.Contains(types, events.MessageCreated) {
		t.Errorf("events = %s, want %s", types, events.MessageCreated)
	}
}

func TestLocations(t *testing.T) {
	s := newTestServer(t)
	aliceID, alice := s.user("alice")
	_, bob := s.user("bob")

	rr := s.do(http.MethodGet, "/locations/", alice, nil)
	expectStatus(t, rr, http.StatusNotFound)

	rr = s.do(http.MethodPut, "/locations/", alice, map[string]any{"latitude": 91.0, "longitude": 0.0})
	expectStatus(t, rr, http.StatusBadRequest)

	rr = s.do(http.MethodPut, "/locations/", alice, map[string]any{"latitude": 52.52, "longitude": 13.40, "city": "Berlin"})
	expectStatus(t, rr, http.StatusOK)
	first := decodeBody[models.Location](t, rr)

	rr = s.do(http.MethodPut, "/locations/", alice, map[string]any{"latitude": 48.85, "longitude": 2.35, "city": "Paris"})
	expectStatus(t, rr, http.StatusOK)
	second := decodeBody[models.Location](t, rr)
	if second.ID != first.ID || second.City != "Paris" {
		t.Errorf("upsert = %+v, want same row updated to Paris", second)
	}

	rr = s.do(http.MethodGet, fmt.Sprintf("/locations/%d/", aliceID), bob, nil)
	expectStatus(t, rr, http.StatusOK)

	rr = s.do(http.MethodDelete, "/locations/", alice, nil)
	expectStatus(t, rr, http.StatusNoContent)
	rr = s.do(http.MethodDelete, "/locations/", alice, nil)
	expectStatus(t, rr, http.StatusNotFound)
}

func TestLanguages(t *testing.T) {
	s := newTestServer(t)
	aliceID, alice := s.user("alice")

	rr := s.do(http.MethodPost, "/languages/", alice, map[string]string{"name": "German", "code": "de"})
	expectStatus(t, rr, http.StatusCreated)
	lang := decodeBody[models.Language](t, rr)

	rr = s.do(http.MethodPost, "/languages/", alice, map[string]string{"name": "German", "code": "de"})
	expectStatus(t, rr, http.StatusBadRequest)

	rr = s.do(http.MethodPatch, fmt.Sprintf("/users/%d/", aliceID), alice, map[string]any{"language_ids": []uint{lang.ID}})
	expectStatus(t, rr, http.StatusOK)

	rr = s.do(http.MethodPatch, fmt.Sprintf("/languages/%d/", lang.ID), alice, map[string]string{"name": "Deutsch"})
	expectStatus(t, rr, http.StatusOK)
	if got := decodeBody[models.Language](t, rr); got.Name != "Deutsch" || got.Code != "de" {
		t.Errorf("updated language = %+v", got)
	}

	rr = s.do(http.MethodDelete, fmt.Sprintf("/languages/%d/", lang.ID), alice, nil)
	expectStatus(t, rr, http.StatusNoContent)

	rr = s.do(http.MethodGet, "/users/me/", alice, nil)
	expectStatus(t, rr, http.StatusOK)
	if me := decodeBody[models.User](t, rr); len(me.Languages) != 0 {
		t.Errorf("languages after delete = %+v", me.Languages)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(http.MethodGet, "/healthz", "", nil)
	expectStatus(t, rr, http.StatusOK)
}

func TestDeletedUserCredentialsRejected(t *testing.T) {
	s := newTestServer(t)
	id, token := s.user("gina")

	rr := s.do(http.MethodDelete, fmt.Sprintf("/users/%d/", id), token, nil)
	expectStatus(t, rr, http.StatusNoContent)

	rr = s.upload(token, pngData(t))
	expectStatus(t, rr, http.StatusUnauthorized)

	rr = s.do(http.MethodGet, "/users/me/", token, nil)
	expectStatus(t, rr, http.StatusUnauthorized)

	var orders, imgs int64
	s.db.Model(&models.ProfileImageOrder{}).Where("user_id = ?", id).Count(&orders)
	s.db.Model(&models.ProfileImage{}).Where("user_id = ?", id).Count(&imgs)
	if orders != 0 || imgs != 0 {
		t.Fatalf("deleted user has %d orders and %d images", orders, imgs)
	}
}

func TestListImagesOfUnknownUserWritesNothing(t *testing.T) {
	s := newTestServer(t)
	_, token := s.user("hank")

	rr := s.do(http.MethodGet, "/profile-images/?user=99999", token, nil)
	expectStatus(t, rr, http.StatusOK)
	if list := decodeBody[[]models.ProfileImage](t, rr); len(list) != 0 {
		t.Fatalf("listed %d images for unknown user", len(list))
	}

	var n int64
	s.db.Model(&models.ProfileImageOrder{}).Where("user_id = ?", 99999).Count(&n)
	if n != 0 {
		t.Fatalf("listing created %d order rows", n)
	}
}

func TestImageOrderAddAndDrop(t *testing.T) {
	s := newTestServer(t)
	_, token := s.user("iris")
	_, other := s.user("jack")

	rr := s.upload(token, pngData(t))
	expectStatus(t, rr, http.StatusCreated)
	img := decodeBody[models.ProfileImage](t, rr)
	addPath := fmt.Sprintf("/profile-images/%d/add/", img.ID)
	dropPath := fmt.Sprintf("/profile-images/%d/drop/", img.ID)

	rr = s.do(http.MethodPost, addPath, token, nil)
	expectStatus(t, rr, http.StatusBadRequest)
	if code := decodeBody[map[string]string](t, rr)["code"]; code != "duplicate_image" {
		t.Errorf("code = %q, want duplicate_image", code)
	}

	rr = s.do(http.MethodPost, dropPath, token, nil)
	expectStatus(t, rr, http.StatusOK)
	if order := decodeBody[models.ProfileImageOrder](t, rr); len(order.Order) != 0 {
		t.Fatalf("order after drop = %v", order.Order)
	}

	rr = s.do(http.MethodPost, dropPath, token, nil)
	expectStatus(t, rr, http.StatusBadRequest)
	if code := decodeBody[map[string]string](t, rr)["code"]; code != "image_not_available" {
		t.Errorf("code = %q, want image_not_available", code)
	}

	rr = s.do(http.MethodPost, addPath, other, nil)
	expectStatus(t, rr, http.StatusBadRequest)

	rr = s.do(http.MethodPost, addPath, token, nil)
	expectStatus(t, rr, http.StatusOK)
	if order := decodeBody[models.ProfileImageOrder](t, rr); len(order.Order) != 1 || order.Order[0] != img.ID {
		t.Fatalf("order after add = %v", order.Order)
	}
}
