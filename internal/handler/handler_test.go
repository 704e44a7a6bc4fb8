package handler

import (
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/dronehire/realtime-service/internal/auth"
	"github.com/dronehire/realtime-service/internal/config"
	"github.com/dronehire/realtime-service/internal/domain"
	"github.com/dronehire/realtime-service/internal/hub"
	"github.com/dronehire/realtime-service/internal/presence"
	"github.com/dronehire/realtime-service/internal/relay"
	"github.com/dronehire/realtime-service/internal/repository"
	"github.com/dronehire/realtime-service/internal/service"
	"github.com/dronehire/realtime-service/pkg/database"
	"github.com/dronehire/realtime-service/pkg/middleware"
	"github.com/dronehire/realtime-service/pkg/pubsub"
	"github.com/dronehire/realtime-service/pkg/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.New(&database.Config{
		Driver:   "sqlite",
		FilePath: filepath.Join(t.TempDir(), "realtime.db"),
		LogLevel: "silent",
	})
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { database.Close(db) })
	require.NoError(t, database.AutoMigrate(db, domain.Models()...))

	operatorID := int64(2)
	expires := time.Now().Add(time.Hour)
	require.NoError(t, db.Create([]*domain.UserModel{
		{ID: 1, Name: "Asha", Email: "asha@example.com", Role: "user"},
		{ID: 2, Name: "Ravi", Email: "ravi@example.com", Role: "operator"},
		{ID: 3, Name: "Meera", Email: "meera@example.com", Role: "user"},
	}).Error)
	require.NoError(t, db.Create(&domain.BookingModel{ID: 42, UserID: 1, OperatorID: &operatorID, Status: "confirmed"}).Error)
	require.NoError(t, db.Create([]*domain.SessionModel{
		{UserID: 1, SessionToken: "asha-token", ExpiresAt: expires},
		{UserID: 2, SessionToken: "ravi-token", ExpiresAt: expires},
		{UserID: 3, SessionToken: "meera-token", ExpiresAt: expires},
	}).Error)
	return db
}

type instance struct {
	hub    *hub.Hub
	engine *gin.Engine
	server *httptest.Server
}

// newInstance starts one realtime process: hub, relay, presence, service
// and routes, sharing store and redis with any sibling instance.
func newInstance(t *testing.T, id string, store repository.Store, rdb *redis.Client) *instance {
	t.Helper()

	h := hub.NewHub(config.WebSocketConfig{
		PingInterval:   30 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      5 * time.Second,
		MaxMessageSize: 8192,
		SendBufferSize: 64,
	})
	go h.Run()

	ctx, cancel := context.WithCancel(context.Background())
	rel := relay.New(pubsub.NewRedisPubSubFromClient(rdb, 64), h, id, 256)
	go rel.Run(ctx)

	dir := presence.NewRedisDirectory(rdb, config.PresenceConfig{
		Enabled:           true,
		Prefix:            "realtime:test",
		HeartbeatInterval: time.Minute,
		KeyTTL:            5 * time.Minute,
	}, id)

	validator := auth.NewSessionValidator(store)
	svc := service.NewService(h, store, validator, rel, dir, config.RealtimeConfig{OperationTimeout: 2 * time.Second})

	files, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)
	attachments := service.NewAttachments(svc, files, config.AttachmentConfig{Enabled: true, MaxUploadSize: 1 << 20})

	r := gin.New()
	NewWSHandler(h, svc, nil).RegisterRoutes(r)
	NewHTTPHandler(svc, attachments, h, middleware.NewAuthMiddleware(auth.NewTokenValidator(validator))).RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		h.Stop()
	})
	return &instance{hub: h, engine: r, server: srv}
}

func dial(t *testing.T, inst *instance) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(inst.server.URL, "http") + "/realtime/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	f := readFrame(t, conn)
	assert.Equal(t, domain.MsgTypeConnection, f["type"])
	assert.NotEmpty(t, f["connection_id"])
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

// readUntil skips frames until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) map[string]interface{} {
	t.Helper()
	for i := 0; i < 20; i++ {
		if f := readFrame(t, conn); f["type"] == typ {
			return f
		}
	}
	t.Fatalf("no %s frame", typ)
	return nil
}

func sendFrame(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func authenticate(t *testing.T, conn *websocket.Conn, token string) {
	t.Helper()
	sendFrame(t, conn, map[string]interface{}{"type": "auth", "token": token})
	readUntil(t, conn, domain.MsgTypeAuthSuccess)
}

func TestWebSocketSession(t *testing.T) {
	db := newTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	inst := newInstance(t, "a", repository.NewGormStore(db), rdb)

	asha := dial(t, inst)

	require.NoError(t, asha.WriteMessage(websocket.TextMessage, []byte("{not json")))
	f := readFrame(t, asha)
	assert.Equal(t, domain.MsgTypeError, f["type"])
	assert.Equal(t, domain.ErrCodeInvalidFormat, f["code"])

	sendFrame(t, asha, map[string]interface{}{"type": "join_booking", "booking_id": 42})
	f = readFrame(t, asha)
	assert.Equal(t, domain.ErrCodeAuthRequired, f["code"])

	sendFrame(t, asha, map[string]interface{}{"type": "auth", "token": "nope"})
	f = readFrame(t, asha)
	assert.Equal(t, domain.ErrCodeAuthFailed, f["code"])

	authenticate(t, asha, "asha-token")
	sendFrame(t, asha, map[string]interface{}{"type": "join_booking", "booking_id": 42})
	f = readFrame(t, asha)
	assert.Equal(t, domain.MsgTypeJoinedBooking, f["type"])
	assert.Equal(t, "confirmed", f["booking_status"])
	readUntil(t, asha, domain.MsgTypeRecentMessages)

	ravi := dial(t, inst)
	authenticate(t, ravi, "ravi-token")
	sendFrame(t, ravi, map[string]interface{}{"type": "join_booking", "booking_id": 42})
	readUntil(t, ravi, domain.MsgTypeRecentMessages)
	joined := readUntil(t, asha, domain.MsgTypeUserJoined)
	assert.Equal(t, float64(2), joined["user_id"])

	sendFrame(t, ravi, map[string]interface{}{"type": "send_message", "booking_id": 42, "content": "Drone is ready"})
	for _, conn := range []*websocket.Conn{asha, ravi} {
		msg := readUntil(t, conn, domain.MsgTypeNewMessage)["message"].(map[string]interface{})
		assert.Equal(t, "Drone is ready", msg["content"])
		assert.Equal(t, "operator", msg["sender_type"])
	}

	sendFrame(t, ravi, map[string]interface{}{"type": "ping"})
	readUntil(t, ravi, domain.MsgTypePong)

	require.NoError(t, ravi.Close())
	left := readUntil(t, asha, domain.MsgTypeUserLeft)
	assert.Equal(t, float64(2), left["user_id"])

	assert.Eventually(t, func() bool {
		return !inst.hub.IsMember(42, 2)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketAcrossInstances(t *testing.T) {
	db := newTestDB(t)
	store := repository.NewGormStore(db)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	a := newInstance(t, "a", store, rdb)
	b := newInstance(t, "b", store, rdb)
	require.Eventually(t, func() bool { return mr.PubSubNumPat() == 2 }, 2*time.Second, 10*time.Millisecond)

	asha := dial(t, a)
	authenticate(t, asha, "asha-token")
	sendFrame(t, asha, map[string]interface{}{"type": "join_booking", "booking_id": 42})
	readUntil(t, asha, domain.MsgTypeRecentMessages)

	ravi := dial(t, b)
	authenticate(t, ravi, "ravi-token")
	sendFrame(t, ravi, map[string]interface{}{"type": "join_booking", "booking_id": 42})
	readUntil(t, ravi, domain.MsgTypeRecentMessages)

	sendFrame(t, ravi, map[string]interface{}{"type": "send_message", "booking_id": 42, "content": "Taking off"})
	readUntil(t, ravi, domain.MsgTypeNewMessage)
	msg := readUntil(t, asha, domain.MsgTypeNewMessage)["message"].(map[string]interface{})
	assert.Equal(t, "Taking off", msg["content"])

	var pending int64
	require.NoError(t, db.Model(&domain.NotificationModel{}).Where("user_id = ?", 1).Count(&pending).Error)
	assert.Zero(t, pending, "participant online on another instance is not notified")

	sendFrame(t, ravi, map[string]interface{}{"type": "location_update", "booking_id": 42, "latitude": 12.97, "longitude": 77.59, "status": "flying"})
	update := readUntil(t, asha, domain.MsgTypeLocationUpdate)
	assert.Equal(t, 12.97, update["tracking"].(map[string]interface{})["latitude"])
}

func TestHTTPAPI(t *testing.T) {
	db := newTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	inst := newInstance(t, "a", repository.NewGormStore(db), rdb)

	require.NoError(t, db.Create(&domain.ChatMessageModel{BookingID: 42, SenderID: 2, SenderType: "operator", MessageType: "text", Message: "hello"}).Error)

	get := func(path, token string) (int, map[string]interface{}) {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		inst.engine.ServeHTTP(w, req)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		return w.Code, body
	}

	code, body := get("/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	code, _ = get("/api/v1/bookings/42/messages", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body = get("/api/v1/bookings/42/messages", "asha-token")
	require.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["count"])

	code, _ = get("/api/v1/bookings/42/messages", "meera-token")
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = get("/api/v1/bookings/999/tracking", "asha-token")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = get("/api/v1/bookings/abc/tracking", "asha-token")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = get("/api/v1/bookings/42/tracking?limit=-1", "asha-token")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = get("/api/v1/notifications?unread_only=true", "asha-token")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), body["data"].(map[string]interface{})["count"])
}

func TestAttachmentRoutes(t *testing.T) {
	db := newTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	inst := newInstance(t, "a", repository.NewGormStore(db), rdb)

	upload := func(token string, content []byte) *httptest.ResponseRecorder {
		var body strings.Builder
		mw := multipart.NewWriter(&body)
		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Disposition", `form-data; name="file"; filename="landing-zone.jpg"`)
		hdr.Set("Content-Type", "image/jpeg")
		part, err := mw.CreatePart(hdr)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings/42/attachments", strings.NewReader(body.String()))
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		inst.engine.ServeHTTP(w, req)
		return w
	}

	w := upload("meera-token", []byte("jpeg"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = upload("ravi-token", []byte("jpeg-bytes"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Data domain.Attachment `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, domain.MessageTypeImage, created.Data.MessageType)
	assert.Equal(t, "image/jpeg", created.Data.ContentType)
	assert.Equal(t, int64(10), created.Data.Size)

	req := httptest.NewRequest(http.MethodGet, created.Data.URL, nil)
	req.Header.Set("Authorization", "Bearer asha-token")
	rec := httptest.NewRecorder()
	inst.engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	data, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/bookings/42/attachments/missing.jpg", nil)
	req.Header.Set("Authorization", "Bearer asha-token")
	rec = httptest.NewRecorder()
	inst.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOriginChecker(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/realtime/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	anyOrigin := originChecker(nil)
	assert.True(t, anyOrigin(req("https://evil.example")))

	wildcard := originChecker([]string{"https://app.dronehire.in", "*"})
	assert.True(t, wildcard(req("https://evil.example")))

	strict := originChecker([]string{"https://app.dronehire.in"})
	assert.True(t, strict(req("https://app.dronehire.in")))
	assert.True(t, strict(req("")))
	assert.False(t, strict(req("https://evil.example")))
}
