package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"bankledger/internal/config"
	"bankledger/internal/infrastructure/cache"
	"bankledger/internal/infrastructure/database"
	"bankledger/internal/infrastructure/event"
	"bankledger/internal/infrastructure/lock"
	"bankledger/internal/service"
	"bankledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))

	cfg := &config.Config{
		JWT: config.JWTConfig{Secret: "test-secret", ExpireMinutes: 10},
		Business: config.BusinessConfig{
			ConflictMaxRetry:   3,
			OutboxMaxRetry:     5,
			SnapshotTTLSeconds: 60,
			HistoryPageSize:    50,
			LockMode:           config.LockModeLocal,
		},
	}

	bus := event.NewBus(zap.NewNop())
	queries := service.NewQueryService(db, cfg, cache.NewMemoryStore())
	commands := service.NewCommandService(db, cfg, lock.NewKeyLock(), bus)
	service.RegisterSubscribers(bus, queries)
	t.Cleanup(bus.Wait)

	return SetupRouter(cfg, commands, queries)
}

func doJSON(t *testing.T, router *gin.Engine, method, path, token string, body interface{}) (*httptest.ResponseRecorder, *response.Response) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	resp := &response.Response{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), resp))
	return w, resp
}

func issueToken(t *testing.T, router *gin.Engine, userID string) string {
	t.Helper()
	w, resp := doJSON(t, router, http.MethodPost, "/api/v1/token", "", gin.H{"user_id": userID})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, response.CodeSuccess, resp.Code)
	data := resp.Data.(map[string]interface{})
	return data["token"].(string)
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCommandsRequireToken(t *testing.T) {
	router := newTestRouter(t)

	w, _ := doJSON(t, router, http.MethodPost, "/api/v1/account/deposit", "", gin.H{
		"user_id": "u1", "amount": "10.00",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTokenMustMatchRequestedUser(t *testing.T) {
	router := newTestRouter(t)
	token := issueToken(t, router, "alice")

	_, resp := doJSON(t, router, http.MethodPost, "/api/v1/account/deposit", token, gin.H{
		"user_id": "bob", "amount": "10.00",
	})
	assert.Equal(t, response.CodeForbidden, resp.Code)
}

func TestDepositAndBalanceFlow(t *testing.T) {
	router := newTestRouter(t)
	token := issueToken(t, router, "u1")

	w, resp := doJSON(t, router, http.MethodPost, "/api/v1/account/deposit", token, gin.H{
		"user_id": "u1", "amount": "100.50", "description": "工资",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, response.CodeSuccess, resp.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "100.50", data["effective_balance"])

	_, resp = doJSON(t, router, http.MethodGet, "/api/v1/account/balance?user_id=u1", token, nil)
	require.Equal(t, response.CodeSuccess, resp.Code)
	data = resp.Data.(map[string]interface{})
	assert.Equal(t, "100.50", data["effective_balance"])
	assert.Equal(t, false, data["in_overdraft"])
}

func TestPayBillOverdraftFlow(t *testing.T) {
	router := newTestRouter(t)
	token := issueToken(t, router, "u1")

	_, resp := doJSON(t, router, http.MethodPost, "/api/v1/account/paybill", token, gin.H{
		"user_id": "u1", "amount": "100", "description": "电费",
	})
	require.Equal(t, response.CodeSuccess, resp.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "-100.00", data["effective_balance"])
	assert.Equal(t, true, data["went_negative"])

	_, resp = doJSON(t, router, http.MethodGet, "/api/v1/account/transactions?user_id=u1", token, nil)
	require.Equal(t, response.CodeSuccess, resp.Code)
	list := resp.Data.(map[string]interface{})["list"].([]interface{})
	require.Len(t, list, 1)
	record := list[0].(map[string]interface{})
	assert.Equal(t, "PAYMENT", record["type"])
	assert.Equal(t, "100.00", record["amount"])
}

func TestOverPrecisionAmountRejected(t *testing.T) {
	router := newTestRouter(t)
	token := issueToken(t, router, "u1")

	// 10.555 超过 2 位小数，字段级校验失败
	_, resp := doJSON(t, router, http.MethodPost, "/api/v1/account/deposit", token, gin.H{
		"user_id": "u1", "amount": "10.555",
	})
	assert.Equal(t, response.CodeValidationFailed, resp.Code)
	assert.Contains(t, resp.Message, "amount")
}
