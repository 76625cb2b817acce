package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"storesync_v1/internal/model"
	"storesync_v1/internal/repository"
	"storesync_v1/pkg/net"
	"storesync_v1/pkg/utils"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ==================== 模拟远端 API ====================

type fakeCall struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   map[string]interface{}
}

type scripted struct {
	status int
	body   string
}

// fakeRemote 按 "METHOD path" 脚本化响应并记录所有调用
// 未编排的请求走默认行为：POST 创建返回新 ID，其他返回 200 {}
type fakeRemote struct {
	mu     sync.Mutex
	srv    *httptest.Server
	routes map[string][]scripted
	calls  []fakeCall
	seq    int
	tokens int
}

func newFakeRemote(t *testing.T) *fakeRemote {
	f := &fakeRemote{routes: make(map[string][]scripted)}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeRemote) URL() string {
	return f.srv.URL + "/api"
}

// on 追加一条编排响应，按顺序消费
func (f *fakeRemote) on(method, path string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := method + " " + path
	f.routes[key] = append(f.routes[key], scripted{status: status, body: body})
}

func (f *fakeRemote) handle(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/")
	raw, _ := io.ReadAll(r.Body)
	var body map[string]interface{}
	_ = json.Unmarshal(raw, &body)

	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{
		Method: r.Method,
		Path:   path,
		Query:  r.URL.Query().Get("external_ids"),
		Auth:   r.Header.Get("Authorization"),
		Body:   body,
	})

	if path == DefaultTokenPath && r.Method == http.MethodPost {
		f.tokens++
		n := f.tokens
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, fmt.Sprintf(`{"access_token":"tok-%d"}`, n))
		return
	}

	key := r.Method + " " + path
	if queue := f.routes[key]; len(queue) > 0 {
		next := queue[0]
		f.routes[key] = queue[1:]
		f.mu.Unlock()
		writeJSON(w, next.status, next.body)
		return
	}

	f.seq++
	n := f.seq
	f.mu.Unlock()

	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusOK, `{}`)
		return
	}
	switch {
	case path == "products":
		writeJSON(w, http.StatusCreated, fmt.Sprintf(`{"product":{"id":"p-%d"}}`, n))
	case strings.HasSuffix(path, "/variants"):
		writeJSON(w, http.StatusCreated, fmt.Sprintf(`{"variant":{"id":"v-%d"}}`, n))
	case path == "collections":
		writeJSON(w, http.StatusCreated, fmt.Sprintf(`{"collection":{"id":"c-%d"}}`, n))
	case path == "orders":
		writeJSON(w, http.StatusCreated, fmt.Sprintf(`{"order":{"id":"o-%d"}}`, n))
	default:
		writeJSON(w, http.StatusCreated, `{}`)
	}
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// callsTo 指定方法与路径的调用
func (f *fakeRemote) callsTo(method, path string) []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeCall
	for _, c := range f.calls {
		if c.Method == method && c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

// apiCalls 除令牌交换以外的调用数
func (f *fakeRemote) apiCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Path != DefaultTokenPath {
			n++
		}
	}
	return n
}

func (f *fakeRemote) tokenExchanges() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokens
}

// ==================== 测试环境 ====================

const testStoreID int64 = 1

type syncEnv struct {
	db      *gorm.DB
	remote  *fakeRemote
	cfg     *StoreConfigService
	gateway *SyncGateway
	engine  *Engine
	cache   *utils.StoreCache
	guard   *RunGuard
	reset   *ResetService
}

func setupSyncTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("连接测试数据库失败: %v", err)
	}
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, repository.Migrate(context.Background(), db))
	return db
}

func setupSyncEnv(t *testing.T) *syncEnv {
	ctx := context.Background()
	db := setupSyncTestDB(t)
	remote := newFakeRemote(t)

	require.NoError(t, db.Create(&model.Store{
		ID: testStoreID, Code: "default", Name: "Default", IsActive: true,
		RootCategoryID: 2, BaseCurrency: "USD", BaseURL: "https://shop.example",
	}).Error)
	require.NoError(t, db.Create(&model.Category{BaseModel: model.BaseModel{ID: 1}, Name: "Root", Path: "1", Level: 0, IsActive: true}).Error)
	require.NoError(t, db.Create(&model.Category{BaseModel: model.BaseModel{ID: 2}, ParentID: 1, Name: "Default", Path: "1/2", Level: 1, IsActive: true}).Error)

	cfg := NewStoreConfigService(repository.NewConfigRepository(db), nil)
	require.NoError(t, cfg.Set(ctx, model.DefaultScopeStoreID, PathAPIBaseURL, remote.URL()))
	require.NoError(t, cfg.Set(ctx, model.DefaultScopeStoreID, PathAPIAppKey, "app-1"))
	require.NoError(t, cfg.SetSecret(ctx, model.DefaultScopeStoreID, PathAPISecret, "s3cret"))

	transport := net.NewTransport(net.TransportConfig{Timeout: 5 * time.Second})
	retry := net.RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}
	log := zap.NewNop()
	auth := NewAuthService(cfg, transport, retry, log)
	gateway := NewSyncGateway(cfg, auth, transport, retry, log)
	cache := utils.NewStoreCache(time.Minute)

	engine := NewEngine(SyncDeps{
		DB:      db,
		Config:  cfg,
		Gateway: gateway,
		Cache:   cache,
		Options: ProcessorOptions{BatchSize: 50},
		Log:     log,
	})
	guard := NewRunGuard()

	return &syncEnv{
		db:      db,
		remote:  remote,
		cfg:     cfg,
		gateway: gateway,
		engine:  engine,
		cache:   cache,
		guard:   guard,
		reset:   NewResetService(engine, cache, guard, log),
	}
}

func (e *syncEnv) addProduct(t *testing.T, id int64, typeID string) *model.Product {
	p := &model.Product{
		BaseModel: model.BaseModel{ID: id},
		SKU:       fmt.Sprintf("SKU-%d", id),
		Name:      fmt.Sprintf("Product %d", id),
		TypeID:    typeID,
		Status:    model.ProductStatusEnabled,
		URLKey:    fmt.Sprintf("product-%d", id),
		Price:     decimal.NewFromInt(10),
	}
	require.NoError(t, e.db.Create(p).Error)
	require.NoError(t, e.db.Create(&model.ProductStore{ProductID: id, StoreID: testStoreID}).Error)
	return p
}

func (e *syncEnv) addCategory(t *testing.T, id, parentID int64, name, path string, level int) *model.Category {
	c := &model.Category{
		BaseModel: model.BaseModel{ID: id},
		ParentID:  parentID,
		Name:      name,
		Path:      path,
		Level:     level,
		IsActive:  true,
	}
	require.NoError(t, e.db.Create(c).Error)
	return c
}

func (e *syncEnv) record(t *testing.T, entity model.EntityType, localID int64) *model.SyncRecord {
	rec, err := e.engine.Records.Get(context.Background(), entity, localID, testStoreID)
	require.NoError(t, err)
	return rec
}

func (e *syncEnv) flagged(t *testing.T, entity model.EntityType, id int64) bool {
	set, err := e.engine.Flags.SyncedSet(context.Background(), entity, testStoreID, []int64{id})
	require.NoError(t, err)
	return set[id]
}

// nested 读取请求体中的嵌套字段
func nested(body map[string]interface{}, path ...string) interface{} {
	var cur interface{} = body
	for _, key := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}
