package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gavv/httpexpect/v2"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/HanTheDev/beneficiary-center/internal/auth"
	"github.com/HanTheDev/beneficiary-center/internal/cache"
	"github.com/HanTheDev/beneficiary-center/internal/config"
	"github.com/HanTheDev/beneficiary-center/internal/db"
	"github.com/HanTheDev/beneficiary-center/internal/metrics"
	"github.com/HanTheDev/beneficiary-center/internal/models"
	"github.com/HanTheDev/beneficiary-center/internal/querystats"
)

const testSecret = "router-secret"

// fakeStore serves every store interface from memory and counts reads.
type fakeStore struct {
	mu            sync.Mutex
	beneficiaries map[int]models.Beneficiary
	programs      map[int]models.Program
	users         map[string]*models.User
	nextID        int
	listCalls     int
	getCalls      int
	programCalls  int
}

func newFakeStore(t *testing.T) *fakeStore {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	require.NoError(t, err)
	return &fakeStore{
		beneficiaries: map[int]models.Beneficiary{
			1: {ID: 1, TenantID: 1, FirstName: "Ada", LastName: "Lovelace", Status: "active", Programs: []models.ProgramSummary{}},
		},
		programs: map[int]models.Program{
			1: {ID: 1, TenantID: 1, Name: "Digital skills", Status: "open"},
		},
		users: map[string]*models.User{
			"cw@example.com": {ID: 7, TenantID: 1, Email: "cw@example.com", PasswordHash: string(hash), Role: "caseworker", IsActive: true},
		},
		nextID: 2,
	}
}

func (s *fakeStore) ListBeneficiaries(_ context.Context, f models.BeneficiaryFilter) (models.BeneficiaryPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	page := models.BeneficiaryPage{Items: []models.Beneficiary{}, Page: f.Page, PerPage: f.PerPage}
	for id := 1; id < s.nextID; id++ {
		if b, ok := s.beneficiaries[id]; ok && b.TenantID == f.TenantID {
			page.Items = append(page.Items, b)
		}
	}
	page.Total = len(page.Items)
	return page, nil
}

func (s *fakeStore) GetBeneficiary(_ context.Context, tenantID, id int) (*models.Beneficiary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	b, ok := s.beneficiaries[id]
	if !ok || b.TenantID != tenantID {
		return nil, db.ErrNotFound
	}
	return &b, nil
}

func (s *fakeStore) CreateBeneficiary(_ context.Context, tenantID int, in models.BeneficiaryInput) (*models.Beneficiary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := models.Beneficiary{ID: s.nextID, TenantID: tenantID, FirstName: in.FirstName, LastName: in.LastName, Status: "active", Programs: []models.ProgramSummary{}}
	s.beneficiaries[b.ID] = b
	s.nextID++
	return &b, nil
}

func (s *fakeStore) UpdateBeneficiary(_ context.Context, tenantID, id int, in models.BeneficiaryInput) (*models.Beneficiary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.beneficiaries[id]
	if !ok || b.TenantID != tenantID {
		return nil, db.ErrNotFound
	}
	b.FirstName, b.LastName = in.FirstName, in.LastName
	s.beneficiaries[id] = b
	return &b, nil
}

func (s *fakeStore) DeleteBeneficiary(_ context.Context, tenantID, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.beneficiaries[id]
	if !ok || b.TenantID != tenantID {
		return db.ErrNotFound
	}
	delete(s.beneficiaries, id)
	return nil
}

func (s *fakeStore) ListAppointments(context.Context, int, int) ([]models.Appointment, error) {
	return []models.Appointment{{ID: 1, BeneficiaryID: 1, Title: "Intake", Status: "scheduled"}}, nil
}

func (s *fakeStore) ListEvaluations(context.Context, int, int) ([]models.Evaluation, error) {
	return []models.Evaluation{}, nil
}

func (s *fakeStore) ListPrograms(_ context.Context, tenantID int) ([]models.Program, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.programCalls++
	out := []models.Program{}
	for _, p := range s.programs {
		if p.TenantID == tenantID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) GetProgram(_ context.Context, tenantID, id int) (*models.Program, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.programCalls++
	p, ok := s.programs[id]
	if !ok || p.TenantID != tenantID {
		return nil, db.ErrNotFound
	}
	return &p, nil
}

func (s *fakeStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	u, ok := s.users[email]
	if !ok {
		return nil, db.ErrNotFound
	}
	return u, nil
}

func (s *fakeStore) counts() (list, get, programs int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls, s.getCalls, s.programCalls
}

type routerFixture struct {
	expect *httpexpect.Expect
	store  *fakeStore
}

func newRouterFixture(t *testing.T, mutate func(*config.Config)) routerFixture {
	t.Helper()
	cfg := config.Default()
	cfg.Auth.JWTSecret = testSecret
	if mutate != nil {
		mutate(&cfg)
	}

	backend, err := cache.NewMemory(1000)
	require.NoError(t, err)
	rec := metrics.NewRecorder(nil)
	strategy := cache.NewStrategy(cache.NewStore(backend, cfg.Cache.Namespace, nil, rec), nil, nil)

	stats := querystats.NewAggregator(16)
	ctx, cancel := context.WithCancel(context.Background())
	go stats.Run(ctx)
	t.Cleanup(cancel)

	store := newFakeStore(t)
	handler := NewRouter(Deps{
		Config:        cfg,
		Metrics:       rec,
		Strategy:      strategy,
		Stats:         stats,
		Users:         store,
		Beneficiaries: store,
		Programs:      store,
	})
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return routerFixture{
		expect: httpexpect.WithConfig(httpexpect.Config{
			BaseURL:  server.URL,
			Reporter: httpexpect.NewRequireReporter(t),
		}),
		store: store,
	}
}

func token(t *testing.T, userID int, role string) string {
	t.Helper()
	signed, _, err := auth.GenerateToken(userID, 1, role, testSecret, time.Hour)
	require.NoError(t, err)
	return "Bearer " + signed
}

func TestHealthAndMetrics(t *testing.T) {
	fx := newRouterFixture(t, nil)
	fx.expect.GET("/health").Expect().Status(http.StatusOK).
		JSON().Object().Value("status").String().IsEqual("healthy")
	fx.expect.GET("/health").Expect().Header("X-Request-ID").NotEmpty()

	fx.expect.GET(APIPrefix+"/programs").WithHeader("Authorization", token(t, 7, "caseworker")).
		Expect().Status(http.StatusOK)
	fx.expect.GET("/metrics").Expect().Status(http.StatusOK).
		Body().Contains("bdc_cache_lookups_total")
}

func TestLoginIssuesUsableToken(t *testing.T) {
	fx := newRouterFixture(t, nil)
	tok := fx.expect.POST("/auth/token").WithJSON(map[string]string{"email": "cw@example.com", "password": "pw"}).
		Expect().Status(http.StatusOK).JSON().Object().Value("token").String().Raw()

	fx.expect.GET(APIPrefix+"/beneficiaries").WithHeader("Authorization", "Bearer "+tok).
		Expect().Status(http.StatusOK)
}

func TestAPIRequiresAuthentication(t *testing.T) {
	fx := newRouterFixture(t, nil)
	fx.expect.GET(APIPrefix + "/beneficiaries").Expect().Status(http.StatusUnauthorized)
	fx.expect.GET("/admin/cache/policies").Expect().Status(http.StatusUnauthorized)
	fx.expect.GET("/admin/cache/policies").WithHeader("Authorization", token(t, 7, "caseworker")).
		Expect().Status(http.StatusForbidden)
	fx.expect.GET("/admin/cache/policies").WithHeader("Authorization", token(t, 1, auth.RoleAdmin)).
		Expect().Status(http.StatusOK).JSON().Array().Length().IsEqual(3)
}

func TestCachedListHitsAfterFirstRequest(t *testing.T) {
	fx := newRouterFixture(t, nil)
	bearer := token(t, 7, "caseworker")

	first := fx.expect.GET(APIPrefix+"/beneficiaries").WithQuery("page", 1).WithHeader("Authorization", bearer).
		Expect().Status(http.StatusOK)
	first.Header(cache.HeaderCacheStatus).IsEqual("MISS")
	first.JSON().Object().Value("total").Number().IsEqual(1)

	second := fx.expect.GET(APIPrefix+"/beneficiaries").WithQuery("page", 1).WithHeader("Authorization", bearer).
		Expect().Status(http.StatusOK)
	second.Header(cache.HeaderCacheStatus).IsEqual("HIT")
	second.JSON().Object().Value("total").Number().IsEqual(1)

	list, _, _ := fx.store.counts()
	require.Equal(t, 1, list)

	// another user gets an independent entry
	fx.expect.GET(APIPrefix+"/beneficiaries").WithQuery("page", 1).WithHeader("Authorization", token(t, 8, "caseworker")).
		Expect().Header(cache.HeaderCacheStatus).IsEqual("MISS")
	list, _, _ = fx.store.counts()
	require.Equal(t, 2, list)
}

func TestDebugModeBypassesCache(t *testing.T) {
	fx := newRouterFixture(t, func(cfg *config.Config) { cfg.Server.Debug = true })
	bearer := token(t, 7, "caseworker")

	for i := 0; i < 2; i++ {
		fx.expect.GET(APIPrefix+"/programs").WithHeader("Authorization", bearer).
			Expect().Status(http.StatusOK).Header(cache.HeaderCacheStatus).IsEqual("BYPASS")
	}
	_, _, programs := fx.store.counts()
	require.Equal(t, 2, programs)
}

func TestWritesInvalidateCachedResponses(t *testing.T) {
	fx := newRouterFixture(t, nil)
	bearer := token(t, 7, "caseworker")

	fx.expect.GET(APIPrefix+"/beneficiaries").WithHeader("Authorization", bearer).Expect().Status(http.StatusOK)
	fx.expect.GET(APIPrefix+"/beneficiaries").WithHeader("Authorization", bearer).
		Expect().Header(cache.HeaderCacheStatus).IsEqual("HIT")

	fx.expect.POST(APIPrefix+"/beneficiaries").WithHeader("Authorization", bearer).
		WithJSON(map[string]string{"first_name": "Grace", "last_name": "Hopper"}).
		Expect().Status(http.StatusCreated).JSON().Object().Value("id").Number().IsEqual(2)

	after := fx.expect.GET(APIPrefix+"/beneficiaries").WithHeader("Authorization", bearer).Expect().Status(http.StatusOK)
	after.Header(cache.HeaderCacheStatus).IsEqual("MISS")
	after.JSON().Object().Value("total").Number().IsEqual(2)
}

func TestDetailUsesEntityCacheAcrossUsers(t *testing.T) {
	fx := newRouterFixture(t, nil)

	fx.expect.GET(APIPrefix+"/beneficiaries/1").WithHeader("Authorization", token(t, 7, "caseworker")).
		Expect().Status(http.StatusOK).JSON().Object().Value("first_name").String().IsEqual("Ada")
	// a different user misses the response cache but hits the shared entity entry
	fx.expect.GET(APIPrefix+"/beneficiaries/1").WithHeader("Authorization", token(t, 8, "caseworker")).
		Expect().Status(http.StatusOK).Header(cache.HeaderCacheStatus).IsEqual("MISS")
	_, get, _ := fx.store.counts()
	require.Equal(t, 1, get)

	fx.expect.PUT(APIPrefix+"/beneficiaries/1").WithHeader("Authorization", token(t, 7, "caseworker")).
		WithJSON(map[string]string{"first_name": "Augusta", "last_name": "King"}).
		Expect().Status(http.StatusOK)
	fx.expect.GET(APIPrefix+"/beneficiaries/1").WithHeader("Authorization", token(t, 8, "caseworker")).
		Expect().Status(http.StatusOK).JSON().Object().Value("first_name").String().IsEqual("Augusta")
	_, get, _ = fx.store.counts()
	require.Equal(t, 1, get)

	fx.expect.GET(APIPrefix+"/beneficiaries/99").WithHeader("Authorization", token(t, 7, "caseworker")).
		Expect().Status(http.StatusNotFound)
}

func TestCreateValidatesInput(t *testing.T) {
	fx := newRouterFixture(t, nil)
	body := fx.expect.POST(APIPrefix+"/beneficiaries").WithHeader("Authorization", token(t, 7, "caseworker")).
		WithJSON(map[string]string{"first_name": "", "last_name": "X", "email": "nope"}).
		Expect().Status(http.StatusUnprocessableEntity).JSON().Object()
	fields := body.Value("fields").Object()
	fields.ContainsKey("first_name")
	fields.ContainsKey("email")
}

func TestDeleteThenDetailIsNotFound(t *testing.T) {
	fx := newRouterFixture(t, nil)
	bearer := token(t, 7, "caseworker")

	fx.expect.GET(APIPrefix+"/beneficiaries/1").WithHeader("Authorization", bearer).Expect().Status(http.StatusOK)
	fx.expect.DELETE(APIPrefix+"/beneficiaries/1").WithHeader("Authorization", bearer).Expect().Status(http.StatusNoContent)
	fx.expect.GET(APIPrefix+"/beneficiaries/1").WithHeader("Authorization", bearer).Expect().Status(http.StatusNotFound)
	fx.expect.DELETE(APIPrefix+"/beneficiaries/1").WithHeader("Authorization", bearer).Expect().Status(http.StatusNotFound)
}

func TestRelatedListsAreCached(t *testing.T) {
	fx := newRouterFixture(t, nil)
	bearer := token(t, 7, "caseworker")
	fx.expect.GET(APIPrefix+"/beneficiaries/1/appointments").WithHeader("Authorization", bearer).
		Expect().Status(http.StatusOK).JSON().Array().Length().IsEqual(1)
	fx.expect.GET(APIPrefix+"/beneficiaries/1/appointments").WithHeader("Authorization", bearer).
		Expect().Header(cache.HeaderCacheStatus).IsEqual("HIT")
	fx.expect.GET(APIPrefix+"/beneficiaries/1/evaluations").WithHeader("Authorization", bearer).
		Expect().Status(http.StatusOK).Header(cache.HeaderCacheStatus).IsEqual("MISS")
}

func TestProgramsUseRareTier(t *testing.T) {
	fx := newRouterFixture(t, nil)
	bearer := token(t, 7, "caseworker")
	fx.expect.GET(APIPrefix+"/programs/1").WithHeader("Authorization", bearer).
		Expect().Status(http.StatusOK).JSON().Object().Value("name").String().IsEqual("Digital skills")

	admin := token(t, 1, auth.RoleAdmin)
	key, err := cache.Key("program", 1, 1)
	require.NoError(t, err)
	fx.expect.GET("/admin/cache/metadata").WithQuery("key", key).WithHeader("Authorization", admin).
		Expect().Status(http.StatusOK).JSON().Object().Value("policy").String().IsEqual(cache.PolicyRare)

	fx.expect.GET(APIPrefix+"/programs/42").WithHeader("Authorization", bearer).Expect().Status(http.StatusNotFound)
}
