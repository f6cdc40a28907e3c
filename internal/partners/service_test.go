package partners

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partnerportal/portal/internal/fga"
	"github.com/partnerportal/portal/internal/identity"
	"github.com/partnerportal/portal/internal/policy"
	"github.com/partnerportal/portal/internal/shared"
)

const platformID = "test-platform"

type memRepo struct {
	mu    sync.Mutex
	items map[string]Partner
}

func newMemRepo() *memRepo { return &memRepo{items: map[string]Partner{}} }

func (r *memRepo) Create(_ context.Context, p Partner) (Partner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.items {
		if existing.Slug == p.Slug {
			return Partner{}, ErrDuplicateSlug
		}
	}
	p.ID = uuid.NewString()
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	r.items[p.ID] = p
	return p, nil
}

func (r *memRepo) Get(_ context.Context, id string) (Partner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.items[id]
	if !ok {
		return Partner{}, ErrNotFound
	}
	return p, nil
}

func (r *memRepo) List(_ context.Context, f ListFilter) ([]Partner, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	allowed := map[string]bool{}
	for _, id := range f.IDs {
		allowed[id] = true
	}
	var out []Partner
	for _, p := range r.items {
		if !f.All && !allowed[p.ID] {
			continue
		}
		if f.Type != "" && p.Type != f.Type {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, len(out), nil
}

func (r *memRepo) Update(_ context.Context, p Partner) (Partner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[p.ID]; !ok {
		return Partner{}, ErrNotFound
	}
	r.items[p.ID] = p
	return p, nil
}

func (r *memRepo) SetOrgID(_ context.Context, id, orgID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.items[id]
	p.Auth0OrgID = orgID
	r.items[id] = p
	return nil
}

type stubDirectory struct {
	identity.NoopDirectory
	orgErr error
}

func (d stubDirectory) CreateOrganization(_ context.Context, name, _ string) (string, error) {
	if d.orgErr != nil {
		return "", d.orgErr
	}
	return "org_" + name, nil
}

type memAudit struct {
	mu      sync.Mutex
	entries []shared.AuditLog
}

func (a *memAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, log)
	return nil
}

type memIdempotency struct {
	seen map[string]bool
}

func (m *memIdempotency) CheckAndInsert(_ context.Context, key, module string) error {
	if key == "" {
		return nil
	}
	if m.seen[module+key] {
		return shared.ErrIdempotencyConflict
	}
	m.seen[module+key] = true
	return nil
}

func (m *memIdempotency) Release(_ context.Context, key, module string) error {
	delete(m.seen, module+key)
	return nil
}

type fixture struct {
	repo    *memRepo
	mem     *fga.Memory
	audit   *memAudit
	service *Service
	router  chi.Router
}

func newFixture(t *testing.T, dir identity.Directory) *fixture {
	t.Helper()
	mem := fga.NewMemory(nil)
	require.NoError(t, mem.WriteTuple(context.Background(), fga.TupleKey{
		User: fga.User("root"), Relation: fga.RelationSuperAdmin, Object: fga.Object(fga.TypePlatform, platformID),
	}))
	ev := policy.NewEvaluator(mem, platformID, nil)
	repo := newMemRepo()
	audit := &memAudit{}
	svc := NewService(repo, ev, dir, audit, &memIdempotency{seen: map[string]bool{}}, nil)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if id := req.Header.Get("X-Test-User"); id != "" {
				req = req.WithContext(shared.ContextWithPrincipal(req.Context(), shared.Principal{ID: id}))
			}
			next.ServeHTTP(w, req)
		})
	})
	NewHandler(nil, svc, policy.Middleware{Evaluator: ev}).MountRoutes(r)
	return &fixture{repo: repo, mem: mem, audit: audit, service: svc, router: r}
}

func (f *fixture) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) grant(t *testing.T, user, relation, partnerID string) {
	t.Helper()
	require.NoError(t, f.mem.WriteTuple(context.Background(), fga.MembershipTuple(user, relation, partnerID)))
}

func TestCreateRequiresSuperAdmin(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/partners", "alice", CreateInput{Name: "Acme", Type: "technology"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/partners", "root", CreateInput{Name: "Acme Corp", Type: "technology"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created Partner
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "acme-corp", created.Slug)
	assert.Equal(t, StatusActive, created.Status)
	assert.Empty(t, created.Auth0OrgID)
	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, "partner.created", f.audit.entries[0].Action)
}

func TestCreateStoresOrganization(t *testing.T) {
	f := newFixture(t, stubDirectory{})
	p, err := f.service.Create(context.Background(), shared.Principal{ID: "root"}, CreateInput{Name: "Beat Lab", Type: "artist"}, "")
	require.NoError(t, err)
	assert.Equal(t, "org_beat-lab", p.Auth0OrgID)

	stored, err := f.repo.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "org_beat-lab", stored.Auth0OrgID)
}

func TestCreateSurvivesDirectoryFailure(t *testing.T) {
	f := newFixture(t, stubDirectory{orgErr: errors.New("auth0 down")})
	p, err := f.service.Create(context.Background(), shared.Principal{ID: "root"}, CreateInput{Name: "Gears", Type: "manufacturing"}, "")
	require.NoError(t, err)
	assert.Empty(t, p.Auth0OrgID)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/partners", "root", CreateInput{Name: "X", Type: "technology"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPost, "/partners", "root", CreateInput{Name: "Valid Name", Type: "bakery"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPost, "/partners", "root", map[string]any{"name": "Acme", "type": "artist", "extra": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateDuplicateAndIdempotency(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	root := shared.Principal{ID: "root"}

	_, err := f.service.Create(ctx, root, CreateInput{Name: "Acme", Type: "technology"}, "key-1")
	require.NoError(t, err)
	_, err = f.service.Create(ctx, root, CreateInput{Name: "Other", Type: "technology"}, "key-1")
	assert.ErrorIs(t, err, shared.ErrIdempotencyConflict)

	_, err = f.service.Create(ctx, root, CreateInput{Name: "ACME", Type: "artist"}, "key-2")
	assert.ErrorIs(t, err, shared.ErrDuplicate)
	// the failed request released its key
	_, err = f.service.Create(ctx, root, CreateInput{Name: "Acme Two", Type: "artist"}, "key-2")
	assert.NoError(t, err)
}

func TestListShowsOnlyVisiblePartners(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	root := shared.Principal{ID: "root"}
	a, err := f.service.Create(ctx, root, CreateInput{Name: "Alpha", Type: "technology"}, "")
	require.NoError(t, err)
	_, err = f.service.Create(ctx, root, CreateInput{Name: "Bravo", Type: "artist"}, "")
	require.NoError(t, err)
	f.grant(t, "alice", fga.RelationCanView, a.ID)

	rec := f.do(t, http.MethodGet, "/partners", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Partners, 1)
	assert.Equal(t, a.ID, body.Partners[0].ID)
	assert.Equal(t, 1, body.Pagination.Total)

	rec = f.do(t, http.MethodGet, "/partners", "root", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Partners, 2)

	rec = f.do(t, http.MethodGet, "/partners?type=artist", "root", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Partners, 1)
	assert.Equal(t, "Bravo", body.Partners[0].Name)

	rec = f.do(t, http.MethodGet, "/partners", "nobody", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotNil(t, body.Partners)
	assert.Empty(t, body.Partners)
}

func TestShowRequiresView(t *testing.T) {
	f := newFixture(t, nil)
	p, err := f.service.Create(context.Background(), shared.Principal{ID: "root"}, CreateInput{Name: "Alpha", Type: "technology"}, "")
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/partners/"+p.ID, "", nil).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/partners/"+p.ID, "bob", nil).Code)
	f.grant(t, "bob", fga.RelationCanView, p.ID)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/partners/"+p.ID, "bob", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/partners/"+uuid.NewString(), "root", nil).Code)
}

func TestUpdateRequiresAdmin(t *testing.T) {
	f := newFixture(t, nil)
	p, err := f.service.Create(context.Background(), shared.Principal{ID: "root"}, CreateInput{Name: "Alpha", Type: "technology"}, "")
	require.NoError(t, err)
	f.grant(t, "mgr", fga.RelationCanManageMembers, p.ID)
	f.grant(t, "adm", fga.RelationCanAdmin, p.ID)

	name := "Alpha Prime"
	rec := f.do(t, http.MethodPut, "/partners/"+p.ID, "mgr", UpdateInput{Name: &name})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPut, "/partners/"+p.ID, "adm", UpdateInput{Name: &name})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated Partner
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "alpha-prime", updated.Slug)

	status := string(StatusInactive)
	rec = f.do(t, http.MethodPut, "/partners/"+p.ID, "adm", UpdateInput{Status: &status})
	assert.Equal(t, http.StatusForbidden, rec.Code, "only super admins change status")
}

func TestTypeChangeRequiresSuperAdmin(t *testing.T) {
	f := newFixture(t, nil)
	p, err := f.service.Create(context.Background(), shared.Principal{ID: "root"}, CreateInput{Name: "Alpha", Type: "technology"}, "")
	require.NoError(t, err)
	f.grant(t, "adm", fga.RelationCanAdmin, p.ID)

	supplier := string(TypeMerchSupplier)
	rec := f.do(t, http.MethodPut, "/partners/"+p.ID, "adm", UpdateInput{Type: &supplier})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	got, err := f.service.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, TypeTechnology, got.Type)

	same := string(TypeTechnology)
	rec = f.do(t, http.MethodPut, "/partners/"+p.ID, "adm", UpdateInput{Type: &same})
	assert.Equal(t, http.StatusOK, rec.Code, "unchanged type is allowed")

	rec = f.do(t, http.MethodPut, "/partners/"+p.ID, "root", UpdateInput{Type: &supplier})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got, err = f.service.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, TypeMerchSupplier, got.Type)
}

func TestDeactivateKeepsMemberships(t *testing.T) {
	f := newFixture(t, nil)
	p, err := f.service.Create(context.Background(), shared.Principal{ID: "root"}, CreateInput{Name: "Alpha", Type: "technology"}, "")
	require.NoError(t, err)
	f.grant(t, "adm", fga.RelationCanAdmin, p.ID)

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodDelete, "/partners/"+p.ID, "adm", nil).Code)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/partners/"+p.ID, "root", nil).Code)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/partners/"+p.ID, "root", nil).Code)

	stored, err := f.repo.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInactive, stored.Status)
	ok, err := f.mem.Check(context.Background(), fga.MembershipTuple("adm", fga.RelationCanAdmin, p.ID))
	require.NoError(t, err)
	assert.True(t, ok)

	var found bool
	for _, e := range f.audit.entries {
		found = found || strings.HasSuffix(e.Action, "deactivated")
	}
	assert.True(t, found)
}
