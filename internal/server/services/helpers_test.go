package services

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/cryptox"
	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/server/auth"
	"github.com/dmitrijs2005/gatekeeper/internal/server/config"
	"github.com/dmitrijs2005/gatekeeper/internal/server/directory"
	"github.com/dmitrijs2005/gatekeeper/internal/server/export"
	"github.com/dmitrijs2005/gatekeeper/internal/server/metrics"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gatekeeper/internal/server/secondfactor"
	"github.com/dmitrijs2005/gatekeeper/internal/server/testutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// fakeDirectory keeps entries in memory and checks binds against their
// {SSHA} userPassword.
type fakeDirectory struct {
	mu      sync.Mutex
	entries map[string]directory.Entry

	authErr   error
	addErr    error
	deleteErr error
	onAdd     func()

	binds, adds, deletes int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{entries: map[string]directory.Entry{}}
}

func (f *fakeDirectory) Authenticate(ctx context.Context, dn, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.binds++
	if f.authErr != nil {
		return f.authErr
	}
	e, ok := f.entries[dn]
	if !ok {
		return directory.ErrInvalidCredentials
	}
	if ok, _ := cryptox.VerifySSHA(password, e.Password); !ok {
		return directory.ErrInvalidCredentials
	}
	return nil
}

func (f *fakeDirectory) Add(ctx context.Context, entry directory.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adds++
	if f.onAdd != nil {
		f.onAdd()
	}
	if f.addErr != nil {
		return f.addErr
	}
	if _, ok := f.entries[entry.DN]; ok {
		return directory.ErrEntryExists
	}
	f.entries[entry.DN] = entry
	return nil
}

func (f *fakeDirectory) Delete(ctx context.Context, dn string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.entries[dn]; !ok {
		return directory.ErrNoSuchEntry
	}
	delete(f.entries, dn)
	return nil
}

func (f *fakeDirectory) has(dn string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[dn]
	return ok
}

// fakeSink wraps the LDIF codec around an in-memory document.
type fakeSink struct {
	mu        sync.Mutex
	doc       []byte
	appendErr error
	removeErr error
	calls     int
}

func (f *fakeSink) Append(ctx context.Context, entry directory.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.appendErr != nil {
		return f.appendErr
	}
	doc, err := export.AppendEntry(f.doc, entry)
	if err != nil {
		return err
	}
	f.doc = doc
	return nil
}

func (f *fakeSink) Remove(ctx context.Context, entry directory.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.removeErr != nil {
		return f.removeErr
	}
	doc, err := export.RemoveEntry(f.doc, entry)
	if err != nil {
		return err
	}
	f.doc = doc
	return nil
}

func (f *fakeSink) dns() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, l := range strings.Split(string(f.doc), "\n") {
		if dn, ok := strings.CutPrefix(l, "dn: "); ok {
			out = append(out, dn)
		}
	}
	return out
}

type testEnv struct {
	db      *sql.DB
	repos   repomanager.RepositoryManager
	cfg     *config.Config
	dir     *fakeDirectory
	sink    *fakeSink
	issuer  *auth.Issuer
	metrics *metrics.Metrics

	authn      *AuthenticationService
	second     *SecondFactorService
	prov       *ProvisioningService
	dashboards *DashboardService
}

type envOption func(*testEnv)

func withDirectory() envOption {
	return func(e *testEnv) { e.dir = newFakeDirectory() }
}

func withExport() envOption {
	return func(e *testEnv) { e.sink = &fakeSink{} }
}

func withConfig(fn func(*config.Config)) envOption {
	return func(e *testEnv) { fn(e.cfg) }
}

func newEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	db, repos := testutil.NewSQLite(t)
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.Directory.BaseDN = "dc=example,dc=com"

	e := &testEnv{db: db, repos: repos, cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}

	var b Backends
	if e.dir != nil {
		b.Directory = e.dir
	}
	if e.sink != nil {
		b.Export = e.sink
	}

	log := logging.Nop{}
	e.metrics = metrics.New(prometheus.NewRegistry())
	e.issuer = auth.NewIssuer([]byte("test-secret-0123456789"), time.Hour)
	e.authn = NewAuthenticationService(db, repos, b, e.issuer, cfg, log, e.metrics)
	e.second = NewSecondFactorService(db, repos, e.authn, secondfactor.NewEngine("gatekeeper"), e.issuer, cfg, log, e.metrics)
	e.prov = NewProvisioningService(db, repos, b, cfg, log, e.metrics)
	e.prov.bcryptCost = bcrypt.MinCost
	e.dashboards = NewDashboardService(db, repos, cfg)
	return e
}

func (e *testEnv) mustCreate(t *testing.T, email, username, password, role string) *CreateResult {
	t.Helper()
	res, err := e.prov.Create(context.Background(), CreateRequest{Email: email, Username: username, Password: password, Role: role})
	require.NoError(t, err)
	return res
}

func (e *testEnv) countIdentities(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, e.db.QueryRow(`SELECT COUNT(*) FROM identities`).Scan(&n))
	return n
}
