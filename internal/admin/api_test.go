package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindzen-erp/mindzen/internal/config"
	"github.com/mindzen-erp/mindzen/internal/engine"
	"github.com/mindzen-erp/mindzen/internal/journal"
	"github.com/mindzen-erp/mindzen/internal/kernel"
)

type refusingModule struct{}

func (refusingModule) PreUninstall(context.Context) error {
	return errors.New("open invoices")
}

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()

	catalog := kernel.NewCatalog()
	catalog.Register("crm", func() (kernel.Module, error) { return struct{}{}, nil })
	catalog.Register("sales", func() (kernel.Module, error) { return struct{}{}, nil })
	catalog.Register("finance", func() (kernel.Module, error) { return refusingModule{}, nil })

	source := fstest.MapFS{
		"crm/manifest.json":     {Data: []byte(`{"name": "crm", "version": "1.2.0", "category": "sales"}`)},
		"sales/manifest.json":   {Data: []byte(`{"name": "sales", "depends": ["crm"]}`)},
		"finance/manifest.json": {Data: []byte(`{"name": "finance"}`)},
		"orphan/manifest.json":  {Data: []byte(`{"name": "orphan"}`)},
	}

	eng := engine.New(engine.WithCatalog(catalog), engine.WithSource(source), engine.WithConfig(config.Default()))
	require.NoError(t, eng.Initialize(context.Background(), ""))
	require.NoError(t, eng.DiscoverModules(context.Background()))
	return eng
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestAPI_Health(t *testing.T) {
	h := New(newTestEngine(t)).Router()

	rec := do(t, h, http.MethodGet, "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	body := decode[map[string]interface{}](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["initialized"])
}

func TestAPI_HealthBeforeInitialize(t *testing.T) {
	h := New(engine.New()).Router()

	rec := do(t, h, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPI_ListModules(t *testing.T) {
	eng := newTestEngine(t)
	require.True(t, eng.InstallModule(context.Background(), "crm"))
	h := New(eng).Router()

	rec := do(t, h, http.MethodGet, "/modules")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[ModulesResponse](t, rec)
	require.Len(t, body.Modules, 4)
	assert.Equal(t, "crm", body.Modules[0].Name)
	assert.Equal(t, "1.2.0", body.Modules[0].Version)
	assert.True(t, body.Modules[0].Installed)
	assert.Equal(t, 1, body.Modules[0].Sequence)
	assert.Equal(t, "sales", body.Modules[3].Name)
	assert.False(t, body.Modules[3].Installed)
	assert.Equal(t, []string{"crm"}, body.Modules[3].Depends)
	assert.Equal(t, []string{"crm"}, body.Installed)
}

func TestAPI_InstallModule(t *testing.T) {
	h := New(newTestEngine(t)).Router()

	rec := do(t, h, http.MethodPost, "/modules/sales/install")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"crm", "sales"}, decode[ModulesResponse](t, rec).Installed)
}

func TestAPI_InstallErrors(t *testing.T) {
	h := New(newTestEngine(t)).Router()

	rec := do(t, h, http.MethodPost, "/modules/payroll/install")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, "error", body.Error)
	assert.Equal(t, "module_not_found", body.Code)
	assert.Contains(t, body.Message, "payroll")

	rec = do(t, h, http.MethodPost, "/modules/orphan/install")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "install_failed", decode[ErrorResponse](t, rec).Code)
}

func TestAPI_UninstallModule(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	require.True(t, eng.InstallModule(ctx, "sales"))
	require.True(t, eng.InstallModule(ctx, "finance"))
	h := New(eng).Router()

	rec := do(t, h, http.MethodDelete, "/modules/crm")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "uninstall_failed", decode[ErrorResponse](t, rec).Code)

	rec = do(t, h, http.MethodDelete, "/modules/finance")
	assert.Equal(t, http.StatusConflict, rec.Code, "pre-uninstall refuses")

	rec = do(t, h, http.MethodDelete, "/modules/sales")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"crm", "finance"}, decode[ModulesResponse](t, rec).Installed)

	rec = do(t, h, http.MethodDelete, "/modules/sales")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "module_not_installed", decode[ErrorResponse](t, rec).Code)
}

func TestAPI_Journal(t *testing.T) {
	eng := newTestEngine(t)
	sink, err := journal.NewSQLiteSink(context.Background(), ":memory:")
	require.NoError(t, err)
	defer sink.Close()
	require.NoError(t, journal.NewRecorder(sink).Attach(eng.Events()))

	h := New(eng, WithJournal(sink)).Router()
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/modules/sales/install").Code)

	rec := do(t, h, http.MethodGet, "/journal")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string][]journal.Entry](t, rec)
	require.Len(t, body["entries"], 2)
	assert.Equal(t, "sales", body["entries"][0].Module)
	assert.Equal(t, "crm", body["entries"][1].Module)

	rec = do(t, h, http.MethodGet, "/journal?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]journal.Entry](t, rec)["entries"], 1)

	rec = do(t, h, http.MethodGet, "/journal?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad_request", decode[ErrorResponse](t, rec).Code)
}

func TestAPI_JournalDisabled(t *testing.T) {
	h := New(newTestEngine(t)).Router()

	rec := do(t, h, http.MethodGet, "/journal")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "journal_disabled", decode[ErrorResponse](t, rec).Code)
}

func TestAPI_UnknownRoutes(t *testing.T) {
	h := New(newTestEngine(t)).Router()

	rec := do(t, h, http.MethodGet, "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[ErrorResponse](t, rec).Code)

	rec = do(t, h, http.MethodPut, "/healthz")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAPI_PanicBecomesInternalError(t *testing.T) {
	// AvailableModules panics on an uninitialized engine
	h := New(engine.New()).Router()

	rec := do(t, h, http.MethodGet, "/modules")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", decode[ErrorResponse](t, rec).Code)
}
